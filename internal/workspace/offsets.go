package workspace

import "unicode/utf8"

// Callers address text in characters (Unicode code points); the toolchain
// reports byte offsets. These helpers convert between the two.

func CharLen(s string) int {
	return utf8.RuneCountInString(s)
}

// ByteOffset converts a character offset into a byte offset. The end of the
// text is a valid offset.
func ByteOffset(s string, char int) (int, bool) {
	if char < 0 {
		return 0, false
	}
	n := 0
	for i := range s {
		if n == char {
			return i, true
		}
		n++
	}
	if n == char {
		return len(s), true
	}
	return 0, false
}

// CharOffset converts a byte offset into a character offset. Offsets inside
// an encoded character round up to the next character boundary.
func CharOffset(s string, b int) int {
	if b <= 0 {
		return 0
	}
	if b >= len(s) {
		return utf8.RuneCountInString(s)
	}
	n := 0
	for i := range s {
		if i >= b {
			break
		}
		n++
	}
	return n
}
