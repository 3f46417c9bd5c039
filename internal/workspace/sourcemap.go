package workspace

// Segment maps the byte range [Offset, Offset+Length) of a document onto
// [0, Length) of a caller-supplied buffer or file named Origin. Document text
// not covered by any segment is synthetic.
type Segment struct {
	Document string
	Offset   int
	Length   int
	Origin   string
	File     bool
}

func (s Segment) End() int {
	return s.Offset + s.Length
}

// Contains reports whether off falls inside the segment; the end offset is
// inclusive so that positions just past the last character still resolve.
func (s Segment) Contains(off int) bool {
	return off >= s.Offset && off <= s.End()
}

// SourceMap is the offset translation table built while assembling documents.
type SourceMap struct {
	segments []Segment
}

func (m *SourceMap) add(seg Segment) {
	m.segments = append(m.segments, seg)
}

// Segments returns the segments of one document in document order.
func (m SourceMap) Segments(document string) []Segment {
	var out []Segment
	for _, seg := range m.segments {
		if seg.Document == document {
			out = append(out, seg)
		}
	}
	return out
}

// Origin returns the segment that carries the given buffer or file.
func (m SourceMap) Origin(origin string) (Segment, bool) {
	for _, seg := range m.segments {
		if seg.Origin == origin {
			return seg, true
		}
	}
	return Segment{}, false
}

// ToDocument translates a byte offset inside a buffer into document
// coordinates.
func (m SourceMap) ToDocument(origin string, off int) (string, int, bool) {
	seg, ok := m.Origin(origin)
	if !ok || off < 0 || off > seg.Length {
		return "", 0, false
	}
	return seg.Document, seg.Offset + off, true
}
