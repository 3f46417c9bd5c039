// Package workspace holds the canonical request model shared by the run and
// completion paths: buffers, auxiliary files, imports and the compilation mode.
package workspace

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRequest marks payloads that cannot be turned into a Workspace.
// It is always a client error.
var ErrMalformedRequest = errors.New("malformed request")

type Kind string

const (
	// KindScript accepts bare statements without an enclosing program.
	KindScript Kind = "script"
	// KindConsole requires each buffer to be a complete program unit.
	KindConsole Kind = "console"
)

func (k Kind) IsScript() bool {
	return k == KindScript
}

func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(KindScript):
		return KindScript, nil
	case string(KindConsole):
		return KindConsole, nil
	default:
		return "", malformed("unsupported workspace type %q", raw)
	}
}

// Buffer is one caller-supplied source text. Position, when set, is a
// character offset into Content.
type Buffer struct {
	ID       string
	Content  string
	Position *int
}

// File is an auxiliary compilation unit compiled verbatim in every mode.
type File struct {
	Name string
	Text string
}

type Workspace struct {
	Type    Kind
	Buffers []Buffer
	Files   []File
	Usings  []string
}

// Entry returns the buffer carrying a cursor position, if any.
func (w Workspace) Entry() (Buffer, bool) {
	for _, buf := range w.Buffers {
		if buf.Position != nil {
			return buf, true
		}
	}
	return Buffer{}, false
}

// Buffer looks up a buffer by identifier.
func (w Workspace) Buffer(id string) (Buffer, bool) {
	for _, buf := range w.Buffers {
		if buf.ID == id {
			return buf, true
		}
	}
	return Buffer{}, false
}

func (w Workspace) Validate() error {
	if w.Type != KindScript && w.Type != KindConsole {
		return malformed("unsupported workspace type %q", w.Type)
	}
	if len(w.Buffers) == 0 {
		return malformed("workspace has no buffers")
	}

	names := make(map[string]struct{}, len(w.Buffers)+len(w.Files))
	positioned := 0
	for _, buf := range w.Buffers {
		if buf.ID == "" && len(w.Buffers) > 1 {
			return malformed("buffer id is required when more than one buffer is supplied")
		}
		if _, dup := names[buf.ID]; dup {
			return malformed("duplicate buffer id %q", buf.ID)
		}
		names[buf.ID] = struct{}{}
		if buf.Position != nil {
			if *buf.Position < 0 {
				return malformed("buffer %q has a negative position", buf.ID)
			}
			positioned++
		}
	}
	if positioned > 1 {
		return malformed("only one buffer may carry a position")
	}

	for _, file := range w.Files {
		if strings.TrimSpace(file.Name) == "" {
			return malformed("file name is required")
		}
		if _, dup := names[file.Name]; dup {
			return malformed("duplicate file name %q", file.Name)
		}
		names[file.Name] = struct{}{}
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedRequest}, args...)...)
}
