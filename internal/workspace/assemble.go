package workspace

import (
	"fmt"
	"strings"
)

// Document is one compilation unit handed to the toolchain.
type Document struct {
	Name string
	Text string
}

// Frame is the synthetic scaffolding a toolchain wraps around script-mode
// buffers. Buffers are joined with Separator inside one document.
type Frame struct {
	Document  string
	Prologue  string
	Separator string
	Epilogue  string
}

type Framer interface {
	Frame(usings []string, sources []string) Frame
}

// Assembly is a workspace laid out as toolchain documents together with the
// table that maps document offsets back to the caller's buffers.
type Assembly struct {
	Workspace Workspace
	Documents []Document
	Map       SourceMap
}

func Assemble(ws Workspace, framer Framer) (Assembly, error) {
	asm := Assembly{Workspace: ws}

	if ws.Type.IsScript() {
		sources := make([]string, len(ws.Buffers))
		for i, buf := range ws.Buffers {
			sources[i] = buf.Content
		}
		frame := framer.Frame(ws.Usings, sources)

		var b strings.Builder
		b.WriteString(frame.Prologue)
		for i, buf := range ws.Buffers {
			if i > 0 {
				b.WriteString(frame.Separator)
			}
			asm.Map.add(Segment{
				Document: frame.Document,
				Offset:   b.Len(),
				Length:   len(buf.Content),
				Origin:   buf.ID,
			})
			b.WriteString(buf.Content)
		}
		b.WriteString(frame.Epilogue)
		asm.Documents = append(asm.Documents, Document{Name: frame.Document, Text: b.String()})
	} else {
		for i, buf := range ws.Buffers {
			name := DocumentName(buf.ID, i)
			asm.Map.add(Segment{Document: name, Length: len(buf.Content), Origin: buf.ID})
			asm.Documents = append(asm.Documents, Document{Name: name, Text: buf.Content})
		}
	}

	for _, file := range ws.Files {
		asm.Map.add(Segment{Document: file.Name, Length: len(file.Text), Origin: file.Name, File: true})
		asm.Documents = append(asm.Documents, Document{Name: file.Name, Text: file.Text})
	}

	seen := make(map[string]struct{}, len(asm.Documents))
	for _, doc := range asm.Documents {
		if _, dup := seen[doc.Name]; dup {
			return Assembly{}, malformed("document name %q is used more than once", doc.Name)
		}
		seen[doc.Name] = struct{}{}
	}
	return asm, nil
}

// DocumentName names the program-mode document for a buffer. Unnamed buffers
// get a positional name.
func DocumentName(id string, index int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("buffer%d", index)
}

// Text returns the original text of a buffer or file.
func (a Assembly) Text(origin string) (string, bool) {
	if buf, ok := a.Workspace.Buffer(origin); ok {
		return buf.Content, true
	}
	for _, file := range a.Workspace.Files {
		if file.Name == origin {
			return file.Text, true
		}
	}
	return "", false
}
