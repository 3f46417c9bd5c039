// Package diagnostics translates toolchain diagnostics from document
// coordinates back into the caller's buffers.
package diagnostics

import (
	"github.com/alexdev-tb/snippet-runner/internal/toolchain"
	"github.com/alexdev-tb/snippet-runner/internal/workspace"
)

// Diagnostic is a compiler finding in caller coordinates. Start and End are
// character offsets into the buffer (or file) named by BufferID and always
// satisfy 0 <= Start <= End <= length of that text.
//
// Attributable is false when the finding came from synthetic scaffolding and
// was anchored at the nearest caller text instead.
type Diagnostic struct {
	Start        int    `json:"Start"`
	End          int    `json:"End"`
	Message      string `json:"Message"`
	ID           string `json:"Id"`
	Severity     string `json:"Severity"`
	BufferID     string `json:"BufferId"`
	Attributable bool   `json:"Attributable"`
}

// Map translates every diagnostic, preserving order.
func Map(raw []toolchain.Diagnostic, asm workspace.Assembly) []Diagnostic {
	out := make([]Diagnostic, 0, len(raw))
	for _, d := range raw {
		out = append(out, mapOne(d, asm))
	}
	return out
}

func mapOne(d toolchain.Diagnostic, asm workspace.Assembly) Diagnostic {
	mapped := Diagnostic{
		Message:  d.Message,
		ID:       d.Code,
		Severity: string(d.Severity),
	}

	start, end := d.Start, d.End
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}

	seg, s, e, attributable, ok := locate(asm.Map.Segments(d.Document), start, end)
	if !ok {
		mapped.BufferID = fallbackOrigin(asm.Workspace)
		return mapped
	}

	text, _ := asm.Text(seg.Origin)
	mapped.BufferID = seg.Origin
	mapped.Start = workspace.CharOffset(text, s)
	mapped.End = workspace.CharOffset(text, e)
	mapped.Attributable = attributable
	return mapped
}

// locate finds the segment a document span belongs to and returns the span
// in segment-relative byte offsets.
func locate(segs []workspace.Segment, start, end int) (workspace.Segment, int, int, bool, bool) {
	for _, seg := range segs {
		if seg.Contains(start) {
			return seg, start - seg.Offset, min(end, seg.End()) - seg.Offset, true, true
		}
	}

	// Starts in scaffolding but reaches into caller text: clip to the text.
	for _, seg := range segs {
		if start < seg.Offset && end > seg.Offset {
			return seg, 0, min(end, seg.End()) - seg.Offset, true, true
		}
	}

	// Scaffolding only: anchor at the end of the preceding caller text, or at
	// the start of the following one.
	var prev *workspace.Segment
	for i := range segs {
		if segs[i].End() <= start {
			prev = &segs[i]
		}
	}
	if prev != nil {
		return *prev, prev.Length, prev.Length, false, true
	}
	if len(segs) > 0 {
		return segs[0], 0, 0, false, true
	}
	return workspace.Segment{}, 0, 0, false, false
}

func fallbackOrigin(ws workspace.Workspace) string {
	if entry, ok := ws.Entry(); ok {
		return entry.ID
	}
	if len(ws.Buffers) > 0 {
		return ws.Buffers[0].ID
	}
	return ""
}
