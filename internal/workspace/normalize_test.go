package workspace

import (
	"errors"
	"testing"
)

func TestNormalizeShapes(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		kind     Kind
		buffers  int
		content  string
		position *int
	}{
		{
			name:    "buffer",
			body:    `{"Buffer": "Console.WriteLine(1)"}`,
			kind:    KindScript,
			buffers: 1,
			content: "Console.WriteLine(1)",
		},
		{
			name:     "source with position",
			body:     `{"Source": "Console.", "Position": 8}`,
			kind:     KindScript,
			buffers:  1,
			content:  "Console.",
			position: intPtr(8),
		},
		{
			name:    "workspace",
			body:    `{"WorkspaceType": "Console", "Buffers": [{"Id": "a.go", "Content": "package main"}, {"Id": "b.go", "Content": "", "Position": 0}]}`,
			kind:    KindConsole,
			buffers: 2,
			content: "package main",
		},
		{
			name:    "lower case keys",
			body:    `{"buffers": [{"id": "x", "content": "1"}], "workspacetype": "script"}`,
			kind:    KindScript,
			buffers: 1,
			content: "1",
		},
		{
			name:    "null position is absent",
			body:    `{"Source": "x", "Position": null}`,
			kind:    KindScript,
			buffers: 1,
			content: "x",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ws, err := Normalize([]byte(tc.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ws.Type != tc.kind {
				t.Fatalf("expected kind %q, got %q", tc.kind, ws.Type)
			}
			if len(ws.Buffers) != tc.buffers {
				t.Fatalf("expected %d buffers, got %d", tc.buffers, len(ws.Buffers))
			}
			first := ws.Buffers[0]
			if first.Content != tc.content {
				t.Fatalf("expected content %q, got %q", tc.content, first.Content)
			}
			if (tc.position == nil) != (first.Position == nil) {
				t.Fatalf("expected position %v, got %v", tc.position, first.Position)
			}
			if tc.position != nil && *tc.position != *first.Position {
				t.Fatalf("expected position %d, got %d", *tc.position, *first.Position)
			}
		})
	}
}

func TestNormalizeUsingsAndFiles(t *testing.T) {
	body := `{
		"Buffers": [{"Id": "main", "Content": "fmt.Println(helper())"}],
		"Usings": ["fmt", "  ", "strings"],
		"Files": [{"Name": "helper.go", "Text": "package main\nfunc helper() int { return 1 }"}]
	}`

	ws, err := Normalize([]byte(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ws.Usings) != 2 || ws.Usings[0] != "fmt" || ws.Usings[1] != "strings" {
		t.Fatalf("unexpected usings: %v", ws.Usings)
	}
	if len(ws.Files) != 1 || ws.Files[0].Name != "helper.go" {
		t.Fatalf("unexpected files: %+v", ws.Files)
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "empty object", body: `{}`},
		{name: "truncated", body: `{`},
		{name: "empty body", body: ``},
		{name: "bare string", body: `"garbage"`},
		{name: "not json", body: `garbage`},
		{name: "array", body: `[]`},
		{name: "buffer not string", body: `{"Buffer": 42}`},
		{name: "fractional position", body: `{"Source": "x", "Position": 1.5}`},
		{name: "string position", body: `{"Source": "x", "Position": "1"}`},
		{name: "negative position", body: `{"Source": "x", "Position": -1}`},
		{name: "negative buffer position", body: `{"Buffers": [{"Id": "a", "Content": "x", "Position": -5}]}`},
		{name: "buffers not array", body: `{"Buffers": "x"}`},
		{name: "empty buffers", body: `{"Buffers": []}`},
		{name: "buffer entry not object", body: `{"Buffers": ["x"]}`},
		{name: "missing ids", body: `{"Buffers": [{"Content": "a"}, {"Content": "b"}]}`},
		{name: "duplicate ids", body: `{"Buffers": [{"Id": "a"}, {"Id": "a"}]}`},
		{name: "two positions", body: `{"Buffers": [{"Id": "a", "Position": 0}, {"Id": "b", "Position": 0}]}`},
		{name: "unknown type", body: `{"Buffer": "x", "WorkspaceType": "notebook"}`},
		{name: "usings not strings", body: `{"Buffers": [{"Id": "a"}], "Usings": [1]}`},
		{name: "file without name", body: `{"Buffers": [{"Id": "a"}], "Files": [{"Text": "x"}]}`},
		{name: "file shadows buffer", body: `{"Buffers": [{"Id": "a"}], "Files": [{"Name": "a", "Text": "x"}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize([]byte(tc.body))
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !errors.Is(err, ErrMalformedRequest) {
				t.Fatalf("expected ErrMalformedRequest, got %v", err)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, raw := range []string{"", "script", "Script", " SCRIPT "} {
		if kind, err := ParseKind(raw); err != nil || kind != KindScript {
			t.Fatalf("ParseKind(%q): expected script, got %q, %v", raw, kind, err)
		}
	}
	if kind, err := ParseKind("console"); err != nil || kind != KindConsole {
		t.Fatalf("expected console, got %q, %v", kind, err)
	}
}

func intPtr(n int) *int { return &n }
