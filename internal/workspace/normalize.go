package workspace

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// Normalize turns one of the accepted request shapes into a Workspace:
//
//	{"Buffer": "..."}
//	{"Source": "...", "Position": 8}
//	{"Buffers": [{"Id", "Content", "Position"}], "Usings": [...], "WorkspaceType": "...", "Files": [{"Name", "Text"}]}
//
// Field names are matched case-insensitively. Every failure wraps
// ErrMalformedRequest.
func Normalize(body []byte) (Workspace, error) {
	if !gjson.ValidBytes(body) {
		return Workspace{}, malformed("invalid JSON payload")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Workspace{}, malformed("payload must be a JSON object")
	}

	fields := foldKeys(root)

	kindField, err := optionalString(fields["workspacetype"], "WorkspaceType")
	if err != nil {
		return Workspace{}, err
	}
	kind, err := ParseKind(kindField)
	if err != nil {
		return Workspace{}, err
	}

	var ws Workspace
	switch {
	case present(fields["buffers"]):
		ws, err = parseWorkspace(fields)
	case present(fields["buffer"]):
		var content string
		content, err = requiredString(fields["buffer"], "Buffer")
		ws = Workspace{Buffers: []Buffer{{Content: content}}}
	case present(fields["source"]):
		var content string
		var pos *int
		if content, err = requiredString(fields["source"], "Source"); err != nil {
			break
		}
		pos, err = optionalPosition(fields["position"], "Position")
		ws = Workspace{Buffers: []Buffer{{Content: content, Position: pos}}}
	default:
		return Workspace{}, malformed("payload has no Buffer, Source or Buffers field")
	}
	if err != nil {
		return Workspace{}, err
	}

	ws.Type = kind
	if err := ws.Validate(); err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

func parseWorkspace(fields map[string]gjson.Result) (Workspace, error) {
	rawBuffers := fields["buffers"]
	if !rawBuffers.IsArray() {
		return Workspace{}, malformed("Buffers must be an array")
	}

	var ws Workspace
	for i, item := range rawBuffers.Array() {
		if !item.IsObject() {
			return Workspace{}, malformed("Buffers[%d] must be an object", i)
		}
		entry := foldKeys(item)
		id, err := optionalString(entry["id"], "Buffers.Id")
		if err != nil {
			return Workspace{}, err
		}
		content, err := optionalString(entry["content"], "Buffers.Content")
		if err != nil {
			return Workspace{}, err
		}
		pos, err := optionalPosition(entry["position"], "Buffers.Position")
		if err != nil {
			return Workspace{}, err
		}
		ws.Buffers = append(ws.Buffers, Buffer{ID: id, Content: content, Position: pos})
	}

	if usings := fields["usings"]; present(usings) {
		if !usings.IsArray() {
			return Workspace{}, malformed("Usings must be an array")
		}
		for _, item := range usings.Array() {
			if item.Type != gjson.String {
				return Workspace{}, malformed("Usings entries must be strings")
			}
			if using := strings.TrimSpace(item.Str); using != "" {
				ws.Usings = append(ws.Usings, using)
			}
		}
	}

	if files := fields["files"]; present(files) {
		if !files.IsArray() {
			return Workspace{}, malformed("Files must be an array")
		}
		for i, item := range files.Array() {
			if !item.IsObject() {
				return Workspace{}, malformed("Files[%d] must be an object", i)
			}
			entry := foldKeys(item)
			name, err := requiredString(entry["name"], "Files.Name")
			if err != nil {
				return Workspace{}, err
			}
			text, err := optionalString(entry["text"], "Files.Text")
			if err != nil {
				return Workspace{}, err
			}
			ws.Files = append(ws.Files, File{Name: name, Text: text})
		}
	}

	return ws, nil
}

func foldKeys(obj gjson.Result) map[string]gjson.Result {
	fields := make(map[string]gjson.Result)
	obj.ForEach(func(key, value gjson.Result) bool {
		fields[strings.ToLower(key.String())] = value
		return true
	})
	return fields
}

// present treats explicit nulls as absent fields.
func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

func requiredString(r gjson.Result, name string) (string, error) {
	if !present(r) {
		return "", malformed("%s is required", name)
	}
	if r.Type != gjson.String {
		return "", malformed("%s must be a string", name)
	}
	return r.Str, nil
}

func optionalString(r gjson.Result, name string) (string, error) {
	if !present(r) {
		return "", nil
	}
	return requiredString(r, name)
}

func optionalPosition(r gjson.Result, name string) (*int, error) {
	if !present(r) {
		return nil, nil
	}
	if r.Type != gjson.Number || r.Num != math.Trunc(r.Num) {
		return nil, malformed("%s must be an integer", name)
	}
	if r.Num < 0 {
		return nil, malformed("%s must not be negative", name)
	}
	if r.Num > math.MaxInt32 {
		return nil, malformed("%s is out of range", name)
	}
	pos := int(r.Num)
	return &pos, nil
}
