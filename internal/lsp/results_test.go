package lsp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRenameResult(t *testing.T) {
	raw := json.RawMessage(`{
		"changes": {
			"file:///a.swift": [
				{"range": {"start": {"line": 1, "character": 2}, "end": {"line": 1, "character": 5}}, "newText": "foo"}
			]
		}
	}`)

	edits, err := parseRenameResult(raw)
	require.NoError(t, err)
	require.Len(t, edits, 1)

	list, ok := edits["file:///a.swift"]
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "foo", list[0].NewText)
	assert.Equal(t, Position{Line: 1, Character: 2}, list[0].Range.Start)
	assert.Equal(t, Position{Line: 1, Character: 5}, list[0].Range.End)
}

func TestParseRenameResultMultipleFiles(t *testing.T) {
	raw := json.RawMessage(`{
		"changes": {
			"file:///a.swift": [
				{"range": {"start": {"line": 0, "character": 0}, "end": {"line": 0, "character": 3}}, "newText": "x"},
				{"range": {"start": {"line": 4, "character": 0}, "end": {"line": 4, "character": 3}}, "newText": "x"}
			],
			"file:///b.swift": [
				{"range": {"start": {"line": 9, "character": 1}, "end": {"line": 9, "character": 4}}, "newText": "x"}
			]
		}
	}`)

	edits, err := parseRenameResult(raw)
	require.NoError(t, err)
	assert.Len(t, edits, 2)
	assert.Len(t, edits["file:///a.swift"], 2)
	assert.Len(t, edits["file:///b.swift"], 1)
}

func TestParseRenameResultShapeViolations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not an object", `[1,2,3]`},
		{"missing changes", `{"documentChanges": []}`},
		{"changes not object", `{"changes": [1]}`},
		{"edits not array", `{"changes": {"file:///a.swift": {}}}`},
		{"edit missing newText", `{"changes": {"file:///a.swift": [{"range": {"start":{"line":0,"character":0},"end":{"line":0,"character":0}}}]}}`},
		{"edit missing range", `{"changes": {"file:///a.swift": [{"newText": "foo"}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRenameResult(json.RawMessage(tt.raw))
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr, "expected protocol error, got %v", err)
		})
	}
}

func TestParseWorkspaceSymbolResultNull(t *testing.T) {
	syms, err := parseWorkspaceSymbolResult(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.NotNil(t, syms)
	assert.Empty(t, syms)
}

func TestParseWorkspaceSymbolResult(t *testing.T) {
	raw := json.RawMessage(`[
		{
			"name": "AppDelegate",
			"kind": 5,
			"location": {
				"uri": "file:///App.swift",
				"range": {"start": {"line": 3, "character": 6}, "end": {"line": 3, "character": 17}}
			},
			"containerName": "App",
			"tags": [1],
			"data": {"token": 99}
		},
		{
			"name": "main",
			"kind": 12,
			"location": {"uri": "file:///main.swift"}
		}
	]`)

	syms, err := parseWorkspaceSymbolResult(raw)
	require.NoError(t, err)
	require.Len(t, syms, 2)

	assert.Equal(t, "AppDelegate", syms[0].Name)
	assert.Equal(t, SymbolKindClass, syms[0].Kind)
	require.NotNil(t, syms[0].Location.Range)
	assert.Equal(t, 3, syms[0].Location.Range.Start.Line)
	assert.Equal(t, "App", syms[0].ContainerName)
	assert.Equal(t, []SymbolTag{SymbolTagDeprecated}, syms[0].Tags)
	assert.JSONEq(t, `{"token": 99}`, string(syms[0].Data))

	// A location without a range stays URI-only.
	assert.Equal(t, DocumentURI("file:///main.swift"), syms[1].Location.URI)
	assert.Nil(t, syms[1].Location.Range)
}

func TestParseWorkspaceSymbolResultShapeViolations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not an array", `{"name": "x"}`},
		{"item not object", `[42]`},
		{"item missing kind", `[{"name": "x", "location": {"uri": "file:///x"}}]`},
		{"location missing uri", `[{"name": "x", "kind": 1, "location": {}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseWorkspaceSymbolResult(json.RawMessage(tt.raw))
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestParseLocationResult(t *testing.T) {
	single := json.RawMessage(`{"uri": "file:///a.swift", "range": {"start": {"line": 1, "character": 0}, "end": {"line": 1, "character": 4}}}`)
	locs, err := parseLocationResult(single)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, DocumentURI("file:///a.swift"), locs[0].URI)

	array := json.RawMessage(`[
		{"uri": "file:///a.swift", "range": {"start": {"line": 1, "character": 0}, "end": {"line": 1, "character": 4}}},
		{"uri": "file:///b.swift", "range": {"start": {"line": 2, "character": 0}, "end": {"line": 2, "character": 4}}}
	]`)
	locs, err = parseLocationResult(array)
	require.NoError(t, err)
	assert.Len(t, locs, 2)

	locs, err = parseLocationResult(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, locs)

	_, err = parseLocationResult(json.RawMessage(`"nonsense"`))
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestParseHoverResult(t *testing.T) {
	hover, err := parseHoverResult(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, hover)

	hover, err = parseHoverResult(json.RawMessage(`{"contents": {"kind": "markdown", "value": "func main()"}}`))
	require.NoError(t, err)
	require.NotNil(t, hover)
	assert.Equal(t, MarkupKindMarkdown, hover.Contents.Kind)
	assert.Equal(t, "func main()", hover.Contents.Value)

	hover, err = parseHoverResult(json.RawMessage(`{"contents": "plain text"}`))
	require.NoError(t, err)
	assert.Equal(t, "plain text", hover.Contents.Value)

	// Legacy MarkedString arrays collapse into one document.
	hover, err = parseHoverResult(json.RawMessage(`{"contents": ["first", {"language": "swift", "value": "second"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "first\n\nsecond", hover.Contents.Value)

	_, err = parseHoverResult(json.RawMessage(`{"nothing": true}`))
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestParseDocumentSymbolResultHierarchical(t *testing.T) {
	raw := json.RawMessage(`[
		{
			"name": "Shape",
			"kind": 5,
			"range": {"start": {"line": 0, "character": 0}, "end": {"line": 10, "character": 1}},
			"selectionRange": {"start": {"line": 0, "character": 6}, "end": {"line": 0, "character": 11}},
			"children": [
				{
					"name": "area",
					"kind": 6,
					"range": {"start": {"line": 2, "character": 4}, "end": {"line": 4, "character": 5}},
					"selectionRange": {"start": {"line": 2, "character": 9}, "end": {"line": 2, "character": 13}}
				}
			]
		}
	]`)

	syms, err := parseDocumentSymbolResult(raw)
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "Shape", syms[0].Name)
	require.Len(t, syms[0].Children, 1)
	assert.Equal(t, "area", syms[0].Children[0].Name)
}

func TestParseDocumentSymbolResultFlat(t *testing.T) {
	raw := json.RawMessage(`[
		{
			"name": "area",
			"kind": 6,
			"containerName": "Shape",
			"location": {
				"uri": "file:///shape.swift",
				"range": {"start": {"line": 2, "character": 4}, "end": {"line": 4, "character": 5}}
			}
		}
	]`)

	syms, err := parseDocumentSymbolResult(raw)
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "area", syms[0].Name)
	assert.Equal(t, SymbolKindMethod, syms[0].Kind)
	assert.Equal(t, 2, syms[0].Range.Start.Line)
	assert.Equal(t, syms[0].Range, syms[0].SelectionRange)
}

func TestParseDocumentSymbolResultEmpty(t *testing.T) {
	syms, err := parseDocumentSymbolResult(json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.Empty(t, syms)

	syms, err = parseDocumentSymbolResult(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, syms)
}
