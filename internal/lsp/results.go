package lsp

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Result translation: each parser converts the validated raw result of one
// method into its typed form. A payload that fails shape validation yields a
// ProtocolError; it is never coerced into a partial result.

// parseRenameResult converts a textDocument/rename result into a mapping
// from document URI to the ordered edits for that document. The result must
// be an object whose changes field maps URIs to arrays of edit objects, each
// carrying a range and replacement text.
func parseRenameResult(raw json.RawMessage) (WorkspaceEdits, error) {
	const method = "textDocument/rename"

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, protocolErrorf(method, "expected object, got %s", jsonKind(root))
	}
	changes := root.Get("changes")
	if !changes.Exists() {
		return nil, protocolErrorf(method, "missing changes field")
	}
	if !changes.IsObject() {
		return nil, protocolErrorf(method, "changes is %s, want object", jsonKind(changes))
	}

	ret := make(WorkspaceEdits, len(changes.Map()))
	var shapeErr error
	changes.ForEach(func(uri, edits gjson.Result) bool {
		if !edits.IsArray() {
			shapeErr = protocolErrorf(method, "edits for %s are %s, want array", uri.String(), jsonKind(edits))
			return false
		}
		list := make([]TextEdit, 0, len(edits.Array()))
		for _, e := range edits.Array() {
			if !e.Get("range").Exists() || !e.Get("newText").Exists() {
				shapeErr = protocolErrorf(method, "edit for %s lacks range or newText", uri.String())
				return false
			}
			var edit TextEdit
			if err := json.Unmarshal([]byte(e.Raw), &edit); err != nil {
				shapeErr = protocolErrorf(method, "undecodable edit for %s: %v", uri.String(), err)
				return false
			}
			list = append(list, edit)
		}
		ret[DocumentURI(uri.String())] = list
		return true
	})
	if shapeErr != nil {
		return nil, shapeErr
	}
	return ret, nil
}

// parseWorkspaceSymbolResult converts a workspace/symbol result into a list
// of symbols. A null result maps to an empty list. Each item requires name,
// kind, and location; a location without a range is kept as URI-only rather
// than rejected, since symbols without a precise position are legal.
func parseWorkspaceSymbolResult(raw json.RawMessage) ([]WorkspaceSymbol, error) {
	const method = "workspace/symbol"

	root := gjson.ParseBytes(raw)
	if root.Type == gjson.Null || len(raw) == 0 {
		return []WorkspaceSymbol{}, nil
	}
	if !root.IsArray() {
		return nil, protocolErrorf(method, "expected array or null, got %s", jsonKind(root))
	}

	items := root.Array()
	ret := make([]WorkspaceSymbol, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, protocolErrorf(method, "item %d is %s, want object", i, jsonKind(item))
		}
		name := item.Get("name")
		kind := item.Get("kind")
		loc := item.Get("location")
		if !name.Exists() || !kind.Exists() || !loc.Exists() {
			return nil, protocolErrorf(method, "item %d lacks name, kind, or location", i)
		}
		uri := loc.Get("uri")
		if !uri.Exists() {
			return nil, protocolErrorf(method, "item %d location lacks uri", i)
		}

		sym := WorkspaceSymbol{
			Name:          name.String(),
			Kind:          SymbolKind(kind.Int()),
			Location:      SymbolLocation{URI: DocumentURI(uri.String())},
			ContainerName: item.Get("containerName").String(),
		}
		if rng := loc.Get("range"); rng.Exists() {
			var r Range
			if err := json.Unmarshal([]byte(rng.Raw), &r); err != nil {
				return nil, protocolErrorf(method, "item %d has undecodable range: %v", i, err)
			}
			sym.Location.Range = &r
		}
		if tags := item.Get("tags"); tags.Exists() {
			for _, t := range tags.Array() {
				sym.Tags = append(sym.Tags, SymbolTag(t.Int()))
			}
		}
		if data := item.Get("data"); data.Exists() {
			sym.Data = json.RawMessage(data.Raw)
		}
		ret = append(ret, sym)
	}
	return ret, nil
}

// parseLocationResult converts a textDocument/definition result, which may
// be null, a single location, or an array of locations.
func parseLocationResult(raw json.RawMessage) ([]Location, error) {
	const method = "textDocument/definition"

	root := gjson.ParseBytes(raw)
	switch {
	case root.Type == gjson.Null || len(raw) == 0:
		return nil, nil
	case root.IsObject():
		var loc Location
		if err := json.Unmarshal(raw, &loc); err != nil || loc.URI == "" {
			return nil, protocolErrorf(method, "object result is not a location")
		}
		return []Location{loc}, nil
	case root.IsArray():
		var locs []Location
		if err := json.Unmarshal(raw, &locs); err != nil {
			return nil, protocolErrorf(method, "array result is not a location list: %v", err)
		}
		for i, loc := range locs {
			if loc.URI == "" {
				return nil, protocolErrorf(method, "location %d lacks uri", i)
			}
		}
		return locs, nil
	default:
		return nil, protocolErrorf(method, "expected object, array, or null, got %s", jsonKind(root))
	}
}

// parseHoverResult converts a textDocument/hover result. Null means no
// hover. Contents may arrive as a MarkupContent object, a bare string, or a
// legacy MarkedString array; all collapse into a single MarkupContent.
func parseHoverResult(raw json.RawMessage) (*Hover, error) {
	const method = "textDocument/hover"

	root := gjson.ParseBytes(raw)
	if root.Type == gjson.Null || len(raw) == 0 {
		return nil, nil
	}
	if !root.IsObject() {
		return nil, protocolErrorf(method, "expected object or null, got %s", jsonKind(root))
	}
	contents := root.Get("contents")
	if !contents.Exists() {
		return nil, protocolErrorf(method, "missing contents field")
	}

	hover := &Hover{}
	switch {
	case contents.Type == gjson.String:
		hover.Contents = MarkupContent{Kind: MarkupKindPlainText, Value: contents.String()}
	case contents.IsObject():
		hover.Contents = MarkupContent{
			Kind:  MarkupKind(contents.Get("kind").String()),
			Value: contents.Get("value").String(),
		}
		if hover.Contents.Kind == "" {
			hover.Contents.Kind = MarkupKindPlainText
		}
	case contents.IsArray():
		value := ""
		for _, part := range contents.Array() {
			s := part.String()
			if part.IsObject() {
				s = part.Get("value").String()
			}
			if s == "" {
				continue
			}
			if value != "" {
				value += "\n\n"
			}
			value += s
		}
		hover.Contents = MarkupContent{Kind: MarkupKindMarkdown, Value: value}
	default:
		return nil, protocolErrorf(method, "contents is %s, want string, object, or array", jsonKind(contents))
	}

	if rng := root.Get("range"); rng.Exists() {
		var r Range
		if err := json.Unmarshal([]byte(rng.Raw), &r); err != nil {
			return nil, protocolErrorf(method, "undecodable range: %v", err)
		}
		hover.Range = &r
	}
	return hover, nil
}

// parseDocumentSymbolResult converts a textDocument/documentSymbol result.
// Servers answer with either hierarchical DocumentSymbol items or flat
// SymbolInformation items; flat items are lifted into DocumentSymbols with
// the location range as both range and selection range.
func parseDocumentSymbolResult(raw json.RawMessage) ([]DocumentSymbol, error) {
	const method = "textDocument/documentSymbol"

	root := gjson.ParseBytes(raw)
	if root.Type == gjson.Null || len(raw) == 0 {
		return nil, nil
	}
	if !root.IsArray() {
		return nil, protocolErrorf(method, "expected array or null, got %s", jsonKind(root))
	}
	items := root.Array()
	if len(items) == 0 {
		return []DocumentSymbol{}, nil
	}

	if items[0].Get("selectionRange").Exists() {
		var syms []DocumentSymbol
		if err := json.Unmarshal(raw, &syms); err != nil {
			return nil, protocolErrorf(method, "undecodable document symbols: %v", err)
		}
		return syms, nil
	}

	var infos []SymbolInformation
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, protocolErrorf(method, "undecodable symbol information: %v", err)
	}
	syms := make([]DocumentSymbol, 0, len(infos))
	for _, info := range infos {
		syms = append(syms, DocumentSymbol{
			Name:           info.Name,
			Kind:           info.Kind,
			Tags:           info.Tags,
			Detail:         info.ContainerName,
			Range:          info.Location.Range,
			SelectionRange: info.Location.Range,
		})
	}
	return syms, nil
}

// jsonKind names a gjson value for error messages.
func jsonKind(v gjson.Result) string {
	switch {
	case v.IsObject():
		return "object"
	case v.IsArray():
		return "array"
	case v.Type == gjson.Null:
		return "null"
	case v.Type == gjson.String:
		return "string"
	case v.Type == gjson.Number:
		return "number"
	case v.Type == gjson.True, v.Type == gjson.False:
		return "bool"
	default:
		return "unknown"
	}
}
