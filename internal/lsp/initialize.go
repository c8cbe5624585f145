package lsp

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/muhammadmuzzammil1998/jsonc"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

//go:embed initialize_params.jsonc
var initializeTemplate []byte

//go:embed initialize_params.schema.json
var initializeSchema []byte

// Placeholder markers in the initialize template. The template must carry
// these exact literals; anything else means the template was edited
// inconsistently and startup aborts before talking to the server.
const (
	markerProcessID        = "$(processId)"
	markerRootPath         = "$(rootPath)"
	markerRootURI          = "$(rootUri)"
	markerWorkspaceFolders = "$(workspaceFolders)"
)

var (
	templateSchemaOnce sync.Once
	templateSchema     *jsonschema.Schema
	templateSchemaErr  error
)

func compiledTemplateSchema() (*jsonschema.Schema, error) {
	templateSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(initializeSchema))
		if err != nil {
			templateSchemaErr = fmt.Errorf("decode template schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		const url = "mem://swiftlsp/initialize_params.schema.json"
		if err := c.AddResource(url, doc); err != nil {
			templateSchemaErr = fmt.Errorf("register template schema: %w", err)
			return
		}
		templateSchema, templateSchemaErr = c.Compile(url)
	})
	return templateSchema, templateSchemaErr
}

// loadInitializeTemplate strips comments from the embedded template and
// validates it, pre-substitution: first against the JSON Schema, then that
// each placeholder field carries its expected literal marker.
func loadInitializeTemplate() (json.RawMessage, error) {
	data := jsonc.ToJSON(initializeTemplate)

	sch, err := compiledTemplateSchema()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode initialize template: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("initialize template is invalid: %w", err)
	}

	for field, marker := range map[string]string{
		"processId":        markerProcessID,
		"rootPath":         markerRootPath,
		"rootUri":          markerRootURI,
		"workspaceFolders": markerWorkspaceFolders,
	} {
		if got := gjson.GetBytes(data, field).String(); got != marker {
			return nil, fmt.Errorf("initialize template field %q holds %q, want marker %q", field, got, marker)
		}
	}

	return data, nil
}

// buildInitializeParams loads the template and substitutes the real process
// id, absolute workspace root, root URI, and workspace folder descriptor.
func buildInitializeParams(root string) (json.RawMessage, error) {
	tmpl, err := loadInitializeTemplate()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	rootURI := FilePathToURI(abs)

	params := []byte(tmpl)
	if params, err = sjson.SetBytes(params, "processId", os.Getpid()); err != nil {
		return nil, fmt.Errorf("substitute processId: %w", err)
	}
	if params, err = sjson.SetBytes(params, "rootPath", abs); err != nil {
		return nil, fmt.Errorf("substitute rootPath: %w", err)
	}
	if params, err = sjson.SetBytes(params, "rootUri", string(rootURI)); err != nil {
		return nil, fmt.Errorf("substitute rootUri: %w", err)
	}
	folders := []WorkspaceFolder{{URI: rootURI, Name: filepath.Base(abs)}}
	if params, err = sjson.SetBytes(params, "workspaceFolders", folders); err != nil {
		return nil, fmt.Errorf("substitute workspaceFolders: %w", err)
	}

	return params, nil
}
