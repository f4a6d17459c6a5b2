// Package schema validates request bodies against embedded JSON schemas.
package schema

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names
const (
	CreateSession   = "create_session"
	UpdateSession   = "update_session"
	CompleteSession = "complete_session"
)

const definitionsFile = "schemas/definitions.json"

//go:embed schemas/*.json
var files embed.FS

// ErrInvalidJSON is returned when the document cannot be parsed
var ErrInvalidJSON = errors.New("request body is not valid JSON")

// Violation is one schema violation
type Violation struct {
	Field   string
	Message string
}

// ValidationError lists the violations of a document
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "request does not conform to schema: " + strings.Join(parts, "; ")
}

// Registry holds the compiled request schemas
type Registry struct {
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry compiles the embedded schemas
func NewRegistry() (*Registry, error) {
	defs, err := files.ReadFile(definitionsFile)
	if err != nil {
		return nil, fmt.Errorf("read schema definitions: %w", err)
	}

	r := &Registry{schemas: make(map[string]*gojsonschema.Schema)}
	for _, name := range []string{CreateSession, UpdateSession, CompleteSession} {
		raw, err := files.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		sl := gojsonschema.NewSchemaLoader()
		sl.Draft = gojsonschema.Draft7
		if err := sl.AddSchemas(gojsonschema.NewBytesLoader(defs)); err != nil {
			return nil, fmt.Errorf("load schema definitions: %w", err)
		}
		compiled, err := sl.Compile(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		r.schemas[name] = compiled
	}
	return r, nil
}

// Validate checks body against the named schema. It returns ErrInvalidJSON
// for unparsable bodies and a *ValidationError listing violations otherwise.
func (r *Registry) Validate(name string, body []byte) error {
	s, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{}
	for _, desc := range result.Errors() {
		verr.Violations = append(verr.Violations, Violation{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return verr
}
