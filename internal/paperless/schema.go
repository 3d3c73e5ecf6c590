package paperless

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/papersync/internal/shared"
)

// List payloads are validated against these schemas before decoding, so
// malformed entities are rejected at the reader boundary instead of deep
// inside the sink writer. Only the identifier and display name are
// required; dates and references are nullable.
const (
	documentSchemaJSON = `{
		"type": "object",
		"required": ["id", "title"],
		"properties": {
			"id": {"type": "integer", "minimum": 1},
			"title": {"type": "string"},
			"created": {"type": ["string", "null"]},
			"added": {"type": ["string", "null"]},
			"modified": {"type": ["string", "null"]},
			"correspondent": {"type": ["integer", "null"]},
			"tags": {"type": "array", "items": {"type": "integer"}},
			"original_file_name": {"type": ["string", "null"]}
		}
	}`

	tagSchemaJSON = `{
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"type": "integer", "minimum": 1},
			"name": {"type": "string"},
			"color": {"type": ["string", "null"]}
		}
	}`

	correspondentSchemaJSON = `{
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"type": "integer", "minimum": 1},
			"name": {"type": "string"}
		}
	}`
)

type schemaSet struct {
	document      *jsonschema.Schema
	tag           *jsonschema.Schema
	correspondent *jsonschema.Schema
}

func compileSchemas() (*schemaSet, error) {
	sources := map[string]string{
		"paperless-document.json":      documentSchemaJSON,
		"paperless-tag.json":           tagSchemaJSON,
		"paperless-correspondent.json": correspondentSchemaJSON,
	}
	compiler := jsonschema.NewCompiler()
	for name, source := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	set := &schemaSet{}
	var err error
	if set.document, err = compiler.Compile("paperless-document.json"); err != nil {
		return nil, err
	}
	if set.tag, err = compiler.Compile("paperless-tag.json"); err != nil {
		return nil, err
	}
	if set.correspondent, err = compiler.Compile("paperless-correspondent.json"); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *schemaSet) validate(schema *jsonschema.Schema, entity string, raw json.RawMessage) error {
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &shared.ValidationError{Entity: entity, Message: err.Error()}
	}
	if err := schema.Validate(value); err != nil {
		return &shared.ValidationError{Entity: entity, Message: err.Error()}
	}
	return nil
}

func (s *schemaSet) validateDocument(raw json.RawMessage) error {
	return s.validate(s.document, "document", raw)
}

func (s *schemaSet) validateTag(raw json.RawMessage) error {
	return s.validate(s.tag, "tag", raw)
}

func (s *schemaSet) validateCorrespondent(raw json.RawMessage) error {
	return s.validate(s.correspondent, "correspondent", raw)
}
