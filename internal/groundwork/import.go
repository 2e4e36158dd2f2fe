package groundwork

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const importedDocumentName = "Imported Project"

// importSchema gates what an external file must carry before it is allowed
// anywhere near the store: a string id and an object-shaped sections payload.
// Everything else is backfilled, so files exported by older versions keep
// importing.
const importSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id", "sections"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"sections": {"type": "object"}
	}
}`

var (
	importSchemaOnce     sync.Once
	importSchemaCompiled *jsonschema.Schema
	importSchemaErr      error
)

func compiledImportSchema() (*jsonschema.Schema, error) {
	importSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(importSchema))
		if err != nil {
			importSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("import.json", doc); err != nil {
			importSchemaErr = err
			return
		}
		importSchemaCompiled, importSchemaErr = compiler.Compile("import.json")
	})
	return importSchemaCompiled, importSchemaErr
}

// Import validates an externally-produced document file and inserts it,
// replacing any existing document with the same ID. Derived fields are
// recomputed rather than trusted and a missing name gets a placeholder.
// Validation failures leave the store untouched.
func (s *Store) Import(data []byte) (Document, error) {
	schema, err := compiledImportSchema()
	if err != nil {
		return Document{}, fmt.Errorf("compile import schema: %w", err)
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Document{}, fmt.Errorf("%w: not valid JSON: %v", ErrInvalidInput, err)
	}
	if err := schema.Validate(value); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(doc.Name) == "" {
		doc.Name = importedDocumentName
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = now
	}
	doc = ensureDefaults(doc)

	s.insert(doc)
	s.logger.Info().Str("id", doc.ID).Str("name", doc.Name).Msg("document imported")
	return doc.Clone(), nil
}

// ExportJSON renders one document as an indented JSON file suitable for
// re-import.
func (s *Store) ExportJSON(id string) ([]byte, error) {
	doc, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
