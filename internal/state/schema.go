package state

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "metadata", "files"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "metadata": {
      "type": "object",
      "required": ["last_modified"],
      "properties": {
        "total_files": {"type": "integer", "minimum": 0},
        "total_chunks": {"type": "integer", "minimum": 0}
      }
    },
    "files": {
      "type": ["object", "null"],
      "additionalProperties": {
        "type": "object",
        "required": ["path", "status", "chunks", "retry_count"],
        "properties": {
          "path": {"type": "string", "minLength": 1},
          "status": {"enum": ["pending", "completed", "failed"]},
          "chunks": {"type": "integer", "minimum": 0},
          "retry_count": {"type": "integer", "minimum": 0}
        }
      }
    },
    "importers": {"type": ["object", "null"]},
    "collections": {
      "type": ["object", "null"],
      "additionalProperties": {
        "type": "object",
        "required": ["name", "mode", "dimensions"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "dimensions": {"type": "integer", "minimum": 0},
          "points": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	})
	return schema, schemaErr
}

// validateDocument checks encoded JSON against the current schema.
func validateDocument(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile state schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate state: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("state schema violations: %s", strings.Join(msgs, "; "))
}
