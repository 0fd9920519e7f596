package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kara-bolt/karadao/pkg/fault"
)

// DefaultMetadataSchema is the baseline schema for agent registration
// metadata: a name, and optionally an endpoint and capability list.
const DefaultMetadataSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 128},
    "endpoint": {"type": "string", "format": "uri"},
    "capabilities": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "maxItems": 32
    }
  },
  "additionalProperties": true
}`

// MetadataValidator checks agent metadata documents against a compiled JSON
// Schema.
type MetadataValidator struct {
	schema *jsonschema.Schema
}

// NewMetadataValidator compiles schemaDoc; an empty document uses
// DefaultMetadataSchema.
func NewMetadataValidator(schemaDoc string) (*MetadataValidator, error) {
	if schemaDoc == "" {
		schemaDoc = DefaultMetadataSchema
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://karadao.schemas.local/agent-metadata.schema.json"
	if err := c.AddResource(url, strings.NewReader(schemaDoc)); err != nil {
		return nil, fmt.Errorf("agent metadata schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("agent metadata schema compile failed: %w", err)
	}
	return &MetadataValidator{schema: compiled}, nil
}

// Validate parses and validates one metadata document.
func (v *MetadataValidator) Validate(metadata string) error {
	var doc any
	if err := json.Unmarshal([]byte(metadata), &doc); err != nil {
		return fault.Wrap(fault.CodeInvalidInput, err, "agent metadata is not valid JSON")
	}
	if err := v.schema.Validate(doc); err != nil {
		return fault.Wrap(fault.CodeInvalidInput, err, "agent metadata schema validation")
	}
	return nil
}
