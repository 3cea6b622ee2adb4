package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// #region schema

// SchemaName identifies the result schema to providers that require a name.
const SchemaName = "compliance_assessment"

const schemaURL = "https://prompt-compliance.local/schemas/assessment.schema.json"

// resultSchema is sent to the reasoner as the structured-output contract and
// used to validate what comes back. Every property is required and no extras
// are allowed, as strict structured-output modes demand.
const resultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["assessments"],
  "properties": {
    "assessments": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["policy_index", "violated", "severity", "explanation", "prompt_excerpt"],
        "properties": {
          "policy_index": {"type": "integer"},
          "violated": {"type": "boolean"},
          "severity": {"type": "number"},
          "explanation": {"type": "string"},
          "prompt_excerpt": {"type": "string"}
        }
      }
    }
  }
}`

// Schema returns the result schema as raw JSON.
func Schema() json.RawMessage {
	return json.RawMessage(resultSchema)
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(resultSchema)); err != nil {
		return nil, fmt.Errorf("load result schema: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile result schema: %w", err)
	}
	return compiled, nil
}

// #endregion schema
