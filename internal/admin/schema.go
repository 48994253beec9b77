package admin

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Embedded JSON Schema documents (draft 2020-12) for the admin facade's
// write endpoints (§11/§12.2). Each request body is validated against one of
// these before it reaches the config store, so a malformed payload fails
// with a 400 and a schema-path-qualified message rather than a confusing
// store-layer error.
const (
	providerCreateSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["cli_type", "name", "base_url", "api_key"],
  "properties": {
    "cli_type": {"type": "string", "enum": ["claude_code", "codex", "gemini"]},
    "name": {"type": "string", "minLength": 1},
    "base_url": {"type": "string", "minLength": 1},
    "api_key": {"type": "string", "minLength": 1},
    "enabled": {"type": "boolean"},
    "failure_threshold": {"type": "integer", "minimum": 1},
    "blacklist_minutes": {"type": "integer", "minimum": 1},
    "sort_order": {"type": "integer"}
  }
}`

	providerUpdateSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "base_url": {"type": "string", "minLength": 1},
    "api_key": {"type": "string", "minLength": 1},
    "enabled": {"type": "boolean"},
    "failure_threshold": {"type": "integer", "minimum": 1},
    "blacklist_minutes": {"type": "integer", "minimum": 1},
    "sort_order": {"type": "integer"}
  },
  "additionalProperties": false
}`

	modelMapSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["source_model", "target_model"],
  "properties": {
    "source_model": {"type": "string", "minLength": 1},
    "target_model": {"type": "string", "minLength": 1},
    "enabled": {"type": "boolean"}
  }
}`

	timeoutSettingsSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["stream_first_byte_timeout_seconds", "stream_idle_timeout_seconds", "non_stream_timeout_seconds"],
  "properties": {
    "stream_first_byte_timeout_seconds": {"type": "integer", "minimum": 1},
    "stream_idle_timeout_seconds": {"type": "integer", "minimum": 1},
    "non_stream_timeout_seconds": {"type": "integer", "minimum": 1}
  }
}`

	gatewaySettingsSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["debug_log"],
  "properties": {
    "debug_log": {"type": "boolean"}
  }
}`
)

var (
	providerCreateSchema    = mustCompile("provider_create.json", providerCreateSchemaDoc)
	providerUpdateSchema    = mustCompile("provider_update.json", providerUpdateSchemaDoc)
	modelMapSchema          = mustCompile("model_map.json", modelMapSchemaDoc)
	timeoutSettingsSchema   = mustCompile("timeout_settings.json", timeoutSettingsSchemaDoc)
	gatewaySettingsSchema   = mustCompile("gateway_settings.json", gatewaySettingsSchemaDoc)
)

func mustCompile(name, doc string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader([]byte(doc))); err != nil {
		panic(fmt.Sprintf("admin: invalid embedded schema %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("admin: failed to compile embedded schema %s: %v", name, err))
	}
	return schema
}

// validateBody decodes body as generic JSON (via jsonschema's own decoder, so
// numbers are preserved the way the validator expects) and validates it
// against schema, returning a client-facing error message on failure.
func validateBody(schema *jsonschema.Schema, body []byte) error {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
