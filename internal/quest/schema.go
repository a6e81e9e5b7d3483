package quest

import "github.com/santhosh-tekuri/jsonschema/v5"

// registrySchema describes a quest registry file: an object keyed by quest id.
const registrySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "required": ["triggers", "offer_text"],
    "properties": {
      "triggers":          {"type": "array", "items": {"type": "string", "minLength": 1}},
      "complete_triggers": {"type": "array", "items": {"type": "string", "minLength": 1}},
      "offer_text":        {"type": "string"},
      "accept_text":       {"type": "string"},
      "decline_text":      {"type": "string"},
      "complete_text":     {"type": "string"}
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("murmur://quest-registry.json", registrySchema)
