package prompts

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"butlermarket/agent/internal/llm"
)

const (
	ActionSendLetter  = "send_letter"
	ActionSendPackage = "send_package"
	ActionNoAction    = "no_action"
)

var actionSchemas = []struct {
	name        string
	description string
	parameters  string
}{
	{
		name:        ActionSendLetter,
		description: "Send a negotiation letter to another agent.",
		parameters: `{
			"type": "object",
			"properties": {
				"recipient": {"type": "string", "description": "Alias of the receiving agent."},
				"subject": {"type": "string"},
				"body": {"type": "string"}
			},
			"required": ["recipient", "subject", "body"]
		}`,
	},
	{
		name: ActionSendPackage,
		description: "Send agreed resources to another agent. " +
			"Set expected_resources to what you expect to receive in return.",
		parameters: `{
			"type": "object",
			"properties": {
				"recipient": {"type": "string"},
				"resources": {
					"type": "object",
					"additionalProperties": {"type": "integer", "minimum": 1}
				},
				"expected_resources": {
					"type": "object",
					"additionalProperties": {"type": "integer", "minimum": 1},
					"description": "Resources you expect from the recipient in exchange."
				}
			},
			"required": ["recipient", "resources"]
		}`,
	},
	{
		name:        ActionNoAction,
		description: "Take no action this turn.",
		parameters: `{
			"type": "object",
			"properties": {
				"reason": {"type": "string"}
			},
			"required": ["reason"]
		}`,
	},
}

var compiled = map[string]*jsonschema.Schema{}

func init() {
	for _, schema := range actionSchemas {
		compiled[schema.name] = jsonschema.MustCompileString(schema.name+".json", schema.parameters)
	}
}

// Actions returns the fixed set of callable actions offered to the model.
func Actions() []llm.Tool {
	out := make([]llm.Tool, 0, len(actionSchemas))
	for _, schema := range actionSchemas {
		out = append(out, llm.Tool{
			Name:        schema.name,
			Description: schema.description,
			Parameters:  json.RawMessage(schema.parameters),
		})
	}
	return out
}

// ArgumentSchema returns the compiled parameter schema of an action, or nil.
func ArgumentSchema(name string) *jsonschema.Schema {
	return compiled[name]
}

// CheckArguments validates decoded arguments against the declared schema of
// the named action. Unknown names are an error.
func CheckArguments(name string, args map[string]any) error {
	schema := ArgumentSchema(name)
	if schema == nil {
		return fmt.Errorf("unknown action %q", name)
	}
	return schema.Validate(toSchemaValue(args))
}

// toSchemaValue widens the map types the validator expects.
func toSchemaValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = toSchemaValue(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = toSchemaValue(item)
		}
		return out
	case int:
		return json.Number(fmt.Sprint(value))
	default:
		return v
	}
}
