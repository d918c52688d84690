// Package decision turns a model response into pending actions.
package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"butlermarket/agent/internal/llm"
	"butlermarket/agent/internal/prompts"
)

type Kind string

const (
	KindSendLetter  Kind = prompts.ActionSendLetter
	KindSendPackage Kind = prompts.ActionSendPackage
	KindNoAction    Kind = prompts.ActionNoAction
	KindUnknown     Kind = "unknown"
)

// Action is one model decision, consumed exactly once by the executor.
// Resources and Expected are left raw; the executor normalizes them.
type Action struct {
	Kind Kind
	Name string

	Recipient string
	Subject   string
	Body      string
	Reason    string

	Resources any
	Expected  any
}

// NoAction builds a local no_action without asking the model.
func NoAction(reason string) Action {
	return Action{Kind: KindNoAction, Name: prompts.ActionNoAction, Reason: reason}
}

type Interpreter struct {
	Model  llm.Client
	Logger *slog.Logger
}

// Query makes one model call and returns the normalized tool calls in the
// order the model produced them. Failures are logged and yield no actions.
func (i *Interpreter) Query(ctx context.Context, system, user string, tools []llm.Tool) []Action {
	logger := i.logger()
	if i.Model == nil {
		logger.Error("no model configured")
		return nil
	}

	resp, err := i.Model.Chat(ctx, llm.Request{System: system, User: user, Tools: tools})
	if err != nil {
		logger.Error("model call failed", "provider", i.Model.Provider(), "model", i.Model.Model(), "err", err)
		return nil
	}
	if len(resp.ToolCalls) == 0 {
		logger.Warn("model returned no action", "content", truncate(resp.Content, 200))
		return nil
	}
	if len(resp.ToolCalls) > 1 {
		logger.Warn("model returned several actions, only the first valid one is honored", "count", len(resp.ToolCalls))
	}

	actions := make([]Action, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		actions = append(actions, i.Normalize(call))
	}
	return actions
}

// Normalize maps one raw tool call onto an Action. It never fails: an
// unknown name or unparseable arguments yield a KindUnknown action.
func (i *Interpreter) Normalize(call llm.ToolCall) Action {
	logger := i.logger()
	name := strings.TrimSpace(call.Name)
	args := decodeArguments(call.Arguments)
	if args == nil {
		logger.Warn("unparseable action arguments", "action", name, "arguments", truncate(string(call.Arguments), 200))
		return Action{Kind: KindUnknown, Name: name}
	}

	action := Action{Name: name}
	switch name {
	case prompts.ActionSendLetter:
		action.Kind = KindSendLetter
		action.Recipient = coerceText(args["recipient"])
		action.Subject = coerceText(args["subject"])
		action.Body = coerceText(args["body"])
	case prompts.ActionSendPackage:
		action.Kind = KindSendPackage
		action.Recipient = coerceText(args["recipient"])
		action.Resources = args["resources"]
		action.Expected = args["expected_resources"]
	case prompts.ActionNoAction:
		action.Kind = KindNoAction
		action.Reason = coerceText(args["reason"])
	case "":
		logger.Warn("action without a name")
		action.Kind = KindUnknown
		return action
	default:
		action.Kind = KindUnknown
		return action
	}

	if err := prompts.CheckArguments(name, args); err != nil {
		logger.Warn("action arguments do not match schema", "action", name, "err", err)
	}
	return action
}

func (i *Interpreter) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}

// decodeArguments accepts an object or a string holding one. Strings are
// cleaned of comments and trailing commas first. nil means unparseable.
func decodeArguments(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}
	}

	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return map[string]any{}
		}
		raw = jsonc.ToJSON([]byte(text))
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}

var schemaTypeNames = map[string]struct{}{
	"string": {}, "object": {}, "array": {}, "number": {}, "integer": {}, "boolean": {}, "null": {},
}

// coerceText reads a text argument. Small models sometimes echo the schema
// back, so objects are searched for value, text or content, and a "type"
// that is not a schema type name is taken as the value.
func coerceText(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case map[string]any:
		for _, key := range []string{"value", "text", "content"} {
			if text, ok := value[key].(string); ok && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
		}
		if text, ok := value["type"].(string); ok {
			text = strings.TrimSpace(text)
			if _, isTypeName := schemaTypeNames[strings.ToLower(text)]; !isTypeName {
				return text
			}
		}
		return ""
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
