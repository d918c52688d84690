package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Tool declares one callable action. Parameters is a JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type Request struct {
	System string
	User   string
	Tools  []Tool
}

// ToolCall is one action chosen by the model. Arguments is kept raw: some
// providers send a JSON object, others a JSON string holding the object.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
}

type Response struct {
	Content   string
	ToolCalls []ToolCall
}

type Client interface {
	Chat(ctx context.Context, req Request) (Response, error)
	Provider() string
	Model() string
}

type Config struct {
	Provider        string
	Model           string
	BaseURL         string
	APIKey          string
	Temperature     float64
	MaxOutputTokens int
	TimeoutSeconds  int
}

func New(cfg Config) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "ollama"
	}
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}

	switch provider {
	case "openai":
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		}
		baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		// Local OpenAI-compatible servers (ollama /v1, llama.cpp) accept any key.
		if apiKey == "" && strings.HasPrefix(baseURL, "https://api.openai.com") {
			return nil, errors.New("openai selected but no API key provided (OPENAI_API_KEY)")
		}
		model := strings.TrimSpace(cfg.Model)
		if model == "" {
			return nil, errors.New("openai selected but no model configured")
		}
		return &openAIClient{
			baseURL:         baseURL,
			apiKey:          apiKey,
			model:           model,
			temperature:     cfg.Temperature,
			maxOutputTokens: cfg.MaxOutputTokens,
			timeout:         time.Duration(timeout) * time.Second,
		}, nil
	case "ollama":
		model := strings.TrimSpace(cfg.Model)
		if model == "" {
			model = "llama3.2:latest"
		}
		baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
		if baseURL == "" {
			baseURL = "http://127.0.0.1:11434"
		}
		return &ollamaClient{
			baseURL:         baseURL,
			model:           model,
			temperature:     cfg.Temperature,
			maxOutputTokens: cfg.MaxOutputTokens,
			timeout:         time.Duration(timeout) * time.Second,
		}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

func chatMessages(req Request) []map[string]string {
	messages := []map[string]string{}
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	if strings.TrimSpace(req.User) != "" {
		messages = append(messages, map[string]string{"role": "user", "content": req.User})
	}
	return messages
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

func wireTools(tools []Tool) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

// wireToolCall is shared by both providers; Arguments stays raw so the
// caller decides how to read object and string forms.
type wireToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func toolCalls(calls []wireToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, ToolCall{
			Name:      strings.TrimSpace(call.Function.Name),
			Arguments: call.Function.Arguments,
		})
	}
	return out
}
