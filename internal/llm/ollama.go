package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ollamaClient struct {
	baseURL         string
	model           string
	temperature     float64
	maxOutputTokens int
	timeout         time.Duration
}

type ollamaResponse struct {
	Message *struct {
		Content   string         `json:"content"`
		ToolCalls []wireToolCall `json:"tool_calls"`
	} `json:"message"`
	Error string `json:"error"`
}

func (c *ollamaClient) Provider() string {
	return "ollama"
}

func (c *ollamaClient) Model() string {
	return c.model
}

func (c *ollamaClient) Chat(ctx context.Context, req Request) (Response, error) {
	messages := chatMessages(req)
	if len(messages) == 0 {
		return Response{}, fmt.Errorf("empty prompt")
	}

	payload := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   false,
	}
	if len(req.Tools) > 0 {
		payload["tools"] = wireTools(req.Tools)
	}

	options := map[string]any{}
	if c.temperature > 0 {
		options["temperature"] = c.temperature
	}
	if c.maxOutputTokens > 0 {
		options["num_predict"] = c.maxOutputTokens
	}
	if len(options) > 0 {
		payload["options"] = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: c.timeout}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return Response{}, err
	}
	if resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("ollama error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(parsed.Error) != "" {
		return Response{}, fmt.Errorf("ollama error: %s", parsed.Error)
	}
	if parsed.Message == nil {
		return Response{}, fmt.Errorf("ollama response had no message")
	}

	return Response{
		Content:   strings.TrimSpace(parsed.Message.Content),
		ToolCalls: toolCalls(parsed.Message.ToolCalls),
	}, nil
}
