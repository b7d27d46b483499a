package reasoner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// OllamaBackend calls a local OpenAI-compatible tool-calling endpoint's
// /api/chat route, following the same plain HTTP+JSON idiom as
// GeminiBackend.
type OllamaBackend struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaBackend(baseURL, model string) *OllamaBackend {
	return &OllamaBackend{BaseURL: baseURL, Model: model, Client: http.DefaultClient}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]interface{} `json:"options"`
}

type ollamaResponse struct {
	Message struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string                 `json:"name"`
				Arguments map[string]interface{} `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (o *OllamaBackend) decide(ctx context.Context, systemMsg string, turns []Turn, tools []ToolSchema, screenshot []byte) (Decision, error) {
	messages := make([]ollamaMessage, 0, len(turns)+1)
	messages = append(messages, ollamaMessage{Role: "system", Content: systemMsg})
	for i, t := range turns {
		msg := ollamaMessage{Role: t.Role, Content: t.Content}
		if i == len(turns)-1 && len(screenshot) > 0 {
			msg.Images = []string{encodeImage(screenshot)}
		}
		messages = append(messages, msg)
	}

	oTools := make([]ollamaTool, 0, len(tools))
	for _, t := range tools {
		var ot ollamaTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		oTools = append(oTools, ot)
	}

	reqBody := ollamaRequest{
		Model:    o.Model,
		Messages: messages,
		Tools:    oTools,
		Stream:   false,
		Options:  map[string]interface{}{"temperature": 0.0},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Decision{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Decision{}, &RateLimited{Err: fmt.Errorf("ollama returned 429")}
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Decision{}, fmt.Errorf("decode ollama response: %w", err)
	}

	tokens := out.PromptEvalCount + out.EvalCount
	if len(out.Message.ToolCalls) > 0 {
		tc := out.Message.ToolCalls[0]
		return Decision{ToolCall: &ToolCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments}, TokensUsed: tokens}, nil
	}
	return Decision{Text: out.Message.Content, TokensUsed: tokens}, nil
}

func encodeImage(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
