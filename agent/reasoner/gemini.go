package reasoner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// GeminiBackend calls a hosted cloud vision API's generateContent endpoint
// directly over HTTP, following the same fmt.Sprintf URL-build plus
// json.Decode idiom used for the portal's other HTTP-bridge integrations —
// there is no first-party SDK for this provider in the surrounding stack,
// and its REST surface is plain JSON, so a thin http.Client wrapper is the
// straightforward way to speak it.
type GeminiBackend struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewGeminiBackend(apiKey, model string) *GeminiBackend {
	return &GeminiBackend{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Client:  http.DefaultClient,
	}
}

type geminiPart struct {
	Text       string           `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []map[string]interface{} `json:"tools,omitempty"`
	ToolConfig        map[string]interface{}   `json:"toolConfig,omitempty"`
	GenerationConfig  map[string]interface{}   `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text         string `json:"text"`
				FunctionCall *struct {
					Name string                 `json:"name"`
					Args map[string]interface{} `json:"args"`
				} `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *GeminiBackend) decide(ctx context.Context, systemMsg string, turns []Turn, tools []ToolSchema, screenshot []byte) (Decision, error) {
	contents := make([]geminiContent, 0, len(turns)+1)
	for _, t := range turns {
		contents = append(contents, geminiContent{Role: geminiRole(t.Role), Parts: []geminiPart{{Text: t.Content}}})
	}
	if len(screenshot) > 0 {
		contents = append(contents, geminiContent{
			Role: "user",
			Parts: []geminiPart{{
				InlineData: &geminiInlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(screenshot)},
			}},
		})
	}

	declarations := make([]geminiFunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		declarations = append(declarations, geminiFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	reqBody := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemMsg}}},
		Contents:          contents,
		Tools:             []map[string]interface{}{{"functionDeclarations": declarations}},
		ToolConfig:        map[string]interface{}{"functionCallingConfig": map[string]interface{}{"mode": "ANY"}},
		GenerationConfig:  map[string]interface{}{"temperature": 0.0},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Decision{}, fmt.Errorf("marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.BaseURL, g.Model, g.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Decision{}, &RateLimited{Err: fmt.Errorf("gemini returned 429")}
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Decision{}, fmt.Errorf("decode gemini response: %w", err)
	}
	if out.Error != nil {
		if out.Error.Code == http.StatusTooManyRequests {
			return Decision{}, &RateLimited{Err: fmt.Errorf(out.Error.Message)}
		}
		return Decision{}, fmt.Errorf("gemini error: %s", out.Error.Message)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return Decision{Text: "", TokensUsed: out.UsageMetadata.TotalTokenCount}, nil
	}

	part := out.Candidates[0].Content.Parts[0]
	if part.FunctionCall != nil {
		return Decision{
			ToolCall:   &ToolCall{Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args},
			TokensUsed: out.UsageMetadata.TotalTokenCount,
		}, nil
	}
	return Decision{Text: part.Text, TokensUsed: out.UsageMetadata.TotalTokenCount}, nil
}

func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}
