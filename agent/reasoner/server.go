package reasoner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// ServerBackend delegates the decision to a server-side proxy keyed by
// (request_id, shop_id, goal, page_state, step), rather than calling an
// LLM directly. The proxy additionally reports tokens_used for billing,
// which this backend surfaces upward on Decision.TokensUsed.
type ServerBackend struct {
	BaseURL   string
	ShopID    string
	RequestID string
	Goal      string
	Step      int
	Client    *http.Client
}

func NewServerBackend(baseURL, shopID string) *ServerBackend {
	return &ServerBackend{BaseURL: baseURL, ShopID: shopID, Client: http.DefaultClient}
}

type serverProxyRequest struct {
	RequestID string `json:"request_id"`
	ShopID    string `json:"shop_id"`
	Goal      string `json:"goal"`
	PageState string `json:"page_state"`
	Step      int    `json:"step"`
}

type serverProxyResponse struct {
	ToolName   string                 `json:"tool_name"`
	Arguments  map[string]interface{} `json:"arguments"`
	Text       string                 `json:"text"`
	TokensUsed int                    `json:"tokens_used"`
	RateLimited bool                  `json:"rate_limited"`
}

func (s *ServerBackend) decide(ctx context.Context, systemMsg string, turns []Turn, tools []ToolSchema, screenshot []byte) (Decision, error) {
	pageState := ""
	if len(screenshot) > 0 {
		pageState = base64.StdEncoding.EncodeToString(screenshot)
	}

	reqBody := serverProxyRequest{
		RequestID: s.RequestID,
		ShopID:    s.ShopID,
		Goal:      s.Goal,
		PageState: pageState,
		Step:      s.Step,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Decision{}, fmt.Errorf("marshal proxy request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/navigate/decide", s.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("build proxy request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("proxy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Decision{}, &RateLimited{Err: fmt.Errorf("navigation proxy returned 429")}
	}

	var out serverProxyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Decision{}, fmt.Errorf("decode proxy response: %w", err)
	}
	if out.RateLimited {
		return Decision{}, &RateLimited{Err: fmt.Errorf("navigation proxy signalled rate limit")}
	}
	if out.ToolName == "" {
		return Decision{Text: out.Text, TokensUsed: out.TokensUsed}, nil
	}
	return Decision{
		ToolCall:   &ToolCall{Name: out.ToolName, Arguments: out.Arguments},
		TokensUsed: out.TokensUsed,
	}, nil
}
