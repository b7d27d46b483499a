// Package poller talks to every configured job server with a dedicated
// HTTP client, tags each fetched request with its origin, and routes
// result submission back to that origin.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"mitchell-agent/errors"
	"mitchell-agent/logger"
	"mitchell-agent/models/request"
	"mitchell-agent/models/result"
)

const pendingTimeout = 30 * time.Second

// submitPayload is the exact, intentionally narrow whitelist §6.1
// requires; any other field on result.Result is never serialized here.
type submitPayload struct {
	Success         bool                   `json:"success"`
	Data            map[string]interface{} `json:"data,omitempty"`
	Error           string                 `json:"error,omitempty"`
	ToolUsed        string                 `json:"tool_used"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	Images          []string               `json:"images,omitempty"`
	TokensUsed      int                    `json:"tokens_used,omitempty"`
	AutoSelected    map[string]string      `json:"auto_selected,omitempty"`
}

// ServerClient is a dedicated HTTP client plus circuit breaker for one
// job server, so an unreachable server never starves the retry budget
// of the others.
type ServerClient struct {
	baseURL string
	shopID  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newServerClient(baseURL, shopID string) *ServerClient {
	return &ServerClient{
		baseURL: baseURL,
		shopID:  shopID,
		http:    &http.Client{Timeout: pendingTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "poller:" + baseURL,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *ServerClient) getPending(ctx context.Context) ([]request.Request, error) {
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s/api/mitchell/pending/%s", c.baseURL, c.shopID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("pending request returned status %d", resp.StatusCode)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return []request.Request{}, nil
		}
		var decoded struct {
			Requests []request.Request `json:"requests"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, fmt.Errorf("decode pending response: %w", err)
		}
		return decoded.Requests, nil
	})
	if err != nil {
		return nil, err
	}
	return raw.([]request.Request), nil
}

func (c *ServerClient) claim(ctx context.Context, requestID string) (bool, error) {
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s/api/mitchell/claim/%s", c.baseURL, requestID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("claim request returned status %d", resp.StatusCode)
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return raw.(bool), nil
}

func (c *ServerClient) submitResult(ctx context.Context, requestID string, res result.Result) error {
	payload := submitPayload{
		Success:         res.Success,
		Data:            res.Data,
		Error:           res.Error,
		ToolUsed:        res.ToolUsed,
		ExecutionTimeMs: res.ExecutionTimeMs,
		Images:          res.Images,
		TokensUsed:      res.TokensUsed,
		AutoSelected:    res.AutoSelected,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.E(errors.Internal, err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s/api/mitchell/result/%s", c.baseURL, requestID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("submit result returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return errors.E(errors.SubmitResultFailed, err)
	}
	return nil
}

// MultiServerPoller fans get_all_pending/claim/submit out across every
// configured job server, routing submission back to the server a
// request was originally pulled from.
type MultiServerPoller struct {
	shopID  string
	clients []*ServerClient
	byURL   map[string]*ServerClient
}

// New builds a poller with one dedicated ServerClient per serverURL.
func New(shopID string, serverURLs []string) *MultiServerPoller {
	p := &MultiServerPoller{shopID: shopID, byURL: make(map[string]*ServerClient, len(serverURLs))}
	for _, url := range serverURLs {
		c := newServerClient(url, shopID)
		p.clients = append(p.clients, c)
		p.byURL[url] = c
	}
	return p
}

// GetAllPending sweeps every configured server, tolerating per-server
// failures by log-warning and contributing an empty slice for that
// server rather than aborting the whole sweep. errCount is the number
// of servers that failed this sweep, for the Agent Service's
// consecutive-error backoff tracking.
func (p *MultiServerPoller) GetAllPending(ctx context.Context) (all []request.Request, errCount int) {
	for _, c := range p.clients {
		reqs, err := c.getPending(ctx)
		if err != nil {
			logger.Warn("pending sweep failed for server", zap.String("server", c.baseURL), zap.Error(err))
			errCount++
			continue
		}
		for i := range reqs {
			reqs[i].SourceServer = c.baseURL
		}
		all = append(all, reqs...)
	}
	return all, errCount
}

// ClaimRequest attempts to claim req against its source server. A 404
// means another agent already claimed it (not an error).
func (p *MultiServerPoller) ClaimRequest(ctx context.Context, req request.Request) (bool, error) {
	c, ok := p.byURL[req.SourceServer]
	if !ok {
		return false, errors.M(errors.ServerUnreachable, fmt.Sprintf("no client registered for source server %q", req.SourceServer))
	}
	return c.claim(ctx, req.ID)
}

// SubmitResult posts res back to req's source server, falling back to
// the first configured server (with a warning) if the tag is somehow
// missing.
func (p *MultiServerPoller) SubmitResult(ctx context.Context, req request.Request, res result.Result) error {
	c, ok := p.byURL[req.SourceServer]
	if !ok {
		if len(p.clients) == 0 {
			return errors.M(errors.ServerUnreachable, "no servers configured")
		}
		logger.Warn("result submission missing source server tag, falling back to first configured server",
			zap.String("request_id", req.ID))
		c = p.clients[0]
	}
	return c.submitResult(ctx, req.ID, res)
}
