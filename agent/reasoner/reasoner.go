// Package reasoner translates a navigation turn (message history, tool
// schema, optional screenshot) into exactly one next tool invocation,
// regardless of which LLM backend is configured.
package reasoner

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"mitchell-agent/errors"
	"mitchell-agent/utils/recovery"
)

// ToolCall is the single next action a Reasoner decided on.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
}

// Decision is either a tool call or a bare text response (treated by the
// Navigator as a no-op/abort signal).
type Decision struct {
	ToolCall   *ToolCall
	Text       string
	TokensUsed int
}

func (d Decision) IsToolCall() bool { return d.ToolCall != nil }

// Turn is one message in the conversation passed to Decide.
type Turn struct {
	Role    string
	Content string
}

// ToolSchema describes one callable tool surfaced to the backend.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Backend is implemented once per reasoner provider (hosted cloud vision
// API, local OpenAI-compatible endpoint, server-side proxy).
type Backend interface {
	// decide performs exactly one underlying call; retry/backoff lives in
	// Client, not here, so a Backend only needs to report whether the
	// failure was a rate limit.
	decide(ctx context.Context, systemMsg string, turns []Turn, tools []ToolSchema, screenshot []byte) (Decision, error)
}

// RateLimited is returned by a Backend when the provider signals 429 or an
// equivalent throttle response.
type RateLimited struct{ Err error }

func (r *RateLimited) Error() string { return "reasoner rate limited: " + r.Err.Error() }
func (r *RateLimited) Unwrap() error { return r.Err }

// Client wraps a Backend with the shared retry-on-429 policy, a proactive
// rate limiter, a circuit breaker for sustained non-rate-limit failures,
// and determinism (temperature 0, forced tool choice where the backend
// supports it).
type Client struct {
	backend Backend
	limiter *rate.Limiter
	retrier *recovery.Retrier
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a Client around backend. ratePerSecond throttles outbound
// calls proactively in addition to the reactive retry-on-429 below. The
// breaker trips after 5 consecutive non-rate-limit failures and stays open
// for 30s, distinct from the retry loop which only ever reacts to 429s.
func NewClient(backend Backend, ratePerSecond float64) *Client {
	retryCfg := recovery.DefaultRetryConfig()
	retryCfg.MaxAttempts = 4
	retryCfg.Strategy = recovery.ExponentialBackoff
	retryCfg.InitialDelay = 2 * time.Second
	retryCfg.Jitter = false
	retryCfg.RetryableErrors = []string{"reasoner rate limited"}
	retryCfg.StopOnErrors = nil

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reasoner",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var rl *RateLimited
			return err == nil || asRateLimited(err, &rl)
		},
	})

	return &Client{
		backend: backend,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		retrier: recovery.NewRetrier(retryCfg),
		breaker: breaker,
	}
}

// Decide asks the backend for the next tool call. On a rate-limit error it
// retries up to 3 times with 2s/4s/8s backoff; any other error propagates
// immediately and counts against the circuit breaker. Exhausted retries
// degrade to a text Decision rather than an error, per the no-op/abort
// contract the Navigator expects.
func (c *Client) Decide(ctx context.Context, systemMsg string, turns []Turn, tools []ToolSchema, screenshot []byte) (Decision, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Decision{}, errors.E(errors.Internal, err)
	}

	breakerResult, breakerErr := c.breaker.Execute(func() (interface{}, error) {
		// A non-rate-limit error is stashed and ends the retry loop at once,
		// so the retrier's own error matching never re-runs it.
		var fatal error
		res, err := c.retrier.DoWithResult(ctx, func() (interface{}, error) {
			d, err := c.backend.decide(ctx, systemMsg, turns, tools, screenshot)
			if err != nil {
				var rl *RateLimited
				if !asRateLimited(err, &rl) {
					fatal = err
					return nil, nil
				}
				return nil, err
			}
			return d, nil
		})
		if fatal != nil {
			return nil, fatal
		}
		return res, err
	})

	if breakerErr != nil {
		var rl *RateLimited
		if asRateLimited(breakerErr, &rl) {
			return Decision{Text: "reasoner unavailable after retries"}, nil
		}
		return Decision{}, errors.E(errors.ReasonerProtocolError, breakerErr)
	}
	return breakerResult.(Decision), nil
}

func asRateLimited(err error, target **RateLimited) bool {
	for err != nil {
		if rl, ok := err.(*RateLimited); ok {
			*target = rl
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
