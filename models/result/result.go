// Package result holds the shape submitted back to a job server once a
// Request Handler finishes processing a Request.
package result

// Result is the outcome of processing one Request. The field set mirrors
// the submit-result payload whitelist (§6.1): only these fields ever cross
// the wire back to a server, regardless of what internal state the handler
// accumulated while processing.
type Result struct {
	Success         bool                   `json:"success"`
	Data            map[string]interface{} `json:"data,omitempty"`
	Error           string                 `json:"error,omitempty"`
	ToolUsed        string                 `json:"tool_used"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	Images          []string               `json:"images,omitempty"`
	AutoSelected    map[string]string      `json:"auto_selected,omitempty"`

	// TokensUsed carries the reasoner's token accounting for billing. It is
	// set on a successful query_autonomous Result from the count the
	// backend reported; other Results, failed ones included, leave it zero.
	TokensUsed int `json:"tokens_used,omitempty"`
}

// Ok builds a successful Result.
func Ok(tool string, data map[string]interface{}, elapsedMs int64) Result {
	return Result{
		Success:         true,
		Data:            data,
		ToolUsed:        tool,
		ExecutionTimeMs: elapsedMs,
	}
}

// Failed builds an unsuccessful Result carrying the failure message.
func Failed(tool string, message string, elapsedMs int64) Result {
	return Result{
		Success:         false,
		Error:           message,
		ToolUsed:        tool,
		ExecutionTimeMs: elapsedMs,
	}
}

// WithTokens attaches reasoner token usage, returning the Result for
// chaining at the call site that built it.
func (r Result) WithTokens(tokens int) Result {
	r.TokensUsed = tokens
	return r
}

// WithImages attaches screenshot references collected while processing.
func (r Result) WithImages(images []string) Result {
	r.Images = images
	return r
}

// WithAutoSelected attaches the options the Navigator resolved on its own
// rather than returning a clarification to the caller.
func (r Result) WithAutoSelected(auto map[string]string) Result {
	if len(auto) == 0 {
		return r
	}
	r.AutoSelected = auto
	return r
}
