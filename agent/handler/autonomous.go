package handler

import (
	"context"
	"strings"

	"mitchell-agent/agent/reasoner"
	"mitchell-agent/errors"
)

const maxAutonomousSteps = 20

// autonomousSchema is the reduced two-tool set handed to the reasoner for
// a free-running query_autonomous loop, distinct from the fixed
// vehicle-selector tool schema the deterministic Navigator uses.
var autonomousSchema = []reasoner.ToolSchema{
	{
		Name:        "answer",
		Description: "Report the final answer to the question and stop.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
			"required":   []string{"text"},
		},
	},
	{
		Name:        "click",
		Description: "Click the element best matching this hint and continue observing.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"selector_hint": map[string]interface{}{"type": "string"}},
			"required":   []string{"selector_hint"},
		},
	},
}

// Screenshotter captures the current page for a reasoner turn. The
// Worker supplies this from its Browser Driver's page.
type Screenshotter interface {
	Screenshot() ([]byte, error)
}

// ElementClicker clicks an element best matching a free-text hint; the
// Worker supplies this from its Browser Driver's page.
type ElementClicker interface {
	ClickByHint(hint string) error
}

// AutonomousEnv bundles the page access an autonomous query needs beyond
// the Reasoner itself.
type AutonomousEnv struct {
	Screenshotter
	ElementClicker
	Reasoner *reasoner.Client
}

// ExecuteAutonomous runs a free-running reasoner loop (bounded at 20
// steps) to answer a natural-language question over the current page,
// used by the query_autonomous tool rather than the fixed dispatch table.
func ExecuteAutonomous(ctx context.Context, env AutonomousEnv, question, queryContext string) (map[string]interface{}, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.M(errors.ToolDispatchError, "query_autonomous requires a question or query param")
	}

	turns := []reasoner.Turn{{Role: "user", Content: question}}
	if queryContext != "" {
		turns = append(turns, reasoner.Turn{Role: "user", Content: "context: " + queryContext})
	}

	systemMsg := "Answer the user's question about the currently displayed vehicle data page. " +
		"Click to reveal more information if needed, then call answer() with the final text."

	for step := 0; step < maxAutonomousSteps; step++ {
		shot, err := env.Screenshot()
		if err != nil {
			return nil, errors.E(errors.ToolDispatchError, err)
		}

		decision, err := env.Reasoner.Decide(ctx, systemMsg, turns, autonomousSchema, shot)
		if err != nil {
			return nil, errors.E(errors.ReasonerProtocolError, err)
		}

		if !decision.IsToolCall() {
			return map[string]interface{}{"answer": decision.Text, "tokens_used": decision.TokensUsed}, nil
		}

		switch decision.ToolCall.Name {
		case "answer":
			text, _ := decision.ToolCall.Arguments["text"].(string)
			return map[string]interface{}{"answer": text, "tokens_used": decision.TokensUsed}, nil
		case "click":
			hint, _ := decision.ToolCall.Arguments["selector_hint"].(string)
			if err := env.ClickByHint(hint); err != nil {
				turns = append(turns, reasoner.Turn{Role: "assistant", Content: "click failed: " + err.Error()})
				continue
			}
			turns = append(turns, reasoner.Turn{Role: "assistant", Content: "clicked: " + hint})
		default:
			turns = append(turns, reasoner.Turn{Role: "assistant", Content: "unknown tool: " + decision.ToolCall.Name})
		}
	}

	return nil, errors.M(errors.NavigationStuck, "query_autonomous exceeded max steps without an answer")
}
