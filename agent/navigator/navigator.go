// Package navigator drives the portal's tabbed vehicle-selector UI to the
// single vehicle described by a free-text goal, via a two-phase
// deterministic-then-options algorithm. Both phases are plain
// deterministic control flow; a Navigator carries a Reasoner client, but
// no navigation step calls it.
package navigator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/samber/lo"

	"mitchell-agent/agent/reasoner"
	"mitchell-agent/errors"
	"mitchell-agent/models/navigation"
)

// ClarificationFunc is invoked when a required option is under-specified.
// Returning ("", false) aborts navigation.
type ClarificationFunc func(optionName string, availableValues []string, message string) (string, bool)

const (
	tabOpenRetries  = 3
	afterClickDelay = 500 * time.Millisecond
	listPollTimeout = 5 * time.Second
	listPollInterval = 500 * time.Millisecond
	maxOptionSteps  = 15
	stuckAfterStep  = 5
)

var selectorCategories = []string{"Year", "Make", "Model", "Engine", "Submodel"}

// Navigator is bound to one Worker's page for the duration of one
// navigation; it holds no state across calls.
type Navigator struct {
	page     playwright.Page
	reasoner *reasoner.Client
	history  *HistoryCache
}

func New(page playwright.Page, r *reasoner.Client) *Navigator {
	return &Navigator{page: page, reasoner: r}
}

// WithHistory attaches an optional navigation-history cache; nil is a
// valid value and simply leaves caching disabled.
func (n *Navigator) WithHistory(h *HistoryCache) *Navigator {
	n.history = h
	return n
}

// Navigate drives the selector to the vehicle described by goal. When a
// required field (year, make, model) is missing, clarify is invoked once,
// for the first missing field only.
func (n *Navigator) Navigate(goalText string, clarify ClarificationFunc, maxSteps int) navigation.Result {
	goal := ParseGoal(goalText)

	if n.history != nil {
		if cachedAuto, _, ok := n.history.Lookup(context.Background(), goal); ok {
			applyCachedHints(&goal, cachedAuto)
		}
	}

	if goal.Year == 0 || goal.Make == "" || goal.Model == "" {
		missing := missingRequiredFields(goal)
		if clarify != nil {
			if chosen, ok := clarify(missing, nil, fmt.Sprintf("missing required field: %s", missing)); ok {
				applyClarification(&goal, missing, chosen)
			}
		}
		if goal.Year == 0 || goal.Make == "" || goal.Model == "" {
			field := missingRequiredFields(goal)
			return navigation.Result{
				Resolved: false,
				Clarification: &navigation.ClarificationRequest{
					OptionName: field,
					Message:    "required vehicle field missing: " + field,
				},
			}
		}
	}

	if err := n.openSelector(); err != nil {
		return navigation.Result{Resolved: false, Clarification: &navigation.ClarificationRequest{Message: err.Error()}}
	}

	autoSelected := map[string]string{}
	steps := []string{}

	if err := n.runDeterministicPhase(goal, autoSelected, &steps); err != nil {
		n.closeSelector()
		return navigation.Result{Resolved: false, Clarification: &navigation.ClarificationRequest{Message: err.Error()}}
	}

	if err := n.runOptionsPhase(goal, autoSelected, &steps, maxSteps); err != nil {
		n.closeSelector()
		return navigation.Result{Resolved: false, Clarification: &navigation.ClarificationRequest{Message: err.Error()}}
	}

	if n.history != nil {
		n.history.Store(context.Background(), goal, autoSelected, steps)
	}

	return navigation.Result{
		Resolved:     true,
		AutoSelected: autoSelected,
		StepsTaken:   steps,
	}
}

// applyCachedHints fills in any goal field a prior Navigate call had to
// auto-select, so this run's deterministic phase matches it as a goal
// target instead of auto-picking it again. Fields the goal already
// specifies are left untouched.
func applyCachedHints(g *navigation.Goal, cached map[string]string) {
	if v, ok := cached["engine"]; ok && g.Engine == "" {
		g.Engine = v
	}
	if v, ok := cached["submodel"]; ok && g.Submodel == "" {
		g.Submodel = v
	}
	if v, ok := cached["body_style"]; ok && g.BodyStyle == "" {
		g.BodyStyle = v
	}
	if v, ok := cached["drive_type"]; ok && g.DriveType == "" {
		g.DriveType = v
	}
}

func missingRequiredFields(g navigation.Goal) string {
	switch {
	case g.Year == 0:
		return "year"
	case g.Make == "":
		return "make"
	default:
		return "model"
	}
}

func applyClarification(g *navigation.Goal, field, value string) {
	switch field {
	case "year":
		fmt.Sscanf(value, "%d", &g.Year)
	case "make":
		g.Make = value
	case "model":
		g.Model = value
	}
}

// openSelector clicks the vehicle-selector button, expands the accordion
// if present, and waits for the tab list to appear, retrying up to 3
// times before resetting via the Year tab.
func (n *Navigator) openSelector() error {
	for attempt := 0; attempt < tabOpenRetries; attempt++ {
		btn := n.page.Locator("#vehicle-selector-btn, button:has-text('Select Vehicle')")
		if c, _ := btn.Count(); c > 0 {
			_ = btn.First().Click()
		}
		accordion := n.page.Locator(".vehicle-selection-accordion")
		if c, _ := accordion.Count(); c > 0 {
			_ = accordion.First().Click()
		}
		tabs := n.page.Locator(".vehicle-tab-list .tab")
		if c, _ := tabs.Count(); c > 0 {
			yearTab := n.page.Locator(".vehicle-tab-list .tab:has-text('Year')")
			if c, _ := yearTab.Count(); c > 0 {
				_ = yearTab.First().Click()
			}
			return nil
		}
		time.Sleep(afterClickDelay)
	}
	return errors.M(errors.NavigationStuck, "vehicle selector never opened after 3 attempts")
}

func (n *Navigator) closeSelector() {
	cancel := n.page.Locator("button:has-text('Cancel')")
	if c, _ := cancel.Count(); c > 0 {
		_ = cancel.First().Click()
	}
}

// activeTab inspects the DOM for the tab currently considered "active",
// falling back through a sequence of heuristics.
func (n *Navigator) activeTab() string {
	for _, sel := range []string{
		".vehicle-tab-list .tab.selected",
		".vehicle-tab-list .tab.active",
		".vehicle-tab-list .tab.current",
		".vehicle-tab-list .tab[aria-selected='true']",
	} {
		loc := n.page.Locator(sel)
		if c, _ := loc.Count(); c > 0 {
			text, _ := loc.First().TextContent()
			return strings.TrimSpace(text)
		}
	}
	tabs := n.page.Locator(".vehicle-tab-list .tab:not(.disabled)")
	if c, _ := tabs.Count(); c > 0 {
		text, _ := tabs.Last().TextContent()
		return strings.TrimSpace(text)
	}
	return ""
}

func (n *Navigator) rightColumnValues() []string {
	items, err := n.page.Locator(".vehicle-values .value-item").AllTextContents()
	if err != nil {
		return nil
	}
	return lo.Map(items, func(s string, _ int) string { return strings.TrimSpace(s) })
}

func (n *Navigator) clickValue(text string) error {
	loc := n.page.Locator(fmt.Sprintf(".vehicle-values .value-item:has-text('%s')", escapeForSelector(text)))
	if c, _ := loc.Count(); c == 0 {
		return fmt.Errorf("value %q not found in right column", text)
	}
	if err := loc.First().Click(); err != nil {
		return err
	}
	time.Sleep(afterClickDelay)
	n.waitForListRefresh()
	return nil
}

func (n *Navigator) waitForListRefresh() {
	deadline := time.Now().Add(listPollTimeout)
	for time.Now().Before(deadline) {
		if len(n.rightColumnValues()) > 0 {
			return
		}
		time.Sleep(listPollInterval)
	}
}

func escapeForSelector(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

// matchValue implements the exact-then-containment matching rule shared by
// every category.
func matchValue(values []string, target string) (string, bool) {
	if target == "" {
		return "", false
	}
	lowerTarget := strings.ToLower(target)
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return v, true
		}
	}
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), lowerTarget) {
			return v, true
		}
	}
	return "", false
}

func yearString(y int) string {
	if y == 0 {
		return ""
	}
	return fmt.Sprintf("%d", y)
}

var driveTypeToken = regexp.MustCompile(`(?i)\b(4WD|2WD|AWD|RWD|FWD)\b`)
var bodyStyleTokens = regexp.MustCompile(`(?i)\b(2D|4D|PICKUP|SEDAN|COUPE|HATCH|WAGON|CAB)\b`)
