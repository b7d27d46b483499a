package navigator

import (
	"github.com/playwright-community/playwright-go"

	"fmt"
	"strings"

	"mitchell-agent/errors"
	"mitchell-agent/models/navigation"
)

// runDeterministicPhase drives Year, Make, Model, Engine, Submodel in
// order. Year/Make/Model are required; Engine falls back to picking the
// first listed option; Submodel falls back further to a goal-substring match, then a
// single-option pick, then auto-selection of the first value.
func (n *Navigator) runDeterministicPhase(goal navigation.Goal, autoSelected map[string]string, steps *[]string) error {
	for _, category := range selectorCategories {
		if err := n.selectCategory(category, goal, autoSelected, steps); err != nil {
			return err
		}
	}
	return nil
}

func (n *Navigator) selectCategory(category string, goal navigation.Goal, autoSelected map[string]string, steps *[]string) error {
	active := n.activeTab()
	if !strings.EqualFold(active, category) {
		// Active tab doesn't match expected category; the portal may have
		// already auto-advanced past a category with a single value, or
		// the prior click didn't register yet. Proceed against whatever
		// tab is active rather than failing outright.
		category = active
	}

	values := n.rightColumnValues()
	target := targetFor(category, goal)

	switch {
	case target != "":
		if match, ok := matchValue(values, target); ok {
			if err := n.clickValue(match); err != nil {
				return err
			}
			*steps = append(*steps, fmt.Sprintf("select_%s:%s", strings.ToLower(category), match))
			return nil
		}
		if isRequired(category) {
			return errors.M(errors.NavigationStuck, fmt.Sprintf("no match for required field %s=%q", category, target))
		}

	case strings.EqualFold(category, "Engine") && len(values) > 0:
		if err := n.clickValue(values[0]); err != nil {
			return err
		}
		autoSelected["engine"] = values[0]
		*steps = append(*steps, "select_engine:auto:"+values[0])
		return nil

	case strings.EqualFold(category, "Submodel"):
		return n.selectSubmodel(goal, values, autoSelected, steps)
	}

	if isRequired(category) {
		return errors.M(errors.NavigationStuck, fmt.Sprintf("could not resolve required field %s", category))
	}
	return nil
}

func (n *Navigator) selectSubmodel(goal navigation.Goal, values []string, autoSelected map[string]string, steps *[]string) error {
	if match, ok := matchValue(values, goal.Submodel); ok {
		if err := n.clickValue(match); err != nil {
			return err
		}
		*steps = append(*steps, "select_submodel:"+match)
		return nil
	}

	goalLower := strings.ToLower(goal.Submodel + " " + goal.Model + " " + goal.Engine + " " + goal.BodyStyle + " " + goal.DriveType)
	for _, v := range values {
		if strings.Contains(goalLower, strings.ToLower(v)) {
			if err := n.clickValue(v); err != nil {
				return err
			}
			*steps = append(*steps, "select_submodel:goal-substring:"+v)
			return nil
		}
	}

	if len(values) == 1 {
		if err := n.clickValue(values[0]); err != nil {
			return err
		}
		*steps = append(*steps, "select_submodel:only-option:"+values[0])
		return nil
	}

	if len(values) > 0 {
		if err := n.clickValue(values[0]); err != nil {
			return err
		}
		autoSelected["submodel"] = values[0]
		*steps = append(*steps, "select_submodel:auto:"+values[0])
	}
	return nil
}

func targetFor(category string, goal navigation.Goal) string {
	switch strings.ToLower(category) {
	case "year":
		return yearString(goal.Year)
	case "make":
		return goal.Make
	case "model":
		return goal.Model
	case "engine":
		return goal.Engine
	default:
		return ""
	}
}

func isRequired(category string) bool {
	switch strings.ToLower(category) {
	case "year", "make", "model":
		return true
	default:
		return false
	}
}

// runOptionsPhase handles the Options tab (body style, drive type,
// transmission, ...), which can present either a structured set of named
// groups or a flat value list. Runs for up to maxSteps iterations, each
// re-reading fresh DOM state.
func (n *Navigator) runOptionsPhase(goal navigation.Goal, autoSelected map[string]string, steps *[]string, maxSteps int) error {
	if maxSteps <= 0 {
		maxSteps = maxOptionSteps
	}

	for i := 0; i < maxSteps; i++ {
		active := n.activeTab()
		if active == "" {
			return nil // selector closed: navigation complete
		}
		if strings.EqualFold(active, "Submodel") {
			values := n.rightColumnValues()
			if len(values) > 0 {
				if err := n.clickValue(values[0]); err != nil {
					return err
				}
				autoSelected["submodel"] = values[0]
				*steps = append(*steps, "select_submodel:auto:"+values[0])
			}
			continue
		}
		if isSelectorCategory(active) && i > stuckAfterStep {
			return errors.M(errors.NavigationStuck, "stuck before reaching Options tab")
		}
		if isSelectorCategory(active) {
			continue
		}

		if n.isStructuredOptions() {
			advanced, err := n.stepStructuredOptions(goal, autoSelected, steps)
			if err != nil {
				return err
			}
			if !advanced {
				if n.clickConfirmIfEnabled() {
					continue
				}
				return errors.M(errors.NavigationStuck, "could not complete Options selection")
			}
			continue
		}

		advanced, err := n.stepFlatOptions(goal, autoSelected, steps)
		if err != nil {
			return err
		}
		if !advanced {
			return errors.M(errors.NavigationStuck, "could not complete Options selection")
		}
	}
	return errors.M(errors.NavigationStuck, "could not complete Options selection")
}

func isSelectorCategory(tab string) bool {
	for _, c := range selectorCategories {
		if strings.EqualFold(tab, c) {
			return true
		}
	}
	return false
}

func (n *Navigator) isStructuredOptions() bool {
	c, _ := n.page.Locator(".options-group").Count()
	return c > 0
}

// stepStructuredOptions selects one unselected option group's value and
// reports whether it made progress. Returns (false, nil) once every group
// already has a selection.
func (n *Navigator) stepStructuredOptions(goal navigation.Goal, autoSelected map[string]string, steps *[]string) (bool, error) {
	groups, err := n.page.Locator(".options-group").All()
	if err != nil {
		return false, err
	}

	for _, group := range groups {
		if sel, _ := group.Locator(".value-item.selected").Count(); sel > 0 {
			continue
		}
		header, _ := group.Locator(".group-header").TextContent()
		header = strings.TrimSpace(header)
		values, _ := group.Locator(".value-item").AllTextContents()
		values = trimAll(values)
		if len(values) == 0 {
			continue
		}

		switch {
		case strings.EqualFold(header, "Body Style"):
			return true, n.pickBodyStyle(group, goal, values, autoSelected, steps)
		case strings.EqualFold(header, "Drive Type"):
			return true, n.pickDriveType(group, goal, values, autoSelected, steps)
		default:
			return true, n.autoPickGroup(group, header, values, autoSelected, steps)
		}
	}
	return false, nil
}

func (n *Navigator) pickBodyStyle(group playwright.Locator, goal navigation.Goal, values []string, autoSelected map[string]string, steps *[]string) error {
	if match, ok := matchValue(values, goal.BodyStyle); ok {
		return n.clickGroupValue(group, match, "body_style", steps, false, autoSelected)
	}
	goalLower := strings.ToLower(goal.BodyStyle + " " + goal.Submodel)
	for _, v := range values {
		if strings.Contains(goalLower, strings.ToLower(v)) {
			return n.clickGroupValue(group, v, "body_style", steps, false, autoSelected)
		}
	}
	for _, v := range values {
		tokens := strings.Fields(v)
		if len(tokens) >= 2 && strings.Contains(strings.ToLower(goal.BodyStyle), strings.ToLower(strings.Join(tokens[:2], " "))) {
			return n.clickGroupValue(group, v, "body_style", steps, false, autoSelected)
		}
	}
	return n.clickGroupValue(group, values[0], "body_style", steps, true, autoSelected)
}

func (n *Navigator) pickDriveType(group playwright.Locator, goal navigation.Goal, values []string, autoSelected map[string]string, steps *[]string) error {
	if match, ok := matchValue(values, goal.DriveType); ok {
		return n.clickGroupValue(group, match, "drive_type", steps, false, autoSelected)
	}
	for _, v := range values {
		if driveTypeToken.MatchString(v) {
			return n.clickGroupValue(group, v, "drive_type", steps, false, autoSelected)
		}
	}
	return n.clickGroupValue(group, values[0], "drive_type", steps, true, autoSelected)
}

func (n *Navigator) autoPickGroup(group playwright.Locator, header string, values []string, autoSelected map[string]string, steps *[]string) error {
	key := normalizeKey(header)
	return n.clickGroupValue(group, values[0], key, steps, true, autoSelected)
}

func (n *Navigator) clickGroupValue(group playwright.Locator, value, key string, steps *[]string, auto bool, autoSelected map[string]string) error {
	loc := group.Locator(fmt.Sprintf(".value-item:has-text('%s')", escapeForSelector(value)))
	if c, _ := loc.Count(); c == 0 {
		return fmt.Errorf("option value %q not found in group", value)
	}
	if err := loc.First().Click(); err != nil {
		return err
	}
	if auto {
		autoSelected[key] = value
		*steps = append(*steps, "select_"+key+":auto:"+value)
	} else {
		*steps = append(*steps, "select_"+key+":"+value)
	}
	return nil
}

func normalizeKey(header string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(header), " ", "_"))
}

// stepFlatOptions handles the non-grouped Options list: it clicks the
// confirm button once every goal-matching value is already selected,
// otherwise picks one more unselected value: by goal match, then (when the
// confirm button is not enabled) by a body-style or drive-type token,
// falling back to auto-selecting the first unselected value.
func (n *Navigator) stepFlatOptions(goal navigation.Goal, autoSelected map[string]string, steps *[]string) (bool, error) {
	unselected, _ := n.page.Locator(".vehicle-values .value-item:not(.selected)").AllTextContents()
	unselected = trimAll(unselected)
	if len(unselected) == 0 {
		return n.clickConfirmIfEnabled(), nil
	}

	goalLower := strings.ToLower(goal.BodyStyle + " " + goal.DriveType + " " + goal.Submodel)
	for _, v := range unselected {
		if strings.Contains(goalLower, strings.ToLower(v)) {
			return true, n.clickFlatValue(v, "", steps, false, autoSelected)
		}
	}
	if n.clickConfirmIfEnabled() {
		return true, nil
	}
	for _, v := range unselected {
		if bodyStyleTokens.MatchString(v) || driveTypeToken.MatchString(v) {
			return true, n.clickFlatValue(v, "", steps, false, autoSelected)
		}
	}
	return true, n.clickFlatValue(unselected[0], "option", steps, true, autoSelected)
}

func (n *Navigator) clickFlatValue(value, key string, steps *[]string, auto bool, autoSelected map[string]string) error {
	if err := n.clickValue(value); err != nil {
		return err
	}
	if auto {
		k := key
		if k == "" {
			k = normalizeKey(value)
		}
		autoSelected[k] = value
		*steps = append(*steps, "select_option:auto:"+value)
	} else {
		*steps = append(*steps, "select_option:"+value)
	}
	return nil
}

func (n *Navigator) clickConfirmIfEnabled() bool {
	confirm := n.page.Locator("button:has-text('Use This Vehicle')")
	c, _ := confirm.Count()
	if c == 0 {
		return false
	}
	disabled, _ := confirm.First().IsDisabled()
	if disabled {
		return false
	}
	_ = confirm.First().Click()
	return true
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}
