// Package tools implements the closed set of portal data-extraction
// tools the Request Handler dispatches by name. Each tool's params
// schema is open-ended; these implementations extract whatever the
// corresponding results panel renders into a generic label/value shape
// rather than a tool-specific parser, since the spec leaves per-tool
// extraction undefined.
package tools

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
	"github.com/samber/lo"

	"mitchell-agent/agent/handler"
	"mitchell-agent/errors"
	"mitchell-agent/models/request"
)

// panelSelector maps a tool name to the CSS selector of its results
// panel once the corresponding results tab has been opened.
var panelSelector = map[string]string{
	request.ToolFluidCapacities:   "#panel-fluid-capacities",
	request.ToolDTCInfo:           "#panel-dtc-info",
	request.ToolTorqueSpecs:       "#panel-torque-specs",
	request.ToolResetProcedure:    "#panel-reset-procedure",
	request.ToolTSBList:          "#panel-tsb-list",
	request.ToolADASCalibration:  "#panel-adas-calibration",
	request.ToolTireSpecs:        "#panel-tire-specs",
	request.ToolWiringDiagram:    "#panel-wiring-diagram",
	request.ToolSpecsProcedures:  "#panel-specs-procedures",
	request.ToolComponentLocation: "#panel-component-location",
	request.ToolComponentTests:   "#panel-component-tests",
}

// tabSelector maps a tool name to the results-navigation tab that must
// be clicked before its panel selector renders.
var tabSelector = map[string]string{
	request.ToolFluidCapacities:    "a[href='#fluid-capacities'], .results-tab:has-text('Fluid Capacities')",
	request.ToolDTCInfo:            "a[href='#dtc-info'], .results-tab:has-text('DTC')",
	request.ToolTorqueSpecs:        "a[href='#torque-specs'], .results-tab:has-text('Torque')",
	request.ToolResetProcedure:     "a[href='#reset-procedure'], .results-tab:has-text('Reset Procedure')",
	request.ToolTSBList:            "a[href='#tsb-list'], .results-tab:has-text('TSB')",
	request.ToolADASCalibration:    "a[href='#adas-calibration'], .results-tab:has-text('ADAS')",
	request.ToolTireSpecs:          "a[href='#tire-specs'], .results-tab:has-text('Tire')",
	request.ToolWiringDiagram:      "a[href='#wiring-diagram'], .results-tab:has-text('Wiring')",
	request.ToolSpecsProcedures:    "a[href='#specs-procedures'], .results-tab:has-text('Specs')",
	request.ToolComponentLocation:  "a[href='#component-location'], .results-tab:has-text('Component Location')",
	request.ToolComponentTests:     "a[href='#component-tests'], .results-tab:has-text('Component Tests')",
}

// Registry builds the tool-dispatch table, bound to a single Worker's
// page.
func Registry(page playwright.Page) map[string]handler.ToolFunc {
	reg := make(map[string]handler.ToolFunc)

	for name := range panelSelector {
		name := name
		reg[name] = func(req request.Request) (map[string]interface{}, error) {
			return extractPanel(page, name)
		}
	}

	reg[request.ToolLookupVehicle] = func(req request.Request) (map[string]interface{}, error) {
		return lookupVehicle(page, req.Param("plate"), req.Param("state"))
	}
	reg[request.ToolSearchMitchell] = func(req request.Request) (map[string]interface{}, error) {
		return searchMitchell(page, req.Param("query"))
	}
	reg[request.ToolQueryMitchell] = func(req request.Request) (map[string]interface{}, error) {
		return searchMitchell(page, req.Param("query"))
	}

	return reg
}

// extractPanel opens the tab for tool and reads every labeled row of
// its results panel into a flat map.
func extractPanel(page playwright.Page, tool string) (map[string]interface{}, error) {
	tab := page.Locator(tabSelector[tool])
	if n, _ := tab.Count(); n > 0 {
		if err := tab.First().Click(); err != nil {
			return nil, errors.E(errors.ToolDispatchError, fmt.Errorf("open %s tab: %w", tool, err))
		}
	}

	panel := page.Locator(panelSelector[tool])
	if n, _ := panel.Count(); n == 0 {
		return nil, errors.M(errors.ToolDispatchError, fmt.Sprintf("%s panel did not render", tool))
	}

	rows, err := panel.Locator(".spec-row").All()
	if err != nil {
		return nil, errors.E(errors.ToolDispatchError, err)
	}

	data := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		label, _ := row.Locator(".spec-label").TextContent()
		value, _ := row.Locator(".spec-value").TextContent()
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		data[label] = strings.TrimSpace(value)
	}

	// _images carries base64 PNG, matching the Result.images wire shape,
	// so the Request Handler can lift it straight onto the Result it
	// builds (and optionally swap it for an S3 presigned URL) without a
	// second round-trip to the page.
	images, err := panel.Locator("img").All()
	if err == nil && len(images) > 0 {
		var encoded []string
		for _, img := range images {
			shot, err := img.Screenshot(playwright.LocatorScreenshotOptions{
				Type: playwright.ScreenshotTypePng,
			})
			if err != nil {
				continue
			}
			encoded = append(encoded, base64.StdEncoding.EncodeToString(shot))
		}
		if len(encoded) > 0 {
			data["_images"] = encoded
		}
	}

	return data, nil
}

// lookupVehicle performs its own plate/state navigation (it is exempt
// from the Navigator's vehicle-selector pass) and decodes the
// resulting vehicle identity panel.
func lookupVehicle(page playwright.Page, plate, state string) (map[string]interface{}, error) {
	if plate == "" {
		return nil, errors.M(errors.ToolDispatchError, "lookup_vehicle requires a plate param")
	}

	btn := page.Locator("#plate-lookup-btn, button:has-text('Lookup by Plate')")
	if n, _ := btn.Count(); n > 0 {
		_ = btn.First().Click()
	}
	if err := page.Locator("#plate-input").Fill(plate); err != nil {
		return nil, errors.E(errors.ToolDispatchError, err)
	}
	if state != "" {
		_, _ = page.Locator("#plate-state-select").SelectOption(playwright.SelectOptionValues{Labels: &[]string{state}})
	}
	submit := page.Locator("#plate-lookup-submit")
	if n, _ := submit.Count(); n > 0 {
		if err := submit.First().Click(); err != nil {
			return nil, errors.E(errors.ToolDispatchError, err)
		}
	}

	panel := page.Locator("#plate-lookup-result")
	if n, _ := panel.Count(); n == 0 {
		return nil, errors.M(errors.ToolDispatchError, "no vehicle found for plate")
	}

	year, _ := panel.Locator("[data-field='year']").TextContent()
	make_, _ := panel.Locator("[data-field='make']").TextContent()
	model, _ := panel.Locator("[data-field='model']").TextContent()
	engine, _ := panel.Locator("[data-field='engine']").TextContent()
	vin, _ := panel.Locator("[data-field='vin']").TextContent()

	return map[string]interface{}{
		"year":   strings.TrimSpace(year),
		"make":   strings.TrimSpace(make_),
		"model":  strings.TrimSpace(model),
		"engine": strings.TrimSpace(engine),
		"vin":    strings.TrimSpace(vin),
	}, nil
}

// searchMitchell runs a free-text search (search_mitchell / query_mitchell)
// against the portal's global search box and returns the matched result
// titles and links.
func searchMitchell(page playwright.Page, query string) (map[string]interface{}, error) {
	if query == "" {
		return nil, errors.M(errors.ToolDispatchError, "search_mitchell requires a query param")
	}

	box := page.Locator("#global-search-input")
	if err := box.Fill(query); err != nil {
		return nil, errors.E(errors.ToolDispatchError, err)
	}
	if err := box.Press("Enter"); err != nil {
		return nil, errors.E(errors.ToolDispatchError, err)
	}

	results, err := page.Locator(".search-result-item").All()
	if err != nil {
		return nil, errors.E(errors.ToolDispatchError, err)
	}

	titles := lo.Map(results, func(loc playwright.Locator, _ int) string {
		t, _ := loc.Locator(".search-result-title").TextContent()
		return strings.TrimSpace(t)
	})

	return map[string]interface{}{"results": titles}, nil
}
