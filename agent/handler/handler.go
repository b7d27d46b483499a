// Package handler executes one already-claimed Request against the portal
// using a Navigator and a tool dispatcher, enforcing the session-reuse
// policy decided by the navigation/dispatch outcome.
package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mitchell-agent/agent/navigator"
	"mitchell-agent/agent/session"
	"mitchell-agent/errors"
	"mitchell-agent/logger"
	"mitchell-agent/models/navigation"
	"mitchell-agent/models/request"
	"mitchell-agent/models/result"
	"mitchell-agent/models/vehicle"
)

// ToolFunc looks up, resolves, and extracts data for one tool; it is
// supplied by the Worker that owns this Handler's dispatch table, since
// the actual portal calls depend on the worker's page/session.
type ToolFunc func(req request.Request) (map[string]interface{}, error)

// Archiver uploads a Result image and returns a reference (typically a
// presigned URL) to embed in its place, for deployments that would
// rather not inline base64 PNGs in the submit-result payload.
type Archiver interface {
	Upload(shopID, requestID string, index int, png []byte) (string, error)
}

// Handler processes claimed Requests through a bound Session and
// Navigator, dispatching to one of a fixed set of ToolFuncs.
type Handler struct {
	session    *session.Manager
	navigator  *navigator.Navigator
	tools      map[string]ToolFunc
	clarify    navigator.ClarificationFunc
	autonomous *AutonomousEnv

	// archiver is optional; nil means images stay inline as base64.
	archiver Archiver
	shopID   string
}

func New(sess *session.Manager, nav *navigator.Navigator, tools map[string]ToolFunc, clarify navigator.ClarificationFunc, autonomous *AutonomousEnv) *Handler {
	return &Handler{session: sess, navigator: nav, tools: tools, clarify: clarify, autonomous: autonomous}
}

// WithArchiver attaches an optional image archiver and the shop ID used
// to key uploaded objects; returns the Handler for chaining at
// construction time.
func (h *Handler) WithArchiver(a Archiver, shopID string) *Handler {
	h.archiver = a
	h.shopID = shopID
	return h
}

var driveTypeToken = regexp.MustCompile(`(?i)\b(4WD|AWD|RWD|FWD|2WD|4x4|4X4)\b`)

// Outcome captures how a Process call wants its Worker's session to be
// treated afterward, since that decision depends on details (clarification
// vs. fatal error vs. session-limit) the caller can't infer from the
// Result alone.
type Outcome int

const (
	OutcomeKeepWarm Outcome = iota
	OutcomeClarification
	OutcomeLogout
	OutcomeSessionNeverEstablished
)

// Process runs req to completion, returning the Result to submit and the
// session-lifecycle decision the Worker should apply afterward.
func (h *Handler) Process(req request.Request) (result.Result, Outcome) {
	start := time.Now()

	if _, err := h.session.EnsureLoggedIn(); err != nil {
		if errors.Is(err, errors.SessionLimit) {
			return result.Failed(req.Tool, "session limit reached", elapsedMs(start)), OutcomeSessionNeverEstablished
		}
		return result.Failed(req.Tool, "Failed to connect", elapsedMs(start)), OutcomeLogout
	}
	h.session.UpdateActivity()

	var autoSelected map[string]string
	if !req.SkipsVehicleNavigation() {
		navResult, outcome, res, done := h.navigateToVehicle(req, start)
		if done {
			return res, outcome
		}
		autoSelected = navResult.AutoSelected
	}

	if req.Tool == request.ToolQueryByPlate {
		return h.executeQueryByPlate(req, start)
	}

	if req.Tool == request.ToolQueryAutonomous && h.autonomous != nil {
		question := req.Param("question")
		if question == "" {
			question = req.Param("query")
		}
		data, err := ExecuteAutonomous(context.Background(), *h.autonomous, question, req.Param("context"))
		if err != nil {
			return result.Failed(req.Tool, err.Error(), elapsedMs(start)), OutcomeLogout
		}
		h.session.UpdateActivity()
		tokens, _ := data["tokens_used"].(int)
		return result.Ok(req.Tool, data, elapsedMs(start)).WithAutoSelected(autoSelected).WithTokens(tokens), OutcomeKeepWarm
	}

	data, err := h.executeTool(req.Tool, req)
	if err != nil {
		return result.Failed(req.Tool, err.Error(), elapsedMs(start)), OutcomeLogout
	}
	h.session.UpdateActivity()

	images := h.extractImages(data, req)
	return result.Ok(req.Tool, data, elapsedMs(start)).WithImages(images).WithAutoSelected(autoSelected), OutcomeKeepWarm
}

// extractImages pulls the "_images" key a ToolFunc may have stashed in
// data (base64 PNGs) out of the tool-defined data payload and onto the
// Result's own images field, archiving each to S3 in place of its inline
// bytes when an Archiver is configured.
func (h *Handler) extractImages(data map[string]interface{}, req request.Request) []string {
	raw, ok := data["_images"]
	if !ok {
		return nil
	}
	delete(data, "_images")
	encoded, ok := raw.([]string)
	if !ok {
		return nil
	}

	if h.archiver == nil {
		return encoded
	}

	out := make([]string, 0, len(encoded))
	for i, b64 := range encoded {
		png, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			out = append(out, b64)
			continue
		}
		url, err := h.archiver.Upload(h.shopID, req.ID, i, png)
		if err != nil {
			logger.Warn("screenshot archival failed, falling back to inline image",
				zap.String("request_id", req.ID), zap.String("trace_id", req.TraceID), zap.Error(err))
			out = append(out, b64)
			continue
		}
		out = append(out, url)
	}
	return out
}

// navigateToVehicle builds the goal string, extracts a drive type hidden in
// another field if necessary, invokes the Navigator, and folds a
// clarification or failure outcome into a terminal Result when navigation
// did not resolve.
func (h *Handler) navigateToVehicle(req request.Request, start time.Time) (navigation.Result, Outcome, result.Result, bool) {
	spec := req.Vehicle
	if spec.DriveType == "" {
		for _, field := range []string{spec.Submodel, spec.BodyStyle, spec.Engine} {
			if m := driveTypeToken.FindString(field); m != "" {
				spec.DriveType = strings.ToUpper(m)
				break
			}
		}
	}

	navResult := h.navigator.Navigate(spec.Goal(), h.clarify, 0)
	if !navResult.Resolved {
		h.closeSelector()
		if navResult.Clarification != nil && navResult.Clarification.OptionName != "" {
			data := map[string]interface{}{
				"clarification_needed": true,
				"missing_field":        navResult.Clarification.OptionName,
				"options":              navResult.Clarification.AvailableValues,
				"message":              navResult.Clarification.Message,
			}
			res := result.Result{Success: false, Data: data, ToolUsed: req.Tool, ExecutionTimeMs: elapsedMs(start)}
			return navResult, OutcomeClarification, res, true
		}
		msg := "navigation failed"
		if navResult.Clarification != nil {
			msg = navResult.Clarification.Message
		}
		return navResult, OutcomeLogout, result.Failed(req.Tool, msg, elapsedMs(start)), true
	}
	return navResult, OutcomeKeepWarm, result.Result{}, false
}

func (h *Handler) closeSelector() {
	// No-op. The Navigator clicks Cancel itself when its deterministic or
	// options phase fails; this hook does nothing further.
}

func (h *Handler) executeTool(name string, req request.Request) (map[string]interface{}, error) {
	fn, ok := h.tools[name]
	if !ok {
		return nil, errors.M(errors.ToolDispatchError, fmt.Sprintf("unknown tool %q", name))
	}
	return fn(req)
}

// executeQueryByPlate looks up the vehicle by plate+state, decodes the
// resulting year/make/model/engine/VIN, then recursively dispatches the
// caller-requested target_tool against that vehicle without a second
// selector pass.
func (h *Handler) executeQueryByPlate(req request.Request, start time.Time) (result.Result, Outcome) {
	plate := sanitizePlate(req.Param("plate"))
	state := req.Param("state")
	targetTool := req.Param("target_tool")

	lookup, ok := h.tools[request.ToolLookupVehicle]
	if !ok {
		return result.Failed(req.Tool, "lookup_vehicle tool not registered", elapsedMs(start)), OutcomeLogout
	}

	lookupData, err := lookup(request.Request{Tool: request.ToolLookupVehicle, Params: map[string]interface{}{"plate": plate, "state": state}})
	if err != nil {
		return result.Failed(req.Tool, err.Error(), elapsedMs(start)), OutcomeLogout
	}

	looked := vehicle.Spec{
		Year:   intFromMap(lookupData, "year"),
		Make:   stringFromMap(lookupData, "make"),
		Model:  stringFromMap(lookupData, "model"),
		Engine: stringFromMap(lookupData, "engine"),
	}

	innerReq := req
	innerReq.Tool = targetTool
	innerReq.Vehicle = looked

	data, err := h.executeTool(targetTool, innerReq)
	if err != nil {
		return result.Failed(req.Tool, err.Error(), elapsedMs(start)), OutcomeLogout
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["looked_up_vehicle"] = map[string]interface{}{
		"year": looked.Year, "make": looked.Make, "model": looked.Model, "engine": looked.Engine,
		"vin": stringFromMap(lookupData, "vin"),
	}

	h.session.UpdateActivity()
	return result.Ok(req.Tool, data, elapsedMs(start)), OutcomeKeepWarm
}

func sanitizePlate(plate string) string {
	plate = strings.ReplaceAll(plate, " ", "")
	plate = strings.ReplaceAll(plate, "-", "")
	return strings.ToUpper(plate)
}

func intFromMap(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case string:
			i, _ := strconv.Atoi(strings.TrimSpace(n))
			return i
		}
	}
	return 0
}

func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
