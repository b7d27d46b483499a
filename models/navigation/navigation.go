// Package navigation holds the types the Navigator exchanges with the
// Reasoner Client and the Request Handler while driving vehicle selection.
package navigation

import "mitchell-agent/models/vehicle"

// Backend identifies which reasoner implementation a Navigator is bound to.
type Backend string

const (
	BackendGemini Backend = "gemini"
	BackendOllama Backend = "ollama"
	BackendServer Backend = "server"
)

// Mode names the two navigator_mode values. Vehicle selection is
// deterministic selector-matching against the parsed goal under either;
// ModeAutonomous additionally enables the Request Handler's
// reasoner-driven query_autonomous loop.
type Mode string

const (
	ModeDeterministic Mode = "deterministic"
	ModeAutonomous    Mode = "autonomous"
)

// Goal is the parsed, structured form of a vehicle.Spec's free-text Goal()
// string, built by the Navigator before it starts matching selector
// options.
type Goal struct {
	Year      int
	Make      string
	Model     string
	Engine    string
	Submodel  string
	BodyStyle string
	DriveType string
}

// FromSpec builds a Goal directly from a vehicle.Spec, bypassing the
// free-text round trip when the caller already has structured data.
func FromSpec(s vehicle.Spec) Goal {
	return Goal{
		Year:      s.Year,
		Make:      s.Make,
		Model:     s.Model,
		Engine:    s.Engine,
		Submodel:  s.Submodel,
		BodyStyle: s.BodyStyle,
		DriveType: s.DriveType,
	}
}

// ClarificationRequest is returned by the Navigator when navigation does
// not resolve. A non-empty OptionName names a required goal field (year,
// make, model) the caller must supply; an empty OptionName marks a
// navigation failure, with the error in Message.
type ClarificationRequest struct {
	OptionName      string   `json:"option_name"`
	AvailableValues []string `json:"available_values"`
	Message         string   `json:"message"`
}

// Result is what the Navigator returns once it has driven through (or
// given up on) the selector chain for a Goal.
type Result struct {
	Resolved bool
	// AutoSelected maps option name to the value the Navigator picked on
	// the caller's behalf, for any option the goal left unspecified.
	AutoSelected  map[string]string
	Clarification *ClarificationRequest
	StepsTaken    []string
	TokensUsed    int
}
