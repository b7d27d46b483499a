// Package request holds the shape of a pending job pulled from a server.
package request

import "mitchell-agent/models/vehicle"

// Tool names the closed set a Request Handler can dispatch. Kept as plain
// strings (not a Go enum) because the wire protocol treats tool as an open
// string and new tools are added server-side without an agent release.
const (
	ToolFluidCapacities   = "get_fluid_capacities"
	ToolDTCInfo           = "get_dtc_info"
	ToolTorqueSpecs       = "get_torque_specs"
	ToolResetProcedure    = "get_reset_procedure"
	ToolTSBList           = "get_tsb_list"
	ToolADASCalibration   = "get_adas_calibration"
	ToolTireSpecs         = "get_tire_specs"
	ToolWiringDiagram     = "get_wiring_diagram"
	ToolSpecsProcedures   = "get_specs_procedures"
	ToolComponentLocation = "get_component_location"
	ToolComponentTests    = "get_component_tests"
	ToolLookupVehicle     = "lookup_vehicle"
	ToolQueryByPlate      = "query_by_plate"
	ToolSearchMitchell    = "search_mitchell"
	ToolQueryMitchell     = "query_mitchell"
	ToolQueryAutonomous   = "query_autonomous"
)

// Request is a single job unit pulled from a server via the poller.
type Request struct {
	ID     string                 `json:"id"`
	Tool   string                 `json:"tool"`
	Vehicle vehicle.Spec          `json:"vehicle"`
	Params map[string]interface{} `json:"params"`
	UserID string                 `json:"user_id,omitempty"`

	// SourceServer is attached by the poller when the request is fetched
	// and never serialized back to any server; it determines where
	// claim/submit calls for this request are routed.
	SourceServer string `json:"-"`

	// TraceID is a locally-generated identifier attached when the Agent
	// Service picks this Request off the poll result, distinct from ID
	// (which is the upstream job server's own identifier and may collide
	// across servers). It is carried through every log line for this
	// Request's processing but never serialized to any server.
	TraceID string `json:"-"`
}

// SkipsVehicleNavigation reports whether this tool performs its own vehicle
// resolution and should not go through the Navigator first.
func (r Request) SkipsVehicleNavigation() bool {
	return r.Tool == ToolLookupVehicle || r.Tool == ToolQueryByPlate
}

// Param returns a string parameter, defaulting to "" if absent or not a
// string.
func (r Request) Param(key string) string {
	v, ok := r.Params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
