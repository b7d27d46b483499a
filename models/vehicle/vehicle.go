// Package vehicle holds the vehicle specification shape carried on a
// Request; the parsed form the Navigator matches against is
// navigation.Goal.
package vehicle

import (
	"strconv"
	"strings"
)

// Spec is the vehicle portion of an inbound Request, as received on the
// wire (§6.1 of the wire protocol).
type Spec struct {
	Year      int    `json:"year"`
	Make      string `json:"make"`
	Model     string `json:"model"`
	Engine    string `json:"engine,omitempty"`
	Submodel  string `json:"submodel,omitempty"`
	BodyStyle string `json:"body_style,omitempty"`
	DriveType string `json:"drive_type,omitempty"`
}

// Goal joins the non-empty fields of a Spec, in the canonical order
// year/make/model/engine/submodel/body_style/drive_type, into the free-text
// string the Navigator parses. Re-parsing this string must reproduce an
// equivalent Spec (round-trip property L1 in the core design).
func (s Spec) Goal() string {
	parts := make([]string, 0, 7)
	parts = append(parts, itoa(s.Year), s.Make, s.Model)
	for _, v := range []string{s.Engine, s.Submodel, s.BodyStyle, s.DriveType} {
		if strings.TrimSpace(v) != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(nonEmpty(parts), " ")
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
