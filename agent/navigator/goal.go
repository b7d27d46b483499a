package navigator

import (
	"regexp"
	"strconv"
	"strings"

	"mitchell-agent/models/navigation"
)

var (
	yearPattern   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	driveTypePattern = regexp.MustCompile(`(?i)\b(4WD|AWD|RWD|FWD|2WD|4x4)\b`)
	bodyStylePattern = regexp.MustCompile(`(?i)\d+D\s+(Pickup|Sedan|Coupe|Hatchback|Wagon|SUV|Van|Convertible)`)
	cabPattern       = regexp.MustCompile(`(?i)(Crew|Extended|Double|Regular|Extra)\s+Cab`)
	enginePattern    = regexp.MustCompile(`(?i)\d+\.\d+L?(?:\s*V\d+)?`)
)

// makeAliases maps common shorthand to the portal's canonical make name.
var makeAliases = map[string]string{
	"chevy":  "Chevrolet",
	"vw":     "Volkswagen",
	"merc":   "Mercedes-Benz",
	"benz":   "Mercedes-Benz",
}

// canonicalMakes is the fixed list ParseGoal matches the first token
// sequence against.
var canonicalMakes = []string{
	"Chevrolet", "Ford", "Toyota", "Honda", "Nissan", "Volkswagen", "Mercedes-Benz",
	"BMW", "Audi", "Dodge", "Ram", "Jeep", "Chrysler", "GMC", "Subaru", "Mazda",
	"Hyundai", "Kia", "Lexus", "Acura", "Infiniti", "Volvo", "Mitsubishi", "Buick",
	"Cadillac", "Lincoln", "Porsche", "Tesla",
}

// ParseGoal extracts a structured navigation.Goal from a free-text vehicle
// description such as "2018 Ford F-150 5.0L XLT 4D Pickup 4WD".
func ParseGoal(goal string) navigation.Goal {
	g := navigation.Goal{}

	if m := yearPattern.FindString(goal); m != "" {
		g.Year, _ = strconv.Atoi(m)
	}

	lower := strings.ToLower(goal)
	for alias, canonical := range makeAliases {
		if strings.Contains(lower, alias) {
			g.Make = canonical
			break
		}
	}
	if g.Make == "" {
		for _, make := range canonicalMakes {
			if strings.Contains(lower, strings.ToLower(make)) {
				g.Make = make
				break
			}
		}
	}

	if m := driveTypePattern.FindString(goal); m != "" {
		g.DriveType = strings.ToUpper(m)
	}
	if m := bodyStylePattern.FindString(goal); m != "" {
		g.BodyStyle = m
	} else if m := cabPattern.FindString(goal); m != "" {
		g.BodyStyle = m
	}
	if m := enginePattern.FindString(goal); m != "" {
		g.Engine = m
	}

	g.Model, g.Submodel = parseModelAndSubmodel(goal, g)

	return g
}

// parseModelAndSubmodel takes the first token after the make as the model,
// and whatever tokens remain once the year/make/engine/body-style/drive
// type have been stripped out as a candidate submodel.
func parseModelAndSubmodel(goal string, g navigation.Goal) (model, submodel string) {
	tokens := strings.Fields(goal)
	matched := map[string]bool{}
	if g.Make != "" {
		for _, t := range tokens {
			if strings.EqualFold(t, g.Make) {
				matched[t] = true
				break
			}
		}
	}

	remaining := make([]string, 0, len(tokens))
	foundMake := false
	for _, t := range tokens {
		switch {
		case matched[t]:
			foundMake = true
			continue
		case yearPattern.MatchString(t), driveTypePattern.MatchString(t), enginePattern.MatchString(t):
			continue
		case g.BodyStyle != "" && strings.Contains(strings.ToLower(g.BodyStyle), strings.ToLower(t)):
			continue
		default:
			if foundMake || g.Make == "" {
				remaining = append(remaining, t)
			}
		}
	}

	if len(remaining) > 0 {
		model = remaining[0]
	}
	if len(remaining) > 1 {
		submodel = strings.Join(remaining[1:], " ")
	}
	return model, submodel
}
