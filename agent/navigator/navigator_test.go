package navigator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mitchell-agent/models/navigation"
)

func TestApplyCachedHints_FillsOnlyEmptyFields(t *testing.T) {
	g := navigation.Goal{Year: 2018, Make: "Ford", Model: "F-150", Engine: "3.5L EcoBoost"}
	applyCachedHints(&g, map[string]string{
		"engine":     "5.0L",
		"submodel":   "XLT",
		"body_style": "4D Pickup",
	})

	assert.Equal(t, "3.5L EcoBoost", g.Engine, "already-specified field must not be overwritten")
	assert.Equal(t, "XLT", g.Submodel)
	assert.Equal(t, "4D Pickup", g.BodyStyle)
}

func TestApplyCachedHints_NoCachedValues(t *testing.T) {
	g := navigation.Goal{Year: 2020, Make: "Toyota", Model: "Camry"}
	applyCachedHints(&g, nil)
	assert.Empty(t, g.Engine)
}

func TestMissingRequiredFields(t *testing.T) {
	assert.Equal(t, "year", missingRequiredFields(navigation.Goal{}))
	assert.Equal(t, "make", missingRequiredFields(navigation.Goal{Year: 2020}))
	assert.Equal(t, "model", missingRequiredFields(navigation.Goal{Year: 2020, Make: "Honda"}))
}
