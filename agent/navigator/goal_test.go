package navigator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseGoal_FullDescription(t *testing.T) {
	g := ParseGoal("2018 Ford F-150 5.0L XLT 4D Pickup 4WD")

	assert.Equal(t, 2018, g.Year)
	assert.Equal(t, "Ford", g.Make)
	assert.Equal(t, "F-150", g.Model)
	assert.Equal(t, "XLT", g.Submodel)
	assert.Equal(t, "5.0L", g.Engine)
	assert.Equal(t, "4WD", g.DriveType)
	assert.Equal(t, "4D Pickup", g.BodyStyle)
}

func TestParseGoal_MakeAlias(t *testing.T) {
	g := ParseGoal("2020 Chevy Silverado")
	assert.Equal(t, "Chevrolet", g.Make)
}

func TestParseGoal_MinimalFields(t *testing.T) {
	g := ParseGoal("2015 Toyota Camry")

	assert.Equal(t, 2015, g.Year)
	assert.Equal(t, "Toyota", g.Make)
	assert.Equal(t, "Camry", g.Model)
	assert.Empty(t, g.Engine)
	assert.Empty(t, g.DriveType)
}

func TestParseGoal_NoYear(t *testing.T) {
	g := ParseGoal("Honda Civic")
	assert.Equal(t, 0, g.Year)
	assert.Equal(t, "Honda", g.Make)
}
