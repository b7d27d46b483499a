package vehicle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpec_Goal(t *testing.T) {
	s := Spec{Year: 2018, Make: "Ford", Model: "F-150", Engine: "5.0L"}
	assert.Equal(t, "2018 Ford F-150 5.0L", s.Goal())
}

func TestSpec_Goal_OmitsEmptyOptionalFields(t *testing.T) {
	s := Spec{Year: 2020, Make: "Toyota", Model: "Camry"}
	assert.Equal(t, "2020 Toyota Camry", s.Goal())
}

func TestSpec_Goal_ZeroYearOmitted(t *testing.T) {
	s := Spec{Make: "Honda", Model: "Civic"}
	assert.Equal(t, "Honda Civic", s.Goal())
}
