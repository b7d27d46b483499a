package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScalingMode_String(t *testing.T) {
	assert.Equal(t, "single", Single.String())
	assert.Equal(t, "pool", Pool.String())
	assert.Equal(t, "ondemand", OnDemand.String())
}

func TestScalingMode_MarshalJSON(t *testing.T) {
	b, err := Pool.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"pool"`, string(b))
}

func TestNew_SingleModeCapacityOne(t *testing.T) {
	p := New(Config{Mode: Single, MaxWorkers: 10})
	assert.Equal(t, 1, p.effectiveMax())
}

func TestNew_PoolModeUsesMaxWorkers(t *testing.T) {
	p := New(Config{Mode: Pool, MaxWorkers: 6})
	assert.Equal(t, 6, p.effectiveMax())
}
