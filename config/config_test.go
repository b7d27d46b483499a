package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MITCHELL_SHOP_ID", "shop-42")
	t.Setenv("MITCHELL_SERVER_URLS", "https://a.example.com,https://b.example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "shop-42", cfg.ShopID)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.ServerURLs)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.True(t, cfg.Headless)
	assert.Equal(t, ScalingSingle, cfg.ScalingMode)
	assert.Equal(t, BackendGemini, cfg.NavigatorBackend)
}

func TestLoad_MissingShopID(t *testing.T) {
	t.Setenv("MITCHELL_SERVER_URLS", "https://a.example.com")

	_, err := Load("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "shop_id")
}

func TestLoad_MissingServerURLs(t *testing.T) {
	t.Setenv("MITCHELL_SHOP_ID", "shop-1")

	_, err := Load("")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server_urls")
}

func TestValidate_PoolWorkerBounds(t *testing.T) {
	cfg := &AgentConfig{
		ShopID:           "shop-1",
		ServerURLs:       []string{"https://a.example.com"},
		ScalingMode:      ScalingPool,
		NavigatorBackend: BackendGemini,
		PoolMinWorkers:   4,
		PoolMaxWorkers:   2,
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pool_max_workers")
}

func TestSplitNonEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitNonEmpty(" a , b ,", ","))
	assert.Empty(t, splitNonEmpty("", ","))
}
