// Package config loads the Agent's configuration from defaults,
// MITCHELL_*-prefixed environment variables, an optional file, and
// finally CLI flags, in that increasing order of precedence.
package config

import (
	_ "embed"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/mitchellh/mapstructure"

	apxerrors "mitchell-agent/errors"
)

//go:embed config.default.yaml
var defaultConfigYAML []byte

// ScalingMode mirrors agent/pool.ScalingMode as a config-layer string
// enum, decoupling the config package from the pool package.
type ScalingMode string

const (
	ScalingSingle   ScalingMode = "single"
	ScalingPool     ScalingMode = "pool"
	ScalingOnDemand ScalingMode = "ondemand"
)

// NavigatorBackend selects which Reasoner backend the agent talks to.
type NavigatorBackend string

const (
	BackendGemini NavigatorBackend = "gemini"
	BackendOllama NavigatorBackend = "ollama"
	BackendServer NavigatorBackend = "server"
)

// AgentConfig is the fully-resolved configuration for one agent
// process, covering identity, credentials, polling behavior, pool
// scaling, and reasoner backend selection.
type AgentConfig struct {
	ShopID     string   `koanf:"shop_id" json:"shop_id"`
	ShopName   string   `koanf:"shop_name" json:"shop_name"`
	ServerURLs []string `koanf:"server_urls" json:"server_urls"`

	Username string `koanf:"username" json:"-"`
	Password string `koanf:"password" json:"-"`

	PollInterval time.Duration `koanf:"poll_interval" json:"poll_interval"`
	ErrorBackoff time.Duration `koanf:"error_backoff" json:"error_backoff"`
	Headless     bool          `koanf:"headless" json:"headless"`

	ScalingMode    ScalingMode   `koanf:"scaling_mode" json:"scaling_mode"`
	PoolMinWorkers int           `koanf:"pool_min_workers" json:"pool_min_workers"`
	PoolMaxWorkers int           `koanf:"pool_max_workers" json:"pool_max_workers"`
	PoolIdleTimeout time.Duration `koanf:"pool_idle_timeout" json:"pool_idle_timeout"`
	PoolBasePort   int           `koanf:"pool_base_port" json:"pool_base_port"`
	PoolRuntime    string        `koanf:"pool_runtime" json:"pool_runtime"`

	NavigatorBackend NavigatorBackend `koanf:"navigator_backend" json:"navigator_backend"`
	NavigatorMode    string           `koanf:"navigator_mode" json:"navigator_mode"`
	GeminiAPIKey     string           `koanf:"gemini_api_key" json:"-"`
	GeminiModel      string           `koanf:"gemini_model" json:"gemini_model"`
	OllamaBaseURL    string           `koanf:"ollama_base_url" json:"ollama_base_url"`
	OllamaModel      string           `koanf:"ollama_model" json:"ollama_model"`
	ReasonerRateLimit float64         `koanf:"reasoner_rate_limit" json:"reasoner_rate_limit"`

	PortalURL   string `koanf:"portal_url" json:"portal_url"`
	BrowserPath string `koanf:"browser_path" json:"browser_path"`
	ProfileRoot string `koanf:"profile_root" json:"profile_root"`

	// ScreenshotS3Bucket, when set, archives Result images to S3 and
	// submits a presigned URL in their place instead of inline base64.
	ScreenshotS3Bucket string `koanf:"screenshot_s3_bucket" json:"-"`

	// HistoryMongoURI, when set, enables the Navigator's navigation-
	// history cache against this MongoDB instance.
	HistoryMongoURI string `koanf:"history_mongo_uri" json:"-"`

	// StatusAddr, when set, starts the optional local status/debug HTTP
	// surface (GET /healthz, /status, and, if DebugTunnel, /debug/ws/*).
	StatusAddr     string   `koanf:"status_addr" json:"status_addr"`
	DebugTunnel    bool     `koanf:"debug_tunnel" json:"debug_tunnel"`
	AllowedOrigins []string `koanf:"allowed_origins" json:"-"`

	LogLevel string `koanf:"log_level" json:"log_level"`

	// LogFormat selects the zap encoder: "console" (default) or
	// "logfmt". logfmt is the flat key=value shape log aggregators
	// parse more easily than zap's multi-line console encoding.
	LogFormat string `koanf:"log_format" json:"log_format"`
}

// envKey maps MITCHELL_SHOP_ID -> shop_id, MITCHELL_POOL_MIN_WORKERS ->
// pool_min_workers, and so on, so one naming scheme serves both layers.
// MITCHELL_SERVER_URL is accepted as an alias of MITCHELL_SERVER_URLS.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "MITCHELL_"))
	if s == "server_url" {
		return "server_urls"
	}
	return s
}

// Load builds an AgentConfig from compiled-in defaults, then
// MITCHELL_*-prefixed environment variables and NAVIGATOR_*-prefixed ones
// (NAVIGATOR_BACKEND -> navigator_backend), then an optional file (if
// path is non-empty), applying each layer over the last. A server URL
// value may be a comma-separated list.
func Load(path string) (*AgentConfig, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultConfigYAML), yaml.Parser()); err != nil {
		return nil, apxerrors.E(apxerrors.ConfigInvalid, err)
	}

	if err := k.Load(env.Provider("MITCHELL_", ".", envKey), nil); err != nil {
		return nil, apxerrors.E(apxerrors.ConfigInvalid, err)
	}
	if err := k.Load(env.Provider("NAVIGATOR_", ".", strings.ToLower), nil); err != nil {
		return nil, apxerrors.E(apxerrors.ConfigInvalid, err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, apxerrors.E(apxerrors.ConfigInvalid, err)
		}
	}

	var cfg AgentConfig
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, apxerrors.E(apxerrors.ConfigInvalid, err)
	}

	var urls []string
	for _, u := range cfg.ServerURLs {
		urls = append(urls, splitNonEmpty(u, ",")...)
	}
	cfg.ServerURLs = urls

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate enforces the required fields and value sets documented in
// the environment-variable and CLI surface.
func (c *AgentConfig) Validate() error {
	ve := apxerrors.ValidationErrs()

	if c.ShopID == "" {
		ve.Add("shop_id", "MITCHELL_SHOP_ID is required")
	}
	if len(c.ServerURLs) == 0 {
		ve.Add("server_urls", "at least one MITCHELL_SERVER_URL is required")
	}
	switch c.ScalingMode {
	case ScalingSingle, ScalingPool, ScalingOnDemand:
	default:
		ve.Add("scaling_mode", "must be one of single, pool, ondemand")
	}
	switch c.NavigatorBackend {
	case BackendGemini, BackendOllama, BackendServer:
	default:
		ve.Add("navigator_backend", "must be one of gemini, ollama, server")
	}
	if c.PoolMaxWorkers < c.PoolMinWorkers {
		ve.Add("pool_max_workers", "must be >= pool_min_workers")
	}

	return ve.Err()
}
