// Command mitchell-agent runs one polling agent process: it loads
// configuration, builds the Reasoner backend, Worker Pool, and
// Multi-Server Poller the configuration selects, and runs the Agent
// Service loop until a shutdown signal arrives or the poller gives up
// after too many consecutive errors.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"mitchell-agent/agent/archive"
	"mitchell-agent/agent/browser"
	"mitchell-agent/agent/handler"
	"mitchell-agent/agent/navigator"
	"mitchell-agent/agent/pool"
	"mitchell-agent/agent/poller"
	"mitchell-agent/agent/reasoner"
	"mitchell-agent/agent/service"
	"mitchell-agent/agent/tools"
	"mitchell-agent/agent/tunnel"
	"mitchell-agent/config"
	agenthttp "mitchell-agent/http"
	"mitchell-agent/logger"
)

// cli declares the flag surface documented in the environment-variable
// and CLI surface section; every flag overrides the matching config key
// when set, per the defaults < env < file < flags precedence order.
var cli struct {
	ShopID       string   `help:"Shop identifier this agent polls for." env:"MITCHELL_SHOP_ID"`
	ServerURL    []string `help:"Job server base URL (repeatable, or comma-separated)." env:"MITCHELL_SERVER_URLS" sep:","`
	PollInterval string   `help:"Interval between pending-request sweeps (e.g. 2s)."`
	Headless     bool     `help:"Run the browser headless." default:"true"`
	Config       string   `help:"Path to a config file layered over defaults and environment." type:"existingfile"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("mitchell-agent"),
		kong.Description("Polls job servers and drives ShopKeyPro lookups via a headless browser."),
	)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg)

	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)

	backend, err := buildReasonerBackend(cfg)
	if err != nil {
		logger.Fatal("reasoner backend unavailable", zap.Error(err))
	}
	reasonerClient := reasoner.NewClient(backend, cfg.ReasonerRateLimit)

	var runtime pool.SpawnRuntime
	if cfg.PoolRuntime == "docker" {
		runtime = pool.NewContainerRuntime()
	}

	// archive.New returns a typed nil when no bucket is configured;
	// keep the pool.Config field a true nil interface in that case
	// rather than a non-nil interface wrapping a nil pointer.
	var archiver handler.Archiver
	if a := archive.New(cfg.ScreenshotS3Bucket); a != nil {
		archiver = a
	}

	var history *navigator.HistoryCache
	if cfg.HistoryMongoURI != "" {
		h, err := navigator.NewHistoryCache(context.Background(), cfg.HistoryMongoURI)
		if err != nil {
			logger.Warn("navigation history cache unavailable, continuing without it", zap.Error(err))
		} else {
			history = h
		}
	}

	workerPool := pool.New(pool.Config{
		Mode:           scalingModeFrom(cfg.ScalingMode),
		MinWorkers:     cfg.PoolMinWorkers,
		MaxWorkers:     cfg.PoolMaxWorkers,
		IdleTimeout:    cfg.PoolIdleTimeout,
		BasePort:       cfg.PoolBasePort,
		ProfileRoot:    cfg.ProfileRoot,
		SessionTimeout: cfg.PoolIdleTimeout,
		PortalURL:      cfg.PortalURL,
		Credentials: browser.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Headless:        cfg.Headless,
		Reasoner:        reasonerClient,
		ToolsFactory:    tools.Registry,
		Clarify:         cliClarify,
		AllowAutonomous: cfg.NavigatorMode == "autonomous",
		Runtime:         runtime,
		ShopID:          cfg.ShopID,
		Archiver:        archiver,
		History:         history,
	})

	multiPoller := poller.New(cfg.ShopID, cfg.ServerURLs)

	svc := service.New(service.Config{
		PollInterval: cfg.PollInterval,
		ErrorBackoff: cfg.ErrorBackoff,
		MaxWorkers:   cfg.PoolMaxWorkers,
	}, workerPool, multiPoller)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.StatusAddr != "" {
		startStatusServer(ctx, cfg, workerPool)
	}

	if err := svc.Run(ctx); err != nil {
		logger.Error("agent service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// startStatusServer brings up the optional local status/debug HTTP
// surface in the background; it is torn down when ctx is canceled at
// the end of main. A listen failure is logged, not fatal: the agent's
// poll loop does not depend on this surface.
func startStatusServer(ctx context.Context, cfg *config.AgentConfig, p *pool.WorkerPool) {
	var tunnelServer *tunnel.Server
	if cfg.DebugTunnel {
		tunnelServer = tunnel.New(func(id int) (tunnel.Screenshotter, bool) {
			return p.WorkerByID(id)
		})
	}
	srv := agenthttp.NewServer(logger.Logger, cfg.AllowedOrigins, p, tunnelServer)
	go func() {
		if err := srv.Listen(ctx, cfg.StatusAddr); err != nil && err != http.ErrServerClosed {
			logger.Error("status server exited with error", zap.Error(err))
		}
	}()
}

// applyFlagOverrides layers explicitly-set CLI flags over the
// file/env/defaults-resolved config, matching the flags-win-last rule.
func applyFlagOverrides(cfg *config.AgentConfig) {
	if cli.ShopID != "" {
		cfg.ShopID = cli.ShopID
	}
	if len(cli.ServerURL) > 0 {
		cfg.ServerURLs = cli.ServerURL
	}
	if cli.PollInterval != "" {
		if d, err := time.ParseDuration(cli.PollInterval); err == nil {
			cfg.PollInterval = d
		}
	}
	cfg.Headless = cli.Headless
}

func scalingModeFrom(m config.ScalingMode) pool.ScalingMode {
	switch m {
	case config.ScalingPool:
		return pool.Pool
	case config.ScalingOnDemand:
		return pool.OnDemand
	default:
		return pool.Single
	}
}

func buildReasonerBackend(cfg *config.AgentConfig) (reasoner.Backend, error) {
	switch cfg.NavigatorBackend {
	case config.BackendOllama:
		return reasoner.NewOllamaBackend(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	case config.BackendServer:
		return reasoner.NewServerBackend(cfg.ServerURLs[0], cfg.ShopID), nil
	default:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("navigator_backend gemini requires MITCHELL_GEMINI_API_KEY")
		}
		return reasoner.NewGeminiBackend(cfg.GeminiAPIKey, cfg.GeminiModel), nil
	}
}

// cliClarify resolves an ambiguous vehicle-selector field by failing the
// request rather than blocking on interactive input: an unattended
// polling agent has no operator to ask.
func cliClarify(optionName string, availableValues []string, message string) (string, bool) {
	return "", false
}
