// Package worker binds one Browser Driver, Session Manager, Navigator, and
// Request Handler to a unique port and profile directory, and tracks the
// resulting unit's lifecycle state and running stats.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"mitchell-agent/agent/browser"
	"mitchell-agent/agent/handler"
	"mitchell-agent/agent/navigator"
	"mitchell-agent/agent/reasoner"
	"mitchell-agent/agent/session"
	"mitchell-agent/models/request"
	"mitchell-agent/models/result"
)

// State is the Worker lifecycle state machine:
// Starting -> Idle <-> Busy -> Stopping; a failed Start moves to Error.
type State int

const (
	StateStarting State = iota
	StateIdle
	StateBusy
	StateStopping
	StateError
)

// Stats tracks per-Worker running counters, surfaced for the optional
// status HTTP endpoint and for the Pool's scale-down idle check.
type Stats struct {
	RequestsCompleted  int64
	RequestsFailed     int64
	TotalProcessingTime time.Duration
	LastActiveTs       time.Time
	CreatedTs          time.Time
}

// Worker is never shared: the Pool that creates it is the only thing that
// transitions it between Idle and Busy.
type Worker struct {
	ID         int
	Port       int
	ProfileDir string

	mu    sync.Mutex
	state State
	stats Stats

	driver  *browser.Driver
	session *session.Manager
	handler *handler.Handler

	cfg Config
}

// Config is everything a Worker needs to construct its owned Driver,
// Session Manager, Navigator, and Handler.
type Config struct {
	ID             int
	Port           int
	ProfileDir     string
	PortalURL      string
	Credentials    browser.Credentials
	Headless       bool
	SessionTimeout time.Duration
	Reasoner       *reasoner.Client
	// ToolsFactory builds the tool-dispatch table; it takes the
	// Driver's page, which does not exist until Start connects, so it
	// is invoked from Start rather than New.
	ToolsFactory    func(playwright.Page) map[string]handler.ToolFunc
	Clarify         navigator.ClarificationFunc
	AllowAutonomous bool

	// ShopID and Archiver configure optional S3 screenshot archival;
	// Archiver nil means images stay inline as base64.
	ShopID   string
	Archiver handler.Archiver

	// History is an optional navigation-history cache shared across every
	// Worker in the pool; nil disables it.
	History *navigator.HistoryCache
}

// New constructs a Worker in Starting state. It does not launch the
// browser; call Start for that.
func New(cfg Config) *Worker {
	driver := browser.New(browser.Config{
		PortalURL:   cfg.PortalURL,
		ProfileDir:  cfg.ProfileDir,
		DebugPort:   cfg.Port,
		Headless:    cfg.Headless,
		Credentials: cfg.Credentials,
	})
	sess := session.New(driver, cfg.SessionTimeout)

	return &Worker{
		ID:         cfg.ID,
		Port:       cfg.Port,
		ProfileDir: cfg.ProfileDir,
		state:      StateStarting,
		stats:      Stats{CreatedTs: time.Now()},
		driver:     driver,
		session:    sess,
		cfg:        cfg,
	}
}

// OverrideDebugPort lets a SpawnRuntime (the container runtime, in
// particular) rewrite the port this Worker's Driver attaches to after
// Prepare has brought up the underlying browser process. Must be called
// before Start.
func (w *Worker) OverrideDebugPort(port int) {
	w.Port = port
	w.driver.SetDebugPort(port)
}

// Start launches the Browser Driver's process, puts it into a clean
// logged-out state, wires the Navigator and Handler (which need a live
// page, unavailable until the Driver connects), and starts the
// idle-timeout watcher, transitioning to Idle.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.driver.EnsureCleanState(); err != nil {
		w.setState(StateError)
		return err
	}

	page := w.driver.Page()
	nav := navigator.New(page, w.cfg.Reasoner).WithHistory(w.cfg.History)
	var autonomous *handler.AutonomousEnv
	if w.cfg.AllowAutonomous {
		autonomous = &handler.AutonomousEnv{
			Screenshotter:  w.driver,
			ElementClicker: w.driver,
			Reasoner:       w.cfg.Reasoner,
		}
	}

	var tools map[string]handler.ToolFunc
	if w.cfg.ToolsFactory != nil {
		tools = w.cfg.ToolsFactory(page)
	}
	w.handler = handler.New(w.session, nav, tools, w.cfg.Clarify, autonomous).WithArchiver(w.cfg.Archiver, w.cfg.ShopID)

	w.session.StartTimeoutWatcher(ctx)
	w.setState(StateIdle)
	return nil
}

// Stop tears the Worker down: stops the timeout watcher, logs out, and
// disconnects the Browser Driver.
func (w *Worker) Stop() error {
	w.setState(StateStopping)
	w.session.StopTimeoutWatcher()
	_ = w.session.Logout()
	return w.driver.Disconnect()
}

// Execute runs one Request to completion; equivalent to
// handler.Handler.Process for this Worker. The Pool is responsible for the
// Idle->Busy transition before calling this and Busy->Idle after it
// returns.
func (w *Worker) Execute(req request.Request) result.Result {
	start := time.Now()
	res, outcome := w.handler.Process(req)

	w.mu.Lock()
	w.stats.LastActiveTs = time.Now()
	w.stats.TotalProcessingTime += time.Since(start)
	if res.Success {
		w.stats.RequestsCompleted++
	} else {
		w.stats.RequestsFailed++
	}
	w.mu.Unlock()

	w.applySessionOutcome(outcome)
	return res
}

func (w *Worker) applySessionOutcome(outcome handler.Outcome) {
	switch outcome {
	case handler.OutcomeLogout:
		_ = w.session.Logout()
	case handler.OutcomeSessionNeverEstablished, handler.OutcomeKeepWarm, handler.OutcomeClarification:
		// no action: session stays as the handler left it
	}
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.stats.LastActiveTs = time.Now()
	w.mu.Unlock()
}

// MarkBusy is called by the Pool when it hands this Worker out: under the
// pool lock when claiming an Idle Worker, and right after registration
// for a freshly spawned one.
func (w *Worker) MarkBusy() { w.setState(StateBusy) }

// MarkIdle is called by the Pool when the acquisition scope is released
// (Handle.Release), after Execute has returned.
func (w *Worker) MarkIdle() { w.setState(StateIdle) }

// Stats returns a copy of the Worker's current counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// IdleSince reports how long this Worker has been Idle, for the Pool
// scaler's idle_timeout check. Only meaningful when State() == StateIdle.
func (w *Worker) IdleSince() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.stats.LastActiveTs)
}

// Screenshot captures the Worker's current page, for the debug tunnel's
// frame stream. Satisfies agent/tunnel.Screenshotter.
func (w *Worker) Screenshot() ([]byte, error) {
	return w.driver.Screenshot()
}
