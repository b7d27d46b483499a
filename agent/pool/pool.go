// Package pool manages the lifecycle of Workers under one of three
// scaling modes and provides scoped acquisition with a concurrency
// bound.
package pool

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"mitchell-agent/agent/browser"
	"mitchell-agent/agent/handler"
	"mitchell-agent/agent/navigator"
	"mitchell-agent/agent/reasoner"
	"mitchell-agent/agent/worker"
	"mitchell-agent/errors"
	"mitchell-agent/logger"
)

// ScalingMode selects one of the three pool-management strategies.
type ScalingMode int

const (
	// Single runs exactly one Worker; the concurrency bound is 1.
	Single ScalingMode = iota
	// Pool pre-spawns MinWorkers and scales between MinWorkers and
	// MaxWorkers via a periodic scaler task.
	Pool
	// OnDemand spawns a Worker per acquisition and kills it on release.
	OnDemand
)

const (
	scalerInterval = 10 * time.Second
	acquirePollInterval = 1 * time.Second
	acquirePollTimeout  = 30 * time.Second
)

// MarshalJSON renders the mode as its String() form rather than the
// underlying int, so the status endpoint reads "pool" not "1".
func (m ScalingMode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

func (m ScalingMode) String() string {
	switch m {
	case Pool:
		return "pool"
	case OnDemand:
		return "ondemand"
	default:
		return "single"
	}
}

// Config configures a WorkerPool.
type Config struct {
	Mode           ScalingMode
	MinWorkers     int
	MaxWorkers     int
	IdleTimeout    time.Duration
	BasePort       int
	ProfileRoot    string
	SessionTimeout time.Duration

	PortalURL   string
	Credentials browser.Credentials
	Headless    bool
	Reasoner    *reasoner.Client
	// ToolsFactory builds each Worker's tool-dispatch table from that
	// Worker's own page; see worker.Config.ToolsFactory.
	ToolsFactory    func(playwright.Page) map[string]handler.ToolFunc
	Clarify         navigator.ClarificationFunc
	AllowAutonomous bool

	ShopID   string
	Archiver handler.Archiver

	// History is an optional navigation-history cache shared across
	// every Worker this pool spawns; nil disables it.
	History *navigator.HistoryCache

	// Runtime selects how a Worker's browser process comes to exist;
	// nil defaults to processRuntime.
	Runtime SpawnRuntime
}

// SpawnRuntime abstracts how a Worker's underlying browser process is
// brought up, so the default local-process strategy and the Docker
// container strategy share the same Pool bookkeeping.
type SpawnRuntime interface {
	// Prepare runs before worker.Start and returns the effective
	// DebugPort the Worker's Driver should attach to (the container
	// strategy rewrites this to the container's published port).
	Prepare(ctx context.Context, w *worker.Worker) (debugPort int, err error)
	// Teardown runs after worker.Stop.
	Teardown(w *worker.Worker)
}

// WorkerPool owns a set of live Workers and hands out scoped
// acquisitions bounded by a semaphore of capacity MaxWorkers (1 for
// Single).
type WorkerPool struct {
	cfg Config
	sem *semaphore.Weighted

	mu      sync.Mutex
	workers map[int]*worker.Worker
	nextID  int

	runtime SpawnRuntime

	scalerCancel context.CancelFunc
	scalerDone   chan struct{}
}

// New constructs a WorkerPool; call Start to bring it up.
func New(cfg Config) *WorkerPool {
	cap := cfg.MaxWorkers
	if cfg.Mode == Single {
		cap = 1
	}
	runtime := cfg.Runtime
	if runtime == nil {
		runtime = processRuntime{}
	}
	return &WorkerPool{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cap)),
		workers: make(map[int]*worker.Worker),
		runtime: runtime,
	}
}

// Start initializes the pool for its configured mode: Pool mode
// pre-spawns MinWorkers and launches the scaler task; Single and
// OnDemand do nothing further (OnDemand spawns lazily on acquire).
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.cfg.Mode == Pool {
		for i := 0; i < p.cfg.MinWorkers; i++ {
			if _, err := p.spawnWorker(ctx); err != nil {
				logger.Error("initial worker spawn failed", zap.Int("index", i), zap.Error(err))
			}
		}
		p.startScaler(ctx)
	}
	return nil
}

// Handle is a scoped acquisition: the Worker is Busy for its lifetime
// and must be released exactly once.
type Handle struct {
	pool   *WorkerPool
	Worker *worker.Worker
}

// Release returns the Worker to the pool (or kills it, in OnDemand
// mode) and frees the semaphore slot.
func (h *Handle) Release() {
	h.pool.release(h.Worker)
}

// Acquire blocks until a concurrency slot is free, then yields a Busy
// Worker. In OnDemand mode it spawns a fresh Worker per call; otherwise
// it polls for an Idle Worker for up to 30s (spawning one if the pool
// is below capacity and none appears idle).
func (p *WorkerPool) Acquire(ctx context.Context) (*Handle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.E(errors.Internal, err)
	}

	if p.cfg.Mode == OnDemand {
		w, err := p.spawnWorker(ctx)
		if err != nil {
			p.sem.Release(1)
			return nil, err
		}
		w.MarkBusy()
		return &Handle{pool: p, Worker: w}, nil
	}

	deadline := time.Now().Add(acquirePollTimeout)
	for {
		p.mu.Lock()
		var claimed *worker.Worker
		for _, w := range p.workers {
			if w.State() == worker.StateIdle {
				w.MarkBusy()
				claimed = w
				break
			}
		}
		p.mu.Unlock()
		if claimed != nil {
			return &Handle{pool: p, Worker: claimed}, nil
		}
		if p.liveCount() < p.effectiveMax() {
			if w, err := p.spawnWorker(ctx); err == nil {
				w.MarkBusy()
				return &Handle{pool: p, Worker: w}, nil
			}
		}
		if time.Now().After(deadline) {
			p.sem.Release(1)
			return nil, errors.M(errors.Internal, "no idle worker available after 30s")
		}
		time.Sleep(acquirePollInterval)
	}
}

func (p *WorkerPool) release(w *worker.Worker) {
	defer p.sem.Release(1)
	if p.cfg.Mode == OnDemand {
		p.killWorker(w.ID)
		return
	}
	w.MarkIdle()
}

func (p *WorkerPool) effectiveMax() int {
	if p.cfg.Mode == Single {
		return 1
	}
	return p.cfg.MaxWorkers
}

func (p *WorkerPool) findIdle() *worker.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.State() == worker.StateIdle {
			return w
		}
	}
	return nil
}

// WorkerByID returns the live Worker with the given ID, for the debug
// tunnel's lookup function. The bool is false if no such Worker is
// currently registered.
func (p *WorkerPool) WorkerByID(id int) (*worker.Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[id]
	return w, ok
}

func (p *WorkerPool) liveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// spawnWorker allocates a free port and exclusive profile directory,
// constructs and starts a Worker, and registers it. On any failure the
// Worker is not registered.
func (p *WorkerPool) spawnWorker(ctx context.Context) (*worker.Worker, error) {
	p.mu.Lock()
	if len(p.workers) >= p.effectiveMax() {
		p.mu.Unlock()
		return nil, errors.M(errors.Internal, "worker pool at capacity")
	}
	p.nextID++
	id := p.nextID
	port, err := p.allocatePortLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	// The uuid suffix keeps a relaunched Worker from reusing a profile
	// directory an earlier process with the same sequential id left on
	// disk (e.g. after a crash-restart), which Chrome otherwise treats
	// as a locked, already-in-use profile.
	profileDir := filepath.Join(p.cfg.ProfileRoot, fmt.Sprintf("worker-%d-%s", id, uuid.New().String()))
	p.mu.Unlock()

	w := worker.New(worker.Config{
		ID:              id,
		Port:            port,
		ProfileDir:      profileDir,
		PortalURL:       p.cfg.PortalURL,
		Credentials:     p.cfg.Credentials,
		Headless:        p.cfg.Headless,
		SessionTimeout:  p.cfg.SessionTimeout,
		Reasoner:        p.cfg.Reasoner,
		ToolsFactory:    p.cfg.ToolsFactory,
		Clarify:         p.cfg.Clarify,
		AllowAutonomous: p.cfg.AllowAutonomous,
		ShopID:          p.cfg.ShopID,
		Archiver:        p.cfg.Archiver,
		History:         p.cfg.History,
	})

	effectivePort, err := p.runtime.Prepare(ctx, w)
	if err != nil {
		return nil, err
	}
	if effectivePort != port {
		w.OverrideDebugPort(effectivePort)
	}
	if err := w.Start(ctx); err != nil {
		p.runtime.Teardown(w)
		return nil, err
	}

	p.mu.Lock()
	p.workers[id] = w
	p.mu.Unlock()
	return w, nil
}

// allocatePortLocked probes upward from BasePort for the first port
// with no listener bound, skipping every port already assigned to a
// live Worker. Caller must hold p.mu.
func (p *WorkerPool) allocatePortLocked() (int, error) {
	used := make(map[int]bool, len(p.workers))
	for _, w := range p.workers {
		used[w.Port] = true
	}
	for port := p.cfg.BasePort; port < p.cfg.BasePort+10000; port++ {
		if used[port] {
			continue
		}
		if !portBound(port) {
			return port, nil
		}
	}
	return 0, errors.M(errors.Internal, "no free port found")
}

func portBound(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// killWorker stops and deregisters a Worker under the pool lock.
func (p *WorkerPool) killWorker(id int) {
	p.mu.Lock()
	w, ok := p.workers[id]
	if ok {
		delete(p.workers, id)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := w.Stop(); err != nil {
		logger.Error("worker stop failed", zap.Int("worker_id", id), zap.Error(err))
	}
	p.runtime.Teardown(w)
}

// startScaler launches the Pool-mode scaler task: every 10s, scale up
// if no Worker is idle and the pool is below max, else scale down one
// idle Worker past IdleTimeout, never below MinWorkers.
func (p *WorkerPool) startScaler(ctx context.Context) {
	scalerCtx, cancel := context.WithCancel(ctx)
	p.scalerCancel = cancel
	p.scalerDone = make(chan struct{})

	go func() {
		defer close(p.scalerDone)
		ticker := time.NewTicker(scalerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-scalerCtx.Done():
				return
			case <-ticker.C:
				p.scaleTick(scalerCtx)
			}
		}
	}()
}

func (p *WorkerPool) scaleTick(ctx context.Context) {
	if p.findIdle() == nil && p.liveCount() < p.cfg.MaxWorkers {
		if _, err := p.spawnWorker(ctx); err != nil {
			logger.Error("scaler scale-up failed", zap.Error(err))
		}
		return
	}

	p.mu.Lock()
	var victim *worker.Worker
	if len(p.workers) > p.cfg.MinWorkers {
		for _, w := range p.workers {
			if w.State() != worker.StateIdle || w.IdleSince() <= p.cfg.IdleTimeout {
				continue
			}
			victim = w
			break
		}
	}
	p.mu.Unlock()

	if victim != nil {
		p.killWorker(victim.ID)
	}
}

// Stop cancels the scaler (if running) and stops every live Worker.
func (p *WorkerPool) Stop() {
	if p.scalerCancel != nil {
		p.scalerCancel()
		<-p.scalerDone
	}

	p.mu.Lock()
	ids := make([]int, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.killWorker(id)
	}
}

// Stats summarizes the pool for the optional status HTTP surface.
type Stats struct {
	Mode       ScalingMode
	LiveCount  int
	MinWorkers int
	MaxWorkers int
}

func (p *WorkerPool) Stats() Stats {
	return Stats{
		Mode:       p.cfg.Mode,
		LiveCount:  p.liveCount(),
		MinWorkers: p.cfg.MinWorkers,
		MaxWorkers: p.cfg.MaxWorkers,
	}
}
