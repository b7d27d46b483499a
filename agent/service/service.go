// Package service runs the top-level poll-dispatch-shutdown loop that
// ties the Multi-Server Poller, Worker Pool, and Request Handler
// together into one running agent process.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"mitchell-agent/agent/poller"
	"mitchell-agent/agent/pool"
	"mitchell-agent/logger"
	"mitchell-agent/models/request"
	"mitchell-agent/services/shutdown"
)

const (
	defaultPollInterval  = 2 * time.Second
	defaultErrorBackoff  = 10 * time.Second
	maxConsecutiveErrors = 10
	inFlightDrainTimeout = 30 * time.Second
)

// Config configures the Agent Service loop.
type Config struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	MaxWorkers   int
}

// Service owns the Worker Pool and Poller for one agent process and
// runs the poll-claim-dispatch-submit loop until shut down.
type Service struct {
	cfg         Config
	pool        *pool.WorkerPool
	poller      *poller.MultiServerPoller
	coordinator *shutdown.Coordinator

	// requestSem bounds in-flight Requests a second time, independent
	// of the Pool's own semaphore, per the defense-in-depth invariant.
	requestSem *semaphore.Weighted

	wg sync.WaitGroup
}

// New constructs a Service bound to an already-built Worker Pool and
// Multi-Server Poller.
func New(cfg Config, p *pool.WorkerPool, mp *poller.MultiServerPoller) *Service {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	return &Service{
		cfg:         cfg,
		pool:        p,
		poller:      mp,
		coordinator: shutdown.NewCoordinator(inFlightDrainTimeout),
		requestSem:  semaphore.NewWeighted(int64(cfg.MaxWorkers)),
	}
}

// Run starts the Worker Pool, installs signal handlers, and blocks
// running the poll loop until shut down (by signal or by ctx
// cancellation).
func (s *Service) Run(ctx context.Context) error {
	if err := s.pool.Start(ctx); err != nil {
		return err
	}

	s.coordinator.RegisterHandler("worker_pool", shutdown.CreateWorkerPoolShutdown(s.pool))
	s.coordinator.RegisterHandler("poller", shutdown.CreatePollerShutdown())
	s.coordinator.Start()

	defer s.drainAndStop()

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.coordinator.ShutdownChan():
			return nil
		default:
		}

		reqs, errCount := s.poller.GetAllPending(ctx)

		if errCount > 0 {
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutiveErrors {
				logger.Error("stopping agent service after consecutive poll errors",
					zap.Int("consecutive_errors", consecutiveErrors))
				return nil
			}
			s.sleep(ctx, s.cfg.ErrorBackoff)
			continue
		}
		consecutiveErrors = 0

		if len(reqs) == 0 {
			s.sleep(ctx, s.cfg.PollInterval)
			continue
		}

		for _, req := range reqs {
			req := req
			req.TraceID = uuid.New().String()
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.process(ctx, req)
			}()
		}
	}
}

// process runs one Request through claim -> acquire -> execute ->
// release -> submit, bounded a second time by requestSem for defense
// in depth beyond the Pool's own semaphore.
func (s *Service) process(ctx context.Context, req request.Request) {
	if err := s.requestSem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.requestSem.Release(1)

	claimed, err := s.poller.ClaimRequest(ctx, req)
	if err != nil {
		logger.Warn("claim failed", zap.String("request_id", req.ID), zap.String("trace_id", req.TraceID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	handle, err := s.pool.Acquire(ctx)
	if err != nil {
		logger.Error("worker acquisition failed", zap.String("request_id", req.ID), zap.String("trace_id", req.TraceID), zap.Error(err))
		return
	}
	defer handle.Release()

	res := handle.Worker.Execute(req)

	if err := s.poller.SubmitResult(ctx, req, res); err != nil {
		logger.Error("result submission failed", zap.String("request_id", req.ID), zap.String("trace_id", req.TraceID), zap.Error(err))
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// drainAndStop waits up to 30s for in-flight process() goroutines,
// then stops the Worker Pool regardless (killing any orphaned
// browsers) and closes the Poller.
func (s *Service) drainAndStop() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(inFlightDrainTimeout):
		logger.Warn("shutdown drain timeout exceeded, orphaning in-flight requests")
	}

	s.coordinator.Shutdown()
}
