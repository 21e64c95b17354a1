package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/example/heaven-sync/internal/attempts"
	"github.com/example/heaven-sync/internal/db"
	"github.com/example/heaven-sync/internal/domain/reservation"
	"github.com/example/heaven-sync/internal/heaven"
	"github.com/example/heaven-sync/internal/logging"
)

// Queue is the part of the attempt store the scheduler drives.
type Queue interface {
	ClaimNext(ctx context.Context) (attempts.Attempt, error)
	Complete(ctx context.Context, id uuid.UUID, res heaven.Result) error
	Heartbeat(ctx context.Context) (int64, error)
	FailStale(ctx context.Context, lease time.Duration) (int64, error)
}

// DefaultLease is how long a claimed attempt survives without a heartbeat
// before another process may fail it.
const DefaultLease = 2 * time.Minute

type Syncer interface {
	Sync(ctx context.Context, req reservation.Request) (heaven.Result, error)
}

// Scheduler polls the queue for attempts and runs them, at most Concurrency
// at a time. Attempts are never retried automatically.
type Scheduler struct {
	// Lease bounds how long an attempt stays claimed without a heartbeat.
	// Heartbeats go out every Lease/4.
	Lease time.Duration

	queue    Queue
	syncer   Syncer
	interval time.Duration
	sem      *semaphore.Weighted
	wake     chan struct{}

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

func New(q Queue, s Syncer, interval time.Duration, concurrency int) *Scheduler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		Lease:    DefaultLease,
		queue:    q,
		syncer:   s,
		interval: interval,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		wake:     make(chan struct{}, 1),
	}
}

// Notify asks for a poll now instead of at the next tick.
func (s *Scheduler) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done, then waits for running attempts to finish.
// Running attempts are not cancelled with ctx; a browser left mid-form would
// leave a half-made reservation behind. Leases are renewed until the last
// attempt is done.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	if n, err := s.queue.FailStale(ctx, s.lease()); err != nil {
		logger.Error("failed to fail stale attempts", "error", err)
	} else if n > 0 {
		logger.Warn("failed attempts whose worker stopped renewing its lease", "count", n)
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()
	beat := time.NewTicker(s.lease() / 4)
	defer beat.Stop()

	// kick immediately
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.drain(context.WithoutCancel(ctx), beat.C)
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		case <-s.wake:
			s.tick(ctx)
		case <-beat.C:
			s.heartbeat(ctx)
		}
	}
}

func (s *Scheduler) lease() time.Duration {
	if s.Lease <= 0 {
		return DefaultLease
	}
	return s.Lease
}

// drain waits for running attempts, renewing their leases meanwhile.
func (s *Scheduler) drain(ctx context.Context, beat <-chan time.Time) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			return
		case <-beat:
			s.heartbeat(ctx)
		}
	}
}

func (s *Scheduler) heartbeat(ctx context.Context) {
	running := s.inFlight.Load()
	if running == 0 {
		return
	}
	logger := logging.FromContext(ctx)
	n, err := s.queue.Heartbeat(ctx)
	if err != nil {
		logger.Error("scheduler: heartbeat failed", "error", err)
		metricPollErrors.Inc()
		return
	}
	if n == 0 && s.inFlight.Load() > 0 {
		logger.Warn("scheduler: no lease renewed for running attempts", "running", running)
	}
}

// tick claims queued attempts while there is capacity.
func (s *Scheduler) tick(ctx context.Context) {
	logger := logging.FromContext(ctx)
	for ctx.Err() == nil {
		if !s.sem.TryAcquire(1) {
			return
		}
		a, err := s.queue.ClaimNext(ctx)
		if err != nil {
			s.sem.Release(1)
			if !db.IsNotFound(err) {
				logger.Error("scheduler: claim failed", "error", err)
				metricPollErrors.Inc()
			}
			return
		}

		s.wg.Add(1)
		s.inFlight.Add(1)
		metricInFlight.Inc()
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer s.inFlight.Add(-1)
			defer metricInFlight.Dec()
			s.runAttempt(context.WithoutCancel(ctx), a)
		}()
	}
}

func (s *Scheduler) runAttempt(ctx context.Context, a attempts.Attempt) {
	logger := logging.FromContext(ctx).With("attempt_id", a.ID)
	ctx = logging.ContextWithLogger(ctx, logger)
	logger.Info("attempt started", "reservation_id", a.ReservationID, "retry_of", a.RetryOf)

	res, _ := s.syncer.Sync(ctx, a.Request)
	err := s.queue.Complete(ctx, a.ID, res)
	switch {
	case db.IsNotFound(err):
		logger.Error("attempt was failed by another worker after its lease expired; result not recorded",
			"success", res.Success, "cause", res.Cause, "after_submit", res.AfterSubmit)
	case err != nil:
		logger.Error("failed to record attempt result", "error", err, "success", res.Success, "cause", res.Cause)
	}
}
