// Package scheduler runs the periodic maintenance jobs: the outbox relay,
// favorites reconciliation and listing expiry.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/repository"
)

// Maintenance is the engine surface the jobs call.
type Maintenance interface {
	ReconcileFavoriteCounts(ctx context.Context, actorID *uint64) ([]repository.FavoriteDrift, error)
	ExpireFeatured(ctx context.Context) (int64, error)
	ExpireListings(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Relay publishes due outbox rows.
type Relay interface {
	RunOnce(ctx context.Context) (int, error)
}

// Config holds the job schedules.  An empty spec disables its job; a nil
// Relay or zero RelayEvery disables the relay.
type Config struct {
	ReconcileCron string
	ExpiryCron    string
	ListingMaxAge time.Duration
	RelayEvery    time.Duration
}

// Scheduler owns the cron runner.  Jobs never overlap with themselves and a
// panicking job is logged and recovered.
type Scheduler struct {
	cfg    Config
	eng    Maintenance
	relay  Relay
	log    logrus.FieldLogger
	cron   *cron.Cron
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

type cronLogger struct{ log logrus.FieldLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.WithFields(fields(kv)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.WithError(err).WithFields(fields(kv)).Error("cron: " + msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

// New registers the configured jobs.  It fails on an invalid cron spec.
func New(cfg Config, eng Maintenance, relay Relay, log logrus.FieldLogger) (*Scheduler, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "scheduler")
	cl := cronLogger{log: log}
	s := &Scheduler{
		cfg:   cfg,
		eng:   eng,
		relay: relay,
		log:   log,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if cfg.ReconcileCron != "" {
		if _, err := s.cron.AddFunc(cfg.ReconcileCron, s.reconcile); err != nil {
			return nil, fmt.Errorf("invalid RECONCILE_CRON %q: %w", cfg.ReconcileCron, err)
		}
	}
	if cfg.ExpiryCron != "" {
		if _, err := s.cron.AddFunc(cfg.ExpiryCron, s.expire); err != nil {
			return nil, fmt.Errorf("invalid EXPIRY_CRON %q: %w", cfg.ExpiryCron, err)
		}
	}
	if relay != nil && cfg.RelayEvery > 0 {
		s.cron.Schedule(cron.Every(cfg.RelayEvery), cron.FuncJob(s.runRelay))
	}
	return s, nil
}

// Jobs is the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("jobs", s.Jobs()).Info("scheduler started")
}

// Stop cancels running jobs and waits for them to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) reconcile() {
	started := time.Now()
	fixed, err := s.eng.ReconcileFavoriteCounts(s.ctx, nil)
	if err != nil {
		s.log.WithError(err).Error("favorites reconciliation failed")
		return
	}
	s.log.WithFields(logrus.Fields{"repaired": len(fixed), "duration": time.Since(started)}).Info("favorites reconciliation finished")
}

func (s *Scheduler) expire() {
	featured, err := s.eng.ExpireFeatured(s.ctx)
	if err != nil {
		s.log.WithError(err).Error("featured expiry failed")
	}
	var listings int64
	if s.cfg.ListingMaxAge > 0 {
		listings, err = s.eng.ExpireListings(s.ctx, s.cfg.ListingMaxAge)
		if err != nil {
			s.log.WithError(err).Error("listing expiry failed")
		}
	}
	if featured > 0 || listings > 0 {
		s.log.WithFields(logrus.Fields{"featured_cleared": featured, "listings_expired": listings}).Info("expiry finished")
	}
}

func (s *Scheduler) runRelay() {
	if _, err := s.relay.RunOnce(s.ctx); err != nil {
		s.log.WithError(err).Warn("outbox relay run failed")
	}
}
