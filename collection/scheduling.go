package collection

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/background"
	"golang.org/x/sync/errgroup"
)

const DefaultPollingInterval = time.Minute

// Scheduled is a task the scheduler submits under Key.
type Scheduled struct {
	Task Task
	Key  string
}

// SchedulerConfig wires the scheduler to the stored settings. LastFire and
// SetLastFire read and write background.<name>.last_fire.
type SchedulerConfig struct {
	// shows in the logs, like "score"
	Name        string
	Times       func() []string
	LastFire    func() time.Time
	SetLastFire func(time.Time) error
	// the tasks of one fire, like one grade check per account
	Tasks func() []Scheduled
	Now   func() time.Time
}

// Scheduler fires a background check at the configured times.
type Scheduler struct {
	pool   *Pool
	cfg    SchedulerConfig
	guard  background.Guard
	logger *log.Entry
}

func NewScheduler(pool *Pool, cfg SchedulerConfig) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := log.WithField("component", "scheduler")
	if cfg.Name != "" {
		logger = logger.WithField("check", cfg.Name)
	}
	return &Scheduler{pool: pool, cfg: cfg, logger: logger}
}

// Tick runs the check when a fire time passed since the last run. It
// blocks until every submitted worker is done and returns how many
// finished.
func (s *Scheduler) Tick(ctx context.Context) (fired bool, finished uint32, err error) {
	now := s.cfg.Now()
	due, err := background.Due(now, s.cfg.LastFire(), s.cfg.Times())
	if err != nil || !due {
		return false, 0, err
	}
	if !s.guard.Enter() {
		s.logger.Debug("previous background check still running")
		return false, 0, nil
	}
	defer s.guard.Leave()

	// a failed run waits for the next slot instead of retrying every tick
	if err := s.cfg.SetLastFire(now); err != nil {
		return false, 0, err
	}

	var done atomic.Uint32
	var eg errgroup.Group
	for _, job := range s.cfg.Tasks() {
		eg.Go(func() error {
			w, err := s.pool.Submit(ctx, job.Task, WithKey(job.Key))
			if err != nil {
				return err
			}
			if w.Outcome() == EventFinished {
				done.Add(1)
			}
			return nil
		})
	}
	err = eg.Wait()
	s.logger.WithField("finished", done.Load()).Info("background check done")
	return true, done.Load(), err
}

// Run calls Tick every interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, _, err := s.Tick(ctx); err != nil {
			s.logger.WithError(err).Warn("background check failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
