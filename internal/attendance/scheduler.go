package attendance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const jobTimeout = 4 * time.Minute

// Scheduler runs the daily absentee sweep and the periodic cleanup.
type Scheduler struct {
	c   *cron.Cron
	svc *Service
	log *zap.Logger
}

// cronLogger feeds robfig/cron's logger interface into zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}

// NewScheduler registers both jobs; an empty spec leaves that job out.
// Specs are read in the attendance zone.
func NewScheduler(svc *Service, log *zap.Logger, absenteeSpec, cleanupSpec string) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{s: log.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLocation(Zone),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s := &Scheduler{c: c, svc: svc, log: log}

	if absenteeSpec != "" {
		if _, err := c.AddFunc(absenteeSpec, s.runAbsentees); err != nil {
			return nil, err
		}
	}
	if cleanupSpec != "" {
		if _, err := c.AddFunc(cleanupSpec, s.runCleanup); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) runAbsentees() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.svc.AutoMarkAbsentees(ctx, AbsenteesInput{}); err != nil {
		s.log.Error("scheduled absentee sweep failed", zap.Error(err))
	}
}

func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.svc.CleanupOld(ctx, CleanupInput{}); err != nil {
		s.log.Error("scheduled cleanup failed", zap.Error(err))
	}
}

// Jobs is the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.c.Entries()) }

func (s *Scheduler) Start() { s.c.Start() }

// Stop halts scheduling and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
