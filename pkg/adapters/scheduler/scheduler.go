// Package scheduler runs periodic housekeeping: dashboard cache eviction and
// store maintenance.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

const (
	PurgeSchedule       = "@every 1m"
	MaintenanceSchedule = "@every 10m"
	maintenanceTimeout  = 5 * time.Minute
)

// CachePurger drops expired cache entries and reports how many went.
type CachePurger interface {
	PurgeExpired() int
}

type Scheduler struct {
	cron *cron.Cron
	log  logrus.FieldLogger
}

func New(logger logrus.FieldLogger) *Scheduler {
	log := logger.WithField("component", "scheduler")
	cl := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: log,
	}
}

// AddCachePurge evicts expired dashboard snapshots on schedule.
func (s *Scheduler) AddCachePurge(schedule string, purger CachePurger) error {
	_, err := s.cron.AddFunc(schedule, s.purgeJob(purger))
	return err
}

// AddMaintenance runs store housekeeping on schedule.
func (s *Scheduler) AddMaintenance(schedule string, m ports.Maintainer) error {
	_, err := s.cron.AddFunc(schedule, s.maintenanceJob(m))
	return err
}

func (s *Scheduler) purgeJob(purger CachePurger) func() {
	return func() {
		if n := purger.PurgeExpired(); n > 0 {
			s.log.WithField("evicted", n).Debug("Purged expired dashboard snapshots")
		}
	}
}

func (s *Scheduler) maintenanceJob(m ports.Maintainer) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
		defer cancel()

		start := time.Now()
		if err := m.Maintain(ctx); err != nil {
			s.log.WithError(err).Warn("Store maintenance failed")
			return
		}
		s.log.WithField("took", time.Since(start).String()).Debug("Store maintenance done")
	}
}

func (s *Scheduler) Start() {
	s.log.WithField("jobs", len(s.cron.Entries())).Info("Scheduler started")
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts logrus.FieldLogger to cron's logger interface.
type cronLogger struct {
	logger logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			f[key] = keysAndValues[i+1]
		}
	}
	return f
}
