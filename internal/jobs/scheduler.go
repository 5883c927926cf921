package jobs

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is a scheduled batch task. Runs of the same job never overlap.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler drives the daily batch jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Logger
}

func NewScheduler(log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log,
	}
}

// Register schedules a job with a standard 5-field cron spec. A
// failed run is logged and retried at the next scheduled invocation.
func (s *Scheduler) Register(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.log.WithField("job", job.Name()).Info("Job run starting")
		if err := job.Run(context.Background()); err != nil {
			s.log.WithField("job", job.Name()).Errorf("Job run failed: %v", err)
		}
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
