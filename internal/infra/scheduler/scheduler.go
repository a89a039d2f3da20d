package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ReminderRunner is the slice of the reminder coordinator the scheduler drives.
type ReminderRunner interface {
	RunDueReminders(ctx context.Context) error
}

// ReminderScheduler triggers the automated next-day reminder run on a cron
// spec from configuration.
type ReminderScheduler struct {
	cronEngine *cron.Cron
	reminders  ReminderRunner
	log        *logrus.Entry
	cronSpec   string
}

func NewReminderScheduler(reminders ReminderRunner, log *logrus.Entry, cronSpec string) *ReminderScheduler {
	return &ReminderScheduler{
		cronEngine: cron.New(cron.WithLocation(time.Local)), // Use server's local time for cron
		reminders:  reminders,
		log:        log,
		cronSpec:   cronSpec,
	}
}

func (s *ReminderScheduler) Start() error {
	_, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.log.Info("Cron job triggered for scheduled reminder run")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.reminders.RunDueReminders(ctx); err != nil {
			s.log.WithError(err).Error("Scheduled reminder run failed")
		}
	})
	if err != nil {
		return err
	}

	s.cronEngine.Start()
	s.log.WithField("spec", s.cronSpec).Info("Reminder scheduler started")
	return nil
}

func (s *ReminderScheduler) Stop() {
	s.log.Info("Stopping reminder scheduler...")
	ctx := s.cronEngine.Stop() // Waits for running jobs.
	<-ctx.Done()
	s.log.Info("Reminder scheduler gracefully stopped")
}
