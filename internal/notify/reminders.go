package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"filegate/api/internal/store"
)

type OverdueLister interface {
	ListOverdue(ctx context.Context, now time.Time) ([]store.FileRecord, error)
}

type ReminderEmitter interface {
	EmitReminder(ctx context.Context, file store.FileRecord)
}

// Reminders periodically nudges reviewers about overdue files.
type Reminders struct {
	files   OverdueLister
	emitter ReminderEmitter
	logger  *slog.Logger
	now     func() time.Time
	cron    *cron.Cron
}

func NewReminders(files OverdueLister, emitter ReminderEmitter, logger *slog.Logger) *Reminders {
	return &Reminders{
		files:   files,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
		cron:    cron.New(),
	}
}

// Start schedules the sweep with a standard five-field cron spec.
func (r *Reminders) Start(schedule string) error {
	if _, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error("overdue reminder sweep", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule reminders %q: %w", schedule, err)
	}
	r.cron.Start()
	r.logger.Info("overdue reminders scheduled", slog.String("schedule", schedule))
	return nil
}

// Stop waits for a running sweep to finish.
func (r *Reminders) Stop() {
	<-r.cron.Stop().Done()
}

// Sweep emits one reminder per overdue file and returns how many it found.
func (r *Reminders) Sweep(ctx context.Context) (int, error) {
	files, err := r.files.ListOverdue(ctx, r.now().UTC())
	if err != nil {
		return 0, err
	}
	for _, file := range files {
		r.emitter.EmitReminder(ctx, file)
	}
	if len(files) > 0 {
		r.logger.Info("overdue reminders emitted", slog.Int("files", len(files)))
	}
	return len(files), nil
}
