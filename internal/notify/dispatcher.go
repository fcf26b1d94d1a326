package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"filegate/api/internal/lifecycle"
	"filegate/api/internal/store"
	"filegate/api/internal/util"
)

type Sink interface {
	InsertNotification(ctx context.Context, n store.Notification) error
}

type Publisher interface {
	Publish(ctx context.Context, recipientID string, msg Message) error
}

type Mailer interface {
	IsConfigured() bool
	SendNotification(to, recipientName, title, message, fileID string) error
}

type job func(ctx context.Context) ([]Draft, error)

// Dispatcher is the notification emitter. Emit calls only enqueue; workers
// build, persist and deliver. A full queue drops the job with a log line: a
// lost notification never affects a file's status.
type Dispatcher struct {
	builder    *Builder
	recipients *Recipients
	sink       Sink
	publisher  Publisher
	mailer     Mailer
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string

	queue   chan job
	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
}

type DispatcherConfig struct {
	QueueSize int
	Workers   int
}

func NewDispatcher(builder *Builder, recipients *Recipients, sink Sink, publisher Publisher, mailer Mailer, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		builder:    builder,
		recipients: recipients,
		sink:       sink,
		publisher:  publisher,
		mailer:     mailer,
		logger:     logger,
		now:        time.Now,
		newID:      util.NewID,
		queue:      make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.workers.Add(1)
		go d.run()
	}
	return d
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.workers.Wait()
}

// Emit implements the workflow emitter.
func (d *Dispatcher) Emit(ctx context.Context, event lifecycle.Event) {
	d.enqueue(func(ctx context.Context) ([]Draft, error) {
		return d.builder.ForTransition(ctx, event)
	})
}

func (d *Dispatcher) EmitComment(ctx context.Context, event CommentEvent) {
	d.enqueue(func(ctx context.Context) ([]Draft, error) {
		return d.builder.ForComment(ctx, event)
	})
}

func (d *Dispatcher) EmitPasswordReset(ctx context.Context, user store.User) {
	d.enqueue(func(ctx context.Context) ([]Draft, error) {
		return d.builder.ForPasswordReset(ctx, user)
	})
}

func (d *Dispatcher) EmitReminder(ctx context.Context, file store.FileRecord) {
	d.enqueue(func(ctx context.Context) ([]Draft, error) {
		return d.builder.ForReminder(ctx, file)
	})
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		droppedTotal.Inc()
		d.logger.Warn("notification dropped: dispatcher closed")
		return
	}
	select {
	case d.queue <- j:
	default:
		droppedTotal.Inc()
		d.logger.Warn("notification dropped: queue full")
	}
}

func (d *Dispatcher) run() {
	defer d.workers.Done()
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		drafts, err := j(ctx)
		if err != nil {
			d.logger.Error("build notifications", slog.Any("error", err))
		} else {
			d.Deliver(ctx, drafts)
		}
		cancel()
	}
}

// Deliver persists and pushes drafts synchronously. Failures are logged per
// recipient and channel.
func (d *Dispatcher) Deliver(ctx context.Context, drafts []Draft) {
	for _, draft := range drafts {
		if !draft.Type.Valid() {
			d.logger.Error("notification type outside the closed set", slog.String("type", string(draft.Type)))
			continue
		}
		n := store.Notification{
			ID:          d.newID(),
			RecipientID: draft.RecipientID,
			Type:        string(draft.Type),
			FileID:      optional(draft.FileID),
			ActorID:     optional(draft.ActorID),
			Title:       draft.Title,
			Message:     draft.Message,
			CreatedAt:   d.now().UTC(),
		}
		err := d.sink.InsertNotification(ctx, n)
		observe("store", err)
		if err != nil {
			d.logger.Error("store notification", slog.String("recipient_id", n.RecipientID), slog.Any("error", err))
			continue
		}

		if d.publisher != nil {
			err := d.publisher.Publish(ctx, n.RecipientID, Message{
				ID: n.ID, Type: draft.Type, FileID: draft.FileID, Title: n.Title, Message: n.Message, CreatedAt: n.CreatedAt,
			})
			observe("redis", err)
			if err != nil {
				d.logger.Warn("publish notification", slog.String("recipient_id", n.RecipientID), slog.Any("error", err))
			}
		}

		if d.mailer != nil && d.mailer.IsConfigured() {
			err := d.mail(ctx, draft)
			observe("email", err)
			if err != nil {
				d.logger.Warn("mail notification", slog.String("recipient_id", n.RecipientID), slog.Any("error", err))
			}
		}
	}
}

func (d *Dispatcher) mail(ctx context.Context, draft Draft) error {
	user, err := d.recipients.User(ctx, draft.RecipientID)
	if err != nil {
		return err
	}
	if user.Email == "" {
		return errors.New("recipient has no email")
	}
	return d.mailer.SendNotification(user.Email, user.DisplayName, draft.Title, draft.Message, draft.FileID)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
