package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"studyroom/internal/metrics"
	"studyroom/internal/queue"
	"studyroom/internal/template"
)

// Dispatching is what the drainer needs from the immediate path.
type Dispatching interface {
	Dispatch(ctx context.Context, ev Event) (Summary, error)
}

// Drainer processes pending queue items through the immediate path.
type Drainer struct {
	store      QueueStore
	dispatch   Dispatching
	batch      int
	maxRetries int
	staleAfter time.Duration
	log        *slog.Logger
}

func NewDrainer(s QueueStore, d Dispatching, batch, maxRetries int, log *slog.Logger) *Drainer {
	if log == nil {
		log = slog.Default()
	}
	if batch <= 0 {
		batch = 50
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Drainer{store: s, dispatch: d, batch: batch, maxRetries: maxRetries, staleAfter: 10 * time.Minute, log: log}
}

var errUndelivered = errors.New("no audience received the message")

// Batch reports what one RunOnce did.
type Batch struct {
	Claimed   int
	Completed int
}

// RunOnce claims one batch and processes it.
func (d *Drainer) RunOnce(ctx context.Context) (Batch, error) {
	items, err := d.store.Claim(ctx, d.batch)
	if err != nil {
		return Batch{}, err
	}
	b := Batch{Claimed: len(items)}
	for _, it := range items {
		if d.process(ctx, it) {
			b.Completed++
		}
	}
	return b, nil
}

func (d *Drainer) process(ctx context.Context, it QueueItem) bool {
	log := d.log.With(
		slog.String("queue_id", it.ID),
		slog.String("org_id", it.OrgID),
		slog.String("student_id", it.StudentID),
		slog.String("event_type", it.EventType),
	)

	sum, err := d.dispatch.Dispatch(ctx, Event{
		OrgID:     it.OrgID,
		StudentID: it.StudentID,
		Type:      template.EventType(it.EventType),
		Vars:      it.Payload,
	})
	if err == nil && sum.Retryable() {
		err = fmt.Errorf("%w: %s", errUndelivered, firstError(sum))
	}
	if err == nil {
		if cerr := d.store.Complete(ctx, it.ID); cerr != nil {
			log.ErrorContext(ctx, "mark queue item completed failed", slog.Any("error", cerr))
			return false
		}
		metrics.QueueItems.WithLabelValues(QueueCompleted).Inc()
		log.InfoContext(ctx, "queue item completed", slog.Int("sent", sum.Sent()))
		return true
	}

	status, ferr := d.store.Fail(ctx, it.ID, err.Error(), d.maxRetries)
	if ferr != nil {
		log.ErrorContext(ctx, "mark queue item failed", slog.Any("error", ferr))
		return false
	}
	metrics.QueueItems.WithLabelValues(status).Inc()
	if status == QueueFailed {
		log.ErrorContext(ctx, "queue item failed permanently", slog.Int("attempts", it.RetryCount+1), slog.Any("error", err))
	} else {
		log.WarnContext(ctx, "queue item will be retried", slog.Int("attempts", it.RetryCount+1), slog.Any("error", err))
	}
	return false
}

func firstError(s Summary) string {
	for _, r := range s.Records {
		if r.Error != "" {
			return r.Error
		}
	}
	return ""
}

// Run drains on every tick and on every wake-up signal until ctx is done.
func (d *Drainer) Run(ctx context.Context, interval time.Duration, wake <-chan queue.Message) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if n, err := d.store.ReleaseStale(ctx, d.staleAfter); err != nil {
		d.log.ErrorContext(ctx, "release stale queue items failed", slog.Any("error", err))
	} else if n > 0 {
		d.log.InfoContext(ctx, "released stale queue items", slog.Int("count", n))
	}

	d.drainAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainAll(ctx)
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			d.drainAll(ctx)
		}
	}
}

// drainAll keeps claiming full batches. It stops at a short batch or at
// any failure, so retried items wait for the next tick.
func (d *Drainer) drainAll(ctx context.Context) {
	for ctx.Err() == nil {
		b, err := d.RunOnce(ctx)
		if err != nil {
			d.log.ErrorContext(ctx, "drain batch failed", slog.Any("error", err))
			return
		}
		if b.Claimed < d.batch || b.Completed < b.Claimed {
			return
		}
	}
}
