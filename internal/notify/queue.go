package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyroom/internal/apperr"
	"studyroom/internal/metrics"
	"studyroom/internal/queue"
	"studyroom/internal/store"
	"studyroom/internal/template"
)

// Queue item statuses. Completed and failed are terminal.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueCompleted  = "completed"
	QueueFailed     = "failed"
)

// QueueItem is a durable, deferred notification.
type QueueItem struct {
	ID          string        `json:"id"`
	OrgID       string        `json:"org_id"`
	EventType   string        `json:"event_type"`
	StudentID   string        `json:"student_id"`
	ContextKey  string        `json:"context_key"`
	Payload     template.Vars `json:"payload"`
	Status      string        `json:"status"`
	RetryCount  int           `json:"retry_count"`
	Error       string        `json:"error_message,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
}

// Item is one entry of an enqueue batch.
type Item struct {
	StudentID  string
	ContextKey string
	Vars       template.Vars
}

// QueueStore persists queue items. InsertBatch skips items whose
// (org, event, student, context key) already exists and reports how many
// rows were actually inserted.
type QueueStore interface {
	InsertBatch(ctx context.Context, items []QueueItem) (int, error)
	Claim(ctx context.Context, limit int) ([]QueueItem, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, reason string, maxRetries int) (string, error)
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)
}

var (
	_ QueueStore = (*QueueRepository)(nil)
	_ QueueStore = (*MemoryQueue)(nil)
)

// Queue is the producer side of the deferred path.
type Queue struct {
	store QueueStore
	wake  queue.Queue
	log   *slog.Logger
	now   func() time.Time
}

// NewQueue creates a producer. A nil wake queue leaves the worker to poll.
func NewQueue(s QueueStore, wake queue.Queue, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{store: s, wake: wake, log: log, now: time.Now}
}

// EnqueueBatch inserts one item per entry and returns the number of new
// rows. Re-enqueueing an existing (event, student, context key) is a no-op.
func (q *Queue) EnqueueBatch(ctx context.Context, orgID string, event template.EventType, items []Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	rows := make([]QueueItem, 0, len(items))
	for _, it := range items {
		if it.StudentID == "" || it.ContextKey == "" {
			return 0, apperr.Validation("queue item requires student and context key")
		}
		rows = append(rows, QueueItem{
			ID:         uuid.NewString(),
			OrgID:      orgID,
			EventType:  string(event),
			StudentID:  it.StudentID,
			ContextKey: it.ContextKey,
			Payload:    it.Vars,
			Status:     QueuePending,
			CreatedAt:  q.now(),
		})
	}
	n, err := q.store.InsertBatch(ctx, rows)
	if err != nil {
		return 0, err
	}
	metrics.QueueItems.WithLabelValues(QueuePending).Add(float64(n))

	if n > 0 && q.wake != nil {
		if err := q.wake.Publish(ctx, queue.Message{Type: queue.TypeDrain, Body: []byte(orgID)}); err != nil {
			q.log.WarnContext(ctx, "queue wake-up publish failed", slog.String("org_id", orgID), slog.Any("error", err))
		}
	}
	return n, nil
}

// QueueRepository is the Postgres queue store.
type QueueRepository struct {
	db *sql.DB
}

func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) InsertBatch(ctx context.Context, items []QueueItem) (int, error) {
	inserted := 0
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO notification_queue (id, org_id, event_type, student_id, context_key, payload, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
			ON CONFLICT (org_id, event_type, student_id, context_key) DO NOTHING
		`)
		if err != nil {
			return apperr.Persistence("prepare queue insert", err)
		}
		defer stmt.Close()

		for _, it := range items {
			payload, err := json.Marshal(it.Payload)
			if err != nil {
				return apperr.Persistence("encode queue payload", err)
			}
			res, err := stmt.ExecContext(ctx, it.ID, it.OrgID, it.EventType, it.StudentID, it.ContextKey, payload, it.CreatedAt)
			if err != nil {
				return apperr.Persistence("insert queue item", err)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Claim moves up to limit pending items to processing. Concurrent workers
// never claim the same row.
func (r *QueueRepository) Claim(ctx context.Context, limit int) ([]QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE notification_queue SET status = 'processing', claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, org_id, event_type, student_id, context_key, payload, retry_count, created_at
	`, limit)
	if err != nil {
		return nil, apperr.Persistence("claim queue items", err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		var (
			it  QueueItem
			raw []byte
		)
		if err := rows.Scan(&it.ID, &it.OrgID, &it.EventType, &it.StudentID, &it.ContextKey, &raw, &it.RetryCount, &it.CreatedAt); err != nil {
			return nil, apperr.Persistence("scan queue item", err)
		}
		if err := json.Unmarshal(raw, &it.Payload); err != nil {
			return nil, apperr.Persistence(fmt.Sprintf("decode payload of %s", it.ID), err)
		}
		it.Status = QueueProcessing
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("claim queue items", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *QueueRepository) Complete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = 'completed', processed_at = NOW(), error_message = NULL
		WHERE id = $1 AND status = 'processing'
	`, id)
	if err != nil {
		return apperr.Persistence("complete queue item", err)
	}
	return nil
}

// Fail records a failed attempt. The item returns to pending until
// maxRetries attempts have failed, then becomes failed. It returns the
// resulting status.
func (r *QueueRepository) Fail(ctx context.Context, id, reason string, maxRetries int) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `
		UPDATE notification_queue
		SET retry_count = retry_count + 1,
			error_message = $2,
			status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END,
			processed_at = CASE WHEN retry_count + 1 >= $3 THEN NOW() ELSE NULL END
		WHERE id = $1 AND status = 'processing'
		RETURNING status
	`, id, reason, maxRetries).Scan(&status)
	if err != nil {
		if store.IsNotFound(err) {
			return "", apperr.NotFound("queue item not processing")
		}
		return "", apperr.Persistence("fail queue item", err)
	}
	return status, nil
}

// ReleaseStale returns items stuck in processing, e.g. after a worker
// crash, to pending.
func (r *QueueRepository) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_queue SET status = 'pending'
		WHERE status = 'processing' AND claimed_at < NOW() - ($1 * interval '1 second')
	`, olderThan.Seconds())
	if err != nil {
		return 0, apperr.Persistence("release stale queue items", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MemoryQueue is an in-memory QueueStore enforcing the same uniqueness.
type MemoryQueue struct {
	mu    sync.Mutex
	items []*QueueItem
	keys  map[string]bool
	now   func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{keys: map[string]bool{}, now: time.Now}
}

func (m *MemoryQueue) InsertBatch(_ context.Context, items []QueueItem) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range items {
		k := it.OrgID + "|" + it.EventType + "|" + it.StudentID + "|" + it.ContextKey
		if m.keys[k] {
			continue
		}
		m.keys[k] = true
		it := it
		it.Status = QueuePending
		m.items = append(m.items, &it)
		n++
	}
	return n, nil
}

func (m *MemoryQueue) Claim(_ context.Context, limit int) ([]QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []QueueItem
	for _, it := range m.items {
		if len(out) >= limit {
			break
		}
		if it.Status == QueuePending {
			it.Status = QueueProcessing
			out = append(out, *it)
		}
	}
	return out, nil
}

func (m *MemoryQueue) Complete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == id && it.Status == QueueProcessing {
			it.Status = QueueCompleted
			now := m.now()
			it.ProcessedAt = &now
			it.Error = ""
		}
	}
	return nil
}

func (m *MemoryQueue) Fail(_ context.Context, id, reason string, maxRetries int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID != id || it.Status != QueueProcessing {
			continue
		}
		it.RetryCount++
		it.Error = reason
		it.Status = QueuePending
		if it.RetryCount >= maxRetries {
			it.Status = QueueFailed
			now := m.now()
			it.ProcessedAt = &now
		}
		return it.Status, nil
	}
	return "", apperr.NotFound("queue item not processing")
}

func (m *MemoryQueue) ReleaseStale(context.Context, time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Status == QueueProcessing {
			it.Status = QueuePending
			n++
		}
	}
	return n, nil
}

// Items returns a snapshot of all items.
func (m *MemoryQueue) Items() []QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueueItem, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, *it)
	}
	return out
}
