package notify

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyroom/internal/apperr"
)

// Delivery statuses of a NotificationRecord.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Record is one delivery attempt to one audience.
type Record struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	StudentID string    `json:"student_id"`
	EventType string    `json:"event_type"`
	Audience  string    `json:"audience"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Cost      int       `json:"cost"`
	Price     int       `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordStore persists delivery records.
type RecordStore interface {
	SaveRecord(ctx context.Context, r Record) error
}

var (
	_ RecordStore = (*RecordRepository)(nil)
	_ RecordStore = (*MemoryRecords)(nil)
)

// RecordRepository writes records to notification_logs.
type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) SaveRecord(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var errMsg *string
	if rec.Error != "" {
		errMsg = &rec.Error
	}
	var studentID *string
	if rec.StudentID != "" {
		studentID = &rec.StudentID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_logs
			(id, org_id, student_id, event_type, audience, channel, recipient, message, status, error_message, cost, price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, rec.ID, rec.OrgID, studentID, rec.EventType, rec.Audience, rec.Channel, rec.Recipient,
		rec.Message, rec.Status, errMsg, rec.Cost, rec.Price, rec.CreatedAt)
	if err != nil {
		return apperr.Persistence("insert notification record", err)
	}
	return nil
}

// MemoryRecords keeps records in memory.
type MemoryRecords struct {
	mu      sync.Mutex
	records []Record
}

func (m *MemoryRecords) SaveRecord(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

// All returns a copy of the stored records.
func (m *MemoryRecords) All() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
