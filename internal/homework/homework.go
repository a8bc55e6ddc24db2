// Package homework creates assignments and tells the assigned students.
package homework

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyroom/internal/apperr"
	"studyroom/internal/logging"
	"studyroom/internal/metrics"
	"studyroom/internal/notify"
	"studyroom/internal/org"
	"studyroom/internal/store"
	"studyroom/internal/template"
)

type Homework struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Subject     string    `json:"subject"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueDate     string    `json:"due_date"`
	StudentIDs  []string  `json:"student_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

type Input struct {
	Subject     string   `json:"subject"`
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	DueDate     string   `json:"due_date" binding:"required"`
	StudentIDs  []string `json:"student_ids" binding:"required"`
}

type Store interface {
	Create(ctx context.Context, hw Homework) error
}

type Directory interface {
	Students(ctx context.Context, orgID string, ids []string) ([]org.Student, error)
}

type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) notify.Summary
}

type Service struct {
	store    Store
	dir      Directory
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

func NewService(s Store, dir Directory, n Notifier, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: s, dir: dir, notifier: n, log: log, now: time.Now}
}

// Created is the homework plus the number of students who were told.
type Created struct {
	Homework Homework `json:"homework"`
	Notified int      `json:"notified"`
}

// Create stores the homework and its assignees, then sends assignment_new
// to each assignee. Notification failures never fail the call.
func (s *Service) Create(ctx context.Context, orgID string, in Input) (Created, error) {
	hw, err := s.validate(ctx, orgID, in)
	if err != nil {
		return Created{}, err
	}
	if err := s.store.Create(ctx, hw); err != nil {
		return Created{}, err
	}

	due, _ := time.Parse(time.DateOnly, hw.DueDate)
	vars := template.Vars{
		template.VarAssignmentName: hw.Title,
		template.VarSubject:        template.OrDash(hw.Subject),
		template.VarDueDate:        template.FormatDate(due),
	}

	ctx = context.WithoutCancel(ctx)
	notified := 0
	for _, id := range hw.StudentIDs {
		sum := s.notifier.Notify(ctx, notify.Event{OrgID: orgID, StudentID: id, Type: template.EventAssignmentNew, Vars: vars})
		if sum.Sent() > 0 {
			notified++
		} else {
			metrics.SecondaryFailures.WithLabelValues("notify").Inc()
			s.log.WarnContext(ctx, "assignment notification not delivered",
				logging.Org(orgID), logging.Student(id), slog.String("homework_id", hw.ID))
		}
	}
	return Created{Homework: hw, Notified: notified}, nil
}

func (s *Service) validate(ctx context.Context, orgID string, in Input) (Homework, error) {
	var fields []apperr.FieldError
	title := strings.TrimSpace(in.Title)
	if title == "" {
		fields = append(fields, apperr.FieldError{Field: "title", Error: "required"})
	}
	if _, err := time.Parse(time.DateOnly, in.DueDate); err != nil {
		fields = append(fields, apperr.FieldError{Field: "due_date", Error: "must be YYYY-MM-DD"})
	}
	ids := dedupe(in.StudentIDs)
	if len(ids) == 0 {
		fields = append(fields, apperr.FieldError{Field: "student_ids", Error: "required"})
	}
	if len(fields) > 0 {
		return Homework{}, apperr.Validation("invalid homework", fields...)
	}

	found, err := s.dir.Students(ctx, orgID, ids)
	if err != nil {
		return Homework{}, err
	}
	if len(found) != len(ids) {
		return Homework{}, apperr.Wrap(org.ErrStudentNotFound, fmt.Errorf("%d of %d students not found", len(ids)-len(found), len(ids)))
	}

	return Homework{
		ID:          uuid.NewString(),
		OrgID:       orgID,
		Subject:     strings.TrimSpace(in.Subject),
		Title:       title,
		Description: in.Description,
		DueDate:     in.DueDate,
		StudentIDs:  ids,
		CreatedAt:   s.now(),
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, hw Homework) error {
	return store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO homework (id, org_id, subject, title, description, due_date, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, hw.ID, hw.OrgID, hw.Subject, hw.Title, hw.Description, hw.DueDate, hw.CreatedAt); err != nil {
			return apperr.Persistence("insert homework", err)
		}
		for _, id := range hw.StudentIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO homework_assignees (homework_id, student_id) VALUES ($1, $2)
			`, hw.ID, id); err != nil {
				return apperr.Persistence("insert homework assignee", err)
			}
		}
		return nil
	})
}

// MemoryStore keeps homework in memory.
type MemoryStore struct {
	mu    sync.Mutex
	items []Homework
}

func (m *MemoryStore) Create(_ context.Context, hw Homework) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, hw)
	return nil
}

func (m *MemoryStore) All() []Homework {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Homework(nil), m.items...)
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)
