package lesson

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"studyroom/internal/apperr"
	"studyroom/internal/store"
)

var (
	ErrLessonNotFound = apperr.NotFound("lesson not found")
	ErrAlreadySent    = apperr.Conflict("lesson report already sent")
)

type Lesson struct {
	ID                 string     `json:"id"`
	OrgID              string     `json:"org_id"`
	StudentID          string     `json:"student_id"`
	Subject            string     `json:"subject"`
	TeacherName        string     `json:"teacher_name"`
	LessonDate         string     `json:"lesson_date"`
	Content            string     `json:"content"`
	KeyPoint           string     `json:"key_point"`
	TeacherComment     string     `json:"teacher_comment"`
	DirectorComment    string     `json:"director_comment"`
	Homework           string     `json:"homework"`
	ReviewTip          string     `json:"review_tip"`
	NotificationSent   bool       `json:"notification_sent"`
	NotificationSentAt *time.Time `json:"notification_sent_at,omitempty"`
}

// Store persists lessons. Claim flips notification_sent from false to true
// and reports whether this call did it.
type Store interface {
	Lesson(ctx context.Context, orgID, id string) (Lesson, error)
	Claim(ctx context.Context, orgID, id string, at time.Time) (bool, error)
	Release(ctx context.Context, orgID, id string) error
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Lesson(ctx context.Context, orgID, id string) (Lesson, error) {
	var l Lesson
	err := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, student_id, subject, teacher_name, to_char(lesson_date, 'YYYY-MM-DD'),
			content, key_point, teacher_comment, director_comment, homework, review_tip,
			notification_sent, notification_sent_at
		FROM lessons WHERE id = $1 AND org_id = $2
	`, id, orgID).Scan(&l.ID, &l.OrgID, &l.StudentID, &l.Subject, &l.TeacherName, &l.LessonDate,
		&l.Content, &l.KeyPoint, &l.TeacherComment, &l.DirectorComment, &l.Homework, &l.ReviewTip,
		&l.NotificationSent, &l.NotificationSentAt)
	if err != nil {
		if store.IsNotFound(err) {
			return Lesson{}, ErrLessonNotFound
		}
		return Lesson{}, apperr.Persistence("load lesson", err)
	}
	return l, nil
}

func (r *Repository) Claim(ctx context.Context, orgID, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE lessons SET notification_sent = TRUE, notification_sent_at = $3
		WHERE id = $1 AND org_id = $2 AND notification_sent = FALSE
	`, id, orgID, at)
	if err != nil {
		return false, apperr.Persistence("claim lesson notification", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("claim lesson notification", err)
	}
	return n == 1, nil
}

func (r *Repository) Release(ctx context.Context, orgID, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE lessons SET notification_sent = FALSE, notification_sent_at = NULL
		WHERE id = $1 AND org_id = $2
	`, id, orgID)
	if err != nil {
		return apperr.Persistence("release lesson notification", err)
	}
	return nil
}

type MemoryStore struct {
	mu      sync.Mutex
	lessons map[string]*Lesson
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lessons: map[string]*Lesson{}}
}

func (m *MemoryStore) PutLesson(l Lesson) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lessons[l.ID] = &l
}

func (m *MemoryStore) Lesson(_ context.Context, orgID, id string) (Lesson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[id]
	if !ok || l.OrgID != orgID {
		return Lesson{}, ErrLessonNotFound
	}
	return *l, nil
}

func (m *MemoryStore) Claim(_ context.Context, orgID, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lessons[id]
	if !ok || l.OrgID != orgID || l.NotificationSent {
		return false, nil
	}
	l.NotificationSent = true
	l.NotificationSentAt = &at
	return true, nil
}

func (m *MemoryStore) Release(_ context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lessons[id]; ok && l.OrgID == orgID {
		l.NotificationSent = false
		l.NotificationSentAt = nil
	}
	return nil
}
