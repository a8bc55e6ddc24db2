package exam

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyroom/internal/apperr"
	"studyroom/internal/store"
)

var ErrExamNotFound = apperr.NotFound("exam not found")

type Exam struct {
	ID       string  `json:"id"`
	OrgID    string  `json:"org_id"`
	Title    string  `json:"title"`
	MaxScore float64 `json:"max_score"`
	ExamDate string  `json:"exam_date"`
}

// Score is one student's result. Rank is over the whole exam cohort.
type Score struct {
	ID        string    `json:"id"`
	ExamID    string    `json:"exam_id"`
	StudentID string    `json:"student_id"`
	Score     float64   `json:"score"`
	Rank      int       `json:"rank"`
	Feedback  string    `json:"feedback,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is a submitted score.
type Entry struct {
	StudentID string  `json:"student_id"`
	Score     float64 `json:"score"`
	Feedback  string  `json:"feedback,omitempty"`
}

// Store persists exams and scores. UpsertScores replaces the given
// students' scores, re-ranks the whole cohort and returns it, atomically.
type Store interface {
	Exam(ctx context.Context, orgID, id string) (Exam, error)
	UpsertScores(ctx context.Context, examID string, entries []Entry, mode RankMode, at time.Time) ([]Score, error)
	Scores(ctx context.Context, examID string) ([]Score, error)
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

func (r *Repository) Exam(ctx context.Context, orgID, id string) (Exam, error) {
	var e Exam
	err := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, title, max_score::float8, to_char(exam_date, 'YYYY-MM-DD')
		FROM exams WHERE id = $1 AND org_id = $2
	`, id, orgID).Scan(&e.ID, &e.OrgID, &e.Title, &e.MaxScore, &e.ExamDate)
	if err != nil {
		if store.IsNotFound(err) {
			return Exam{}, ErrExamNotFound
		}
		return Exam{}, apperr.Persistence("load exam", err)
	}
	return e, nil
}

func (r *Repository) UpsertScores(ctx context.Context, examID string, entries []Entry, mode RankMode, at time.Time) ([]Score, error) {
	var cohort []Score
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := store.LockKey(ctx, tx, "exam", examID); err != nil {
			return apperr.Persistence("lock exam", err)
		}
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO exam_scores (id, exam_id, student_id, score, feedback, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (exam_id, student_id) DO UPDATE
				SET score = EXCLUDED.score, feedback = EXCLUDED.feedback, updated_at = EXCLUDED.updated_at
			`, uuid.NewString(), examID, e.StudentID, e.Score, e.Feedback, at); err != nil {
				return apperr.Persistence("upsert score", err)
			}
		}

		var err error
		cohort, err = queryScores(ctx, tx, examID)
		if err != nil {
			return err
		}
		rankCohort(cohort, mode)

		stmt, err := tx.PrepareContext(ctx, `UPDATE exam_scores SET rank = $2 WHERE id = $1`)
		if err != nil {
			return apperr.Persistence("prepare rank update", err)
		}
		defer stmt.Close()
		for _, s := range cohort {
			if _, err := stmt.ExecContext(ctx, s.ID, s.Rank); err != nil {
				return apperr.Persistence("update rank", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cohort, nil
}

func (r *Repository) Scores(ctx context.Context, examID string) ([]Score, error) {
	return queryScores(ctx, r.db, examID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryScores(ctx context.Context, q querier, examID string) ([]Score, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, exam_id, student_id, score::float8, COALESCE(rank, 0), feedback, updated_at
		FROM exam_scores WHERE exam_id = $1
		ORDER BY score DESC, student_id
	`, examID)
	if err != nil {
		return nil, apperr.Persistence("list scores", err)
	}
	defer rows.Close()

	var out []Score
	for rows.Next() {
		var s Score
		if err := rows.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Score, &s.Rank, &s.Feedback, &s.UpdatedAt); err != nil {
			return nil, apperr.Persistence("scan score", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list scores", err)
	}
	return out, nil
}

func rankCohort(cohort []Score, mode RankMode) {
	values := make([]float64, len(cohort))
	for i, s := range cohort {
		values[i] = s.Score
	}
	for i, r := range Rank(values, mode) {
		cohort[i].Rank = r
	}
}

// MemoryStore keeps exams and scores in memory.
type MemoryStore struct {
	mu     sync.Mutex
	exams  map[string]Exam
	scores map[string]map[string]*Score
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{exams: map[string]Exam{}, scores: map[string]map[string]*Score{}}
}

func (m *MemoryStore) PutExam(e Exam) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
}

func (m *MemoryStore) Exam(_ context.Context, orgID, id string) (Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok || e.OrgID != orgID {
		return Exam{}, ErrExamNotFound
	}
	return e, nil
}

func (m *MemoryStore) UpsertScores(_ context.Context, examID string, entries []Entry, mode RankMode, at time.Time) ([]Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byStudent, ok := m.scores[examID]
	if !ok {
		byStudent = map[string]*Score{}
		m.scores[examID] = byStudent
	}
	for _, e := range entries {
		s, ok := byStudent[e.StudentID]
		if !ok {
			s = &Score{ID: uuid.NewString(), ExamID: examID, StudentID: e.StudentID}
			byStudent[e.StudentID] = s
		}
		s.Score, s.Feedback, s.UpdatedAt = e.Score, e.Feedback, at
	}
	cohort := m.cohort(examID)
	rankCohort(cohort, mode)
	for _, s := range cohort {
		byStudent[s.StudentID].Rank = s.Rank
	}
	return cohort, nil
}

func (m *MemoryStore) Scores(_ context.Context, examID string) ([]Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cohort(examID), nil
}

func (m *MemoryStore) cohort(examID string) []Score {
	out := make([]Score, 0, len(m.scores[examID]))
	for _, s := range m.scores[examID] {
		out = append(out, *s)
	}
	sortScores(out)
	return out
}
