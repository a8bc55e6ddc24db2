// Package exam records exam scores, ranks the cohort and queues result
// notifications.
package exam

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"studyroom/internal/apperr"
	"studyroom/internal/logging"
	"studyroom/internal/notify"
	"studyroom/internal/org"
	"studyroom/internal/template"
)

// Payload keys carried next to the template variables of a queued result.
const (
	VarMaxScore = "만점"
	VarRank     = "등수"
	VarCohort   = "응시인원"
)

type Directory interface {
	Students(ctx context.Context, orgID string, ids []string) ([]org.Student, error)
}

// Enqueuer is the producer side of the deferred notification queue.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, orgID string, event template.EventType, items []notify.Item) (int, error)
}

type Options struct {
	Store     Store
	Directory Directory
	Queue     Enqueuer
	RankMode  RankMode
	Logger    *slog.Logger
	Now       func() time.Time
}

type Service struct {
	store Store
	dir   Directory
	queue Enqueuer
	mode  RankMode
	log   *slog.Logger
	now   func() time.Time
}

func NewService(o Options) *Service {
	if o.RankMode == "" {
		o.RankMode = RankCompetition
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Service{store: o.Store, dir: o.Directory, queue: o.Queue, mode: o.RankMode, log: o.Logger, now: o.Now}
}

// NotifyResult reports a notify request. Total is the number of selected
// scored students; QueuedCount excludes items already queued earlier.
type NotifyResult struct {
	QueuedCount int `json:"queued_count"`
	Total       int `json:"total"`
}

// SubmitScores upserts entries, re-ranks the cohort and returns the
// submitted students' rows with their new ranks. With send set, results
// for those students are queued; a queue failure is only logged.
func (s *Service) SubmitScores(ctx context.Context, orgID, examID string, entries []Entry, send bool) ([]Score, error) {
	ex, err := s.store.Exam(ctx, orgID, examID)
	if err != nil {
		return nil, err
	}
	if err := validateEntries(ex, entries); err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.StudentID
	}
	if err := s.checkStudents(ctx, orgID, ids); err != nil {
		return nil, err
	}

	cohort, err := s.store.UpsertScores(ctx, examID, entries, s.mode, s.now())
	if err != nil {
		return nil, err
	}
	submitted := pick(cohort, ids)

	if send {
		if _, err := s.enqueue(ctx, ex, cohort, submitted); err != nil {
			s.log.ErrorContext(ctx, "queue exam results failed",
				logging.Org(orgID), slog.String("exam_id", examID), logging.Err(err))
		}
	}
	return submitted, nil
}

// NotifyScores queues results for the selected students, or the whole
// cohort when studentIDs is empty. Students already queued for this exam
// are not queued again.
func (s *Service) NotifyScores(ctx context.Context, orgID, examID string, studentIDs []string) (NotifyResult, error) {
	ex, err := s.store.Exam(ctx, orgID, examID)
	if err != nil {
		return NotifyResult{}, err
	}
	cohort, err := s.store.Scores(ctx, examID)
	if err != nil {
		return NotifyResult{}, err
	}
	selected := cohort
	if len(studentIDs) > 0 {
		selected = pick(cohort, studentIDs)
	}
	if len(selected) == 0 {
		return NotifyResult{}, nil
	}
	n, err := s.enqueue(ctx, ex, cohort, selected)
	if err != nil {
		return NotifyResult{}, err
	}
	return NotifyResult{QueuedCount: n, Total: len(selected)}, nil
}

func (s *Service) enqueue(ctx context.Context, ex Exam, cohort, selected []Score) (int, error) {
	items := make([]notify.Item, 0, len(selected))
	for _, sc := range selected {
		items = append(items, notify.Item{
			StudentID:  sc.StudentID,
			ContextKey: ex.ID,
			Vars: template.Vars{
				template.VarExamName: ex.Title,
				template.VarScore:    template.FormatScore(sc.Score, ex.MaxScore, sc.Rank, len(cohort)),
				template.VarDate:     examDate(ex.ExamDate),
				VarMaxScore:          strconv.FormatFloat(ex.MaxScore, 'f', -1, 64),
				VarRank:              strconv.Itoa(sc.Rank),
				VarCohort:            strconv.Itoa(len(cohort)),
			},
		})
	}
	return s.queue.EnqueueBatch(ctx, ex.OrgID, template.EventExamResult, items)
}

func (s *Service) checkStudents(ctx context.Context, orgID string, ids []string) error {
	found, err := s.dir.Students(ctx, orgID, ids)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(found))
	for _, st := range found {
		known[st.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return apperr.Wrap(org.ErrStudentNotFound, fmt.Errorf("unknown students: %s", strings.Join(missing, ", ")))
	}
	return nil
}

func validateEntries(ex Exam, entries []Entry) error {
	if len(entries) == 0 {
		return apperr.Validation("scores are required", apperr.FieldError{Field: "scores", Error: "required"})
	}
	var fields []apperr.FieldError
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		field := fmt.Sprintf("scores[%d]", i)
		switch {
		case strings.TrimSpace(e.StudentID) == "":
			fields = append(fields, apperr.FieldError{Field: field + ".student_id", Error: "required"})
		case seen[e.StudentID]:
			fields = append(fields, apperr.FieldError{Field: field + ".student_id", Error: "duplicate student"})
		}
		seen[e.StudentID] = true
		if math.IsNaN(e.Score) || e.Score < 0 || (ex.MaxScore > 0 && e.Score > ex.MaxScore) {
			fields = append(fields, apperr.FieldError{Field: field + ".score", Error: fmt.Sprintf("must be between 0 and %g", ex.MaxScore)})
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid scores", fields...)
	}
	return nil
}

func pick(cohort []Score, ids []string) []Score {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]Score, 0, len(ids))
	for _, s := range cohort {
		if want[s.StudentID] {
			out = append(out, s)
		}
	}
	return out
}

func sortScores(s []Score) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].StudentID < s[j].StudentID
	})
}

func examDate(d string) string {
	t, err := time.Parse(time.DateOnly, d)
	if err != nil {
		return template.OrDash(d)
	}
	return template.FormatDate(t)
}
