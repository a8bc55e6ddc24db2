// Package lesson sends the lesson report for a recorded lesson, at most once.
package lesson

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"studyroom/internal/apperr"
	"studyroom/internal/logging"
	"studyroom/internal/notify"
	"studyroom/internal/template"
)

// Dispatcher delivers immediately and reports per-audience outcomes.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev notify.Event) (notify.Summary, error)
}

type Service struct {
	store    Store
	dispatch Dispatcher
	log      *slog.Logger
	now      func() time.Time
}

func NewService(s Store, d Dispatcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: s, dispatch: d, log: log, now: time.Now}
}

// Result is the outcome of a send request.
type Result struct {
	Success               bool `json:"success"`
	AudienceNotifiedCount int  `json:"audience_notified_count"`
}

var overridable = append([]string{
	template.VarSubject,
	template.VarTeacherName,
	template.VarLessonContent,
}, template.CompositeFields...)

// Send renders the lesson report with overrides applied and delivers it.
// Composite fields over the length cap are rejected before anything is
// marked or sent. A lesson whose report was already sent fails with
// ErrAlreadySent. When no audience received the message the lesson is
// left unsent so the request can be repeated.
func (s *Service) Send(ctx context.Context, orgID, lessonID string, overrides map[string]string) (Result, error) {
	l, err := s.store.Lesson(ctx, orgID, lessonID)
	if err != nil {
		return Result{}, err
	}
	if l.NotificationSent {
		return Result{}, ErrAlreadySent
	}

	vars, err := reportVars(l, overrides)
	if err != nil {
		return Result{}, err
	}

	claimed, err := s.store.Claim(ctx, orgID, lessonID, s.now())
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{}, ErrAlreadySent
	}

	log := s.log.With(logging.Org(orgID), slog.String("lesson_id", lessonID), logging.Student(l.StudentID))
	sum, err := s.dispatch.Dispatch(ctx, notify.Event{
		OrgID:     orgID,
		StudentID: l.StudentID,
		Type:      template.EventLessonReport,
		Vars:      vars,
	})
	if err == nil && sum.Sent() > 0 {
		log.InfoContext(ctx, "lesson report sent", slog.Int("audiences", sum.Sent()))
		return Result{Success: true, AudienceNotifiedCount: sum.Sent()}, nil
	}

	if err != nil {
		log.ErrorContext(ctx, "lesson report dispatch failed", logging.Err(err))
	} else {
		log.WarnContext(ctx, "lesson report reached no audience", slog.Int("records", len(sum.Records)))
	}
	if rerr := s.store.Release(context.WithoutCancel(ctx), orgID, lessonID); rerr != nil {
		log.ErrorContext(ctx, "release lesson notification failed", logging.Err(rerr))
	}
	return Result{Success: false}, nil
}

func reportVars(l Lesson, overrides map[string]string) (template.Vars, error) {
	vars := template.Vars{
		template.VarSubject:         l.Subject,
		template.VarTeacherName:     l.TeacherName,
		template.VarLessonContent:   l.Content,
		template.VarTodayLesson:     l.Content,
		template.VarKeyPoint:        l.KeyPoint,
		template.VarTeacherComment:  l.TeacherComment,
		template.VarDirectorComment: l.DirectorComment,
		template.VarHomework:        l.Homework,
		template.VarReviewTip:       l.ReviewTip,
	}
	if t, err := time.Parse(time.DateOnly, l.LessonDate); err == nil {
		vars[template.VarDate] = template.FormatDate(t)
	}

	var unknown []apperr.FieldError
	for k, v := range overrides {
		if !slices.Contains(overridable, k) {
			unknown = append(unknown, apperr.FieldError{Field: k, Error: "not an overridable field"})
			continue
		}
		vars[k] = v
	}
	if len(unknown) > 0 {
		slices.SortFunc(unknown, func(a, b apperr.FieldError) int { return strings.Compare(a.Field, b.Field) })
		return nil, apperr.Validation("invalid overrides", unknown...)
	}

	if err := template.ValidateComposite(vars); err != nil {
		return nil, err
	}
	for _, k := range template.CompositeFields {
		vars[k] = template.OrDash(vars[k])
	}
	return vars, nil
}
