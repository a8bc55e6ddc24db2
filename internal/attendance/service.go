// Package attendance runs the seat, session and outing state machines.
// The session or outing record is the primary write; seat updates and
// notifications are best-effort steps that follow it.
package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"studyroom/internal/apperr"
	"studyroom/internal/logging"
	"studyroom/internal/metrics"
	"studyroom/internal/notify"
	"studyroom/internal/org"
	"studyroom/internal/template"
)

// Directory resolves students.
type Directory interface {
	Student(ctx context.Context, orgID, id string) (org.Student, error)
}

// Notifier delivers an event without failing the caller.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) notify.Summary
}

type Options struct {
	Store     Store
	Directory Directory
	Notifier  Notifier
	Location  *time.Location
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service coordinates attendance transitions.
type Service struct {
	store    Store
	dir      Directory
	notifier Notifier
	loc      *time.Location
	log      *slog.Logger
	now      func() time.Time
}

func NewService(o Options) *Service {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Service{
		store:    o.Store,
		dir:      o.Directory,
		notifier: o.Notifier,
		loc:      o.Location,
		log:      o.Logger,
		now:      o.Now,
	}
}

type CheckInResult struct {
	Session     Session `json:"session"`
	StudentName string  `json:"student_name"`
}

type CheckOutResult struct {
	Session         Session `json:"session"`
	StudentName     string  `json:"student_name"`
	DurationMinutes int     `json:"duration_minutes"`
}

type OutingResult struct {
	Outing      Outing `json:"outing"`
	StudentName string `json:"student_name"`
}

// CheckIn opens a session for the student. Sessions left open on earlier
// days in the organization's time zone are closed first. A seat, when
// given, must exist; occupying it is best-effort.
func (s *Service) CheckIn(ctx context.Context, orgID, studentID, seatID string) (CheckInResult, error) {
	st, err := s.student(ctx, orgID, studentID)
	if err != nil {
		return CheckInResult{}, err
	}
	seatID = strings.TrimSpace(seatID)
	if seatID != "" {
		if _, err := s.store.Seat(ctx, orgID, seatID); err != nil {
			return CheckInResult{}, err
		}
	}

	now := s.now()
	sess := Session{ID: uuid.NewString(), OrgID: orgID, StudentID: studentID, CheckInTime: now}
	stale, err := s.store.OpenSession(ctx, sess, s.startOfDay(now))
	if err != nil {
		return CheckInResult{}, err
	}
	metrics.AttendanceEvents.WithLabelValues(string(ActionCheckIn)).Inc()

	steps := []step{}
	if len(stale) > 0 {
		s.log.InfoContext(ctx, "closed sessions left open on earlier days",
			logging.Org(orgID), logging.Student(studentID), slog.Int("count", len(stale)))
		// the seat may still be held from the forgotten session
		steps = append(steps, s.seatStep(orgID, SeatRef{StudentID: studentID}, ActionCheckOut, studentID, now, 0))
	}
	if seatID != "" {
		steps = append(steps, s.seatStep(orgID, SeatRef{ID: seatID}, ActionCheckIn, studentID, now, 0))
	}
	steps = append(steps, s.notifyStep(orgID, studentID, template.EventCheckIn, s.timeVars(now)))
	s.runEffects(ctx, orgID, studentID, steps...)

	return CheckInResult{Session: sess, StudentName: st.Name}, nil
}

// CheckOut closes the given session, or the most recent open one started
// today in the organization's time zone.
func (s *Service) CheckOut(ctx context.Context, orgID, studentID, sessionID string) (CheckOutResult, error) {
	st, err := s.student(ctx, orgID, studentID)
	if err != nil {
		return CheckOutResult{}, err
	}

	now := s.now()
	sess, err := s.store.CloseSession(ctx, orgID, studentID, strings.TrimSpace(sessionID), s.startOfDay(now), now)
	if err != nil {
		return CheckOutResult{}, err
	}
	metrics.AttendanceEvents.WithLabelValues(string(ActionCheckOut)).Inc()

	minutes := 0
	if sess.DurationMinutes != nil {
		minutes = *sess.DurationMinutes
	}
	vars := s.timeVars(now)
	vars[template.VarTotalStudyTime] = template.FormatStudyTime(minutes)
	s.runEffects(ctx, orgID, studentID,
		s.seatStep(orgID, SeatRef{StudentID: studentID}, ActionCheckOut, studentID, now, minutes),
		s.notifyStep(orgID, studentID, template.EventCheckOut, vars),
	)

	return CheckOutResult{Session: sess, StudentName: st.Name, DurationMinutes: minutes}, nil
}

// Out records an outing. seatNumber, when nil, is looked up from the seat
// the student occupies and falls back to 0.
func (s *Service) Out(ctx context.Context, orgID, studentID string, seatNumber *int) (OutingResult, error) {
	st, err := s.student(ctx, orgID, studentID)
	if err != nil {
		return OutingResult{}, err
	}

	number := 0
	if seatNumber != nil {
		number = *seatNumber
	} else if seat, err := s.store.SeatOf(ctx, orgID, studentID); err == nil {
		number = seat.Number
	} else {
		s.log.DebugContext(ctx, "seat lookup for outing failed", logging.Org(orgID), logging.Student(studentID), logging.Err(err))
	}

	now := s.now()
	o := Outing{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		StudentID:  studentID,
		SeatNumber: number,
		Date:       s.today(now),
		OutingTime: now,
		Status:     OutingOut,
	}
	if err := s.store.OpenOuting(ctx, o); err != nil {
		return OutingResult{}, err
	}
	metrics.AttendanceEvents.WithLabelValues(string(ActionOut)).Inc()

	s.runEffects(ctx, orgID, studentID,
		s.seatStep(orgID, SeatRef{StudentID: studentID}, ActionOut, studentID, now, 0),
		s.notifyStep(orgID, studentID, template.EventStudyOut, s.timeVars(now)),
	)
	return OutingResult{Outing: o, StudentName: st.Name}, nil
}

// Return closes the given outing, or the most recent open one today.
func (s *Service) Return(ctx context.Context, orgID, studentID, outingID string) (OutingResult, error) {
	st, err := s.student(ctx, orgID, studentID)
	if err != nil {
		return OutingResult{}, err
	}

	now := s.now()
	o, err := s.store.CloseOuting(ctx, orgID, studentID, strings.TrimSpace(outingID), s.today(now), now)
	if err != nil {
		return OutingResult{}, err
	}
	metrics.AttendanceEvents.WithLabelValues(string(ActionReturn)).Inc()

	s.runEffects(ctx, orgID, studentID,
		s.seatStep(orgID, SeatRef{StudentID: studentID}, ActionReturn, studentID, now, 0),
		s.notifyStep(orgID, studentID, template.EventStudyReturn, s.timeVars(now)),
	)
	return OutingResult{Outing: o, StudentName: st.Name}, nil
}

func (s *Service) student(ctx context.Context, orgID, studentID string) (org.Student, error) {
	if strings.TrimSpace(studentID) == "" {
		return org.Student{}, apperr.Validation("student_id is required", apperr.FieldError{Field: "student_id", Error: "required"})
	}
	return s.dir.Student(ctx, orgID, studentID)
}

func (s *Service) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func (s *Service) today(t time.Time) string {
	return t.In(s.loc).Format(time.DateOnly)
}

func (s *Service) timeVars(t time.Time) template.Vars {
	return template.Vars{
		template.VarTime: template.FormatClock(t, s.loc),
		template.VarDate: template.FormatDate(t.In(s.loc)),
	}
}

// step is one secondary effect.
type step struct {
	name string
	run  func(ctx context.Context) error
}

const (
	stepSeat   = "seat"
	stepNotify = "notify"
)

func (s *Service) seatStep(orgID string, ref SeatRef, a Action, studentID string, at time.Time, used int) step {
	return step{name: stepSeat, run: func(ctx context.Context) error {
		_, err := s.store.ApplySeat(ctx, orgID, ref, a, studentID, at, used)
		if ref.ID == "" && apperr.IsKind(err, apperr.KindNotFound) {
			// the student has no seat
			return nil
		}
		return err
	}}
}

func (s *Service) notifyStep(orgID, studentID string, e template.EventType, vars template.Vars) step {
	return step{name: stepNotify, run: func(ctx context.Context) error {
		if s.notifier == nil {
			return nil
		}
		sum := s.notifier.Notify(ctx, notify.Event{OrgID: orgID, StudentID: studentID, Type: e, Vars: vars})
		failed := 0
		for _, r := range sum.Records {
			if r.Status == notify.StatusFailed {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d audiences failed", failed, len(sum.Records))
		}
		return nil
	}}
}

// runEffects runs steps in order after the primary write committed. Each
// step has its own error boundary and none can fail the request. The
// context is detached from request cancellation.
func (s *Service) runEffects(ctx context.Context, orgID, studentID string, steps ...step) {
	ctx = context.WithoutCancel(ctx)
	for _, st := range steps {
		if err := runStep(ctx, st); err != nil {
			metrics.SecondaryFailures.WithLabelValues(st.name).Inc()
			s.log.WarnContext(ctx, "secondary effect failed",
				logging.Step(st.name), logging.Org(orgID), logging.Student(studentID), logging.Err(err))
		}
	}
}

func runStep(ctx context.Context, st step) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s step: %v", st.name, p)
		}
	}()
	return st.run(ctx)
}
