package attendance

import (
	"fmt"
	"time"

	"studyroom/internal/apperr"
)

type SeatStatus string

const (
	SeatVacant    SeatStatus = "vacant"
	SeatCheckedIn SeatStatus = "checked_in"
	SeatOut       SeatStatus = "out"
)

// Action is an attendance event applied to a seat.
type Action string

const (
	ActionCheckIn  Action = "checkin"
	ActionCheckOut Action = "checkout"
	ActionOut      Action = "out"
	ActionReturn   Action = "return"
)

var transitions = map[SeatStatus]map[Action]SeatStatus{
	SeatVacant:    {ActionCheckIn: SeatCheckedIn},
	SeatCheckedIn: {ActionOut: SeatOut, ActionCheckOut: SeatVacant},
	SeatOut:       {ActionReturn: SeatCheckedIn, ActionCheckOut: SeatVacant},
}

// Seat is a physical seat. StudentID is set iff Status is not vacant.
type Seat struct {
	ID               string     `json:"id"`
	OrgID            string     `json:"org_id"`
	Number           int        `json:"number"`
	Status           SeatStatus `json:"status"`
	StudentID        string     `json:"student_id,omitempty"`
	CheckInTime      *time.Time `json:"check_in_time,omitempty"`
	SessionStartTime *time.Time `json:"session_start_time,omitempty"`
	RemainingMinutes *int       `json:"remaining_minutes,omitempty"`
	RemainingDays    *int       `json:"remaining_days,omitempty"`
}

// SeatRef selects a seat by id, or by its occupant when ID is empty.
type SeatRef struct {
	ID        string
	StudentID string
}

// Apply returns the seat after action a by studentID at the given time.
// usedMinutes is deducted from a time-pass balance on check-out, never
// below zero.
func (s Seat) Apply(a Action, studentID string, at time.Time, usedMinutes int) (Seat, error) {
	to, ok := transitions[s.Status][a]
	if !ok {
		return s, apperr.Wrap(ErrIllegalTransition, fmt.Errorf("%s on %s seat %d", a, s.Status, s.Number))
	}
	if s.Status != SeatVacant && s.StudentID != studentID {
		return s, apperr.Wrap(ErrIllegalTransition, fmt.Errorf("seat %d is held by another student", s.Number))
	}

	next := s
	next.Status = to
	switch a {
	case ActionCheckIn:
		t := at
		next.StudentID = studentID
		next.CheckInTime = &t
		next.SessionStartTime = &t
	case ActionCheckOut:
		next.StudentID = ""
		next.CheckInTime = nil
		next.SessionStartTime = nil
		if s.RemainingMinutes != nil {
			left := max(0, *s.RemainingMinutes-usedMinutes)
			next.RemainingMinutes = &left
		}
	}
	return next, nil
}
