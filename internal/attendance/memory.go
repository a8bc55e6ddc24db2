package attendance

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same uniqueness rules as the
// Postgres schema. Used by tests and local runs without a database.
type MemoryStore struct {
	mu       sync.Mutex
	sessions []*Session
	outings  []*Outing
	seats    map[string]*Seat
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seats: map[string]*Seat{}}
}

func (m *MemoryStore) PutSeat(s Seat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Status == "" {
		s.Status = SeatVacant
	}
	m.seats[s.ID] = &s
}

// Sessions returns a snapshot of the student's sessions.
func (m *MemoryStore) Sessions(studentID string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.StudentID == studentID {
			out = append(out, *s)
		}
	}
	return out
}

func (m *MemoryStore) OpenSession(_ context.Context, s Session, staleBefore time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.sessions {
		if cur.StudentID == s.StudentID && cur.CheckOutTime == nil && !cur.CheckInTime.Before(staleBefore) {
			return nil, ErrAlreadyCheckedIn
		}
	}
	var stale []Session
	for _, cur := range m.sessions {
		if cur.StudentID == s.StudentID && cur.CheckOutTime == nil {
			t := staleBefore
			cur.CheckOutTime = &t
			stale = append(stale, *cur)
		}
	}
	m.sessions = append(m.sessions, &s)
	return stale, nil
}

func (m *MemoryStore) CloseSession(_ context.Context, orgID, studentID, sessionID string, since, at time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Session
	for _, s := range m.sessions {
		if s.OrgID != orgID || s.StudentID != studentID || s.CheckOutTime != nil {
			continue
		}
		if sessionID != "" {
			if s.ID == sessionID {
				found = s
				break
			}
			continue
		}
		if s.CheckInTime.Before(since) {
			continue
		}
		if found == nil || s.CheckInTime.After(found.CheckInTime) {
			found = s
		}
	}
	if found == nil {
		return Session{}, ErrNoOpenSession
	}
	minutes := DurationMinutes(found.CheckInTime, at)
	found.CheckOutTime = &at
	found.DurationMinutes = &minutes
	return *found, nil
}

func (m *MemoryStore) OpenOuting(_ context.Context, o Outing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.outings {
		if cur.StudentID == o.StudentID && cur.Date == o.Date && cur.ReturnTime == nil {
			return ErrAlreadyOut
		}
	}
	o.Status = OutingOut
	m.outings = append(m.outings, &o)
	return nil
}

func (m *MemoryStore) CloseOuting(_ context.Context, orgID, studentID, outingID, date string, at time.Time) (Outing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Outing
	for _, o := range m.outings {
		if o.OrgID != orgID || o.StudentID != studentID || o.ReturnTime != nil {
			continue
		}
		if outingID != "" {
			if o.ID == outingID {
				found = o
				break
			}
			continue
		}
		if o.Date != date {
			continue
		}
		if found == nil || o.OutingTime.After(found.OutingTime) {
			found = o
		}
	}
	if found == nil {
		return Outing{}, ErrNoOpenOuting
	}
	found.ReturnTime = &at
	found.Status = OutingReturned
	return *found, nil
}

func (m *MemoryStore) Seat(_ context.Context, orgID, id string) (Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seats[id]
	if !ok || s.OrgID != orgID {
		return Seat{}, ErrSeatNotFound
	}
	return *s, nil
}

func (m *MemoryStore) SeatOf(_ context.Context, orgID, studentID string) (Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.seatOf(orgID, studentID); s != nil {
		return *s, nil
	}
	return Seat{}, ErrSeatNotFound
}

func (m *MemoryStore) seatOf(orgID, studentID string) *Seat {
	var found *Seat
	for _, s := range m.seats {
		if s.OrgID == orgID && s.StudentID == studentID && (found == nil || s.Number < found.Number) {
			found = s
		}
	}
	return found
}

func (m *MemoryStore) ApplySeat(_ context.Context, orgID string, ref SeatRef, a Action, studentID string, at time.Time, usedMinutes int) (Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seat *Seat
	if ref.ID != "" {
		if s, ok := m.seats[ref.ID]; ok && s.OrgID == orgID {
			seat = s
		}
	} else {
		seat = m.seatOf(orgID, ref.StudentID)
	}
	if seat == nil {
		return Seat{}, ErrSeatNotFound
	}
	next, err := seat.Apply(a, studentID, at, usedMinutes)
	if err != nil {
		return Seat{}, err
	}
	*seat = next
	return next, nil
}
