package attendance

import (
	"context"
	"database/sql"
	"time"

	"studyroom/internal/apperr"
	"studyroom/internal/store"
)

var (
	ErrAlreadyCheckedIn  = apperr.Conflict("student already has an open session")
	ErrAlreadyOut        = apperr.Conflict("student already has an open outing today")
	ErrNoOpenSession     = apperr.NotFound("no open session")
	ErrNoOpenOuting      = apperr.NotFound("no open outing")
	ErrSeatNotFound      = apperr.NotFound("seat not found")
	ErrIllegalTransition = apperr.Conflict("illegal seat transition")
)

// Session is an attendance session. It is open while CheckOutTime is nil.
type Session struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	StudentID       string     `json:"student_id"`
	CheckInTime     time.Time  `json:"check_in_time"`
	CheckOutTime    *time.Time `json:"check_out_time,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
}

const (
	OutingOut      = "out"
	OutingReturned = "returned"
)

// Outing is a temporary leave during a session. Date is the org-local
// calendar day, YYYY-MM-DD.
type Outing struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	StudentID  string     `json:"student_id"`
	SeatNumber int        `json:"seat_number"`
	Date       string     `json:"date"`
	OutingTime time.Time  `json:"outing_time"`
	ReturnTime *time.Time `json:"return_time,omitempty"`
	Status     string     `json:"status"`
}

// Store persists sessions, outings and seats.
//
// OpenSession first closes the student's sessions opened before
// staleBefore and returns them; those get staleBefore as check-out time and
// no duration. OpenSession and OpenOuting fail with a conflict when the
// student already has an open record. CloseSession and CloseOuting close the given record,
// or with an empty id the most recent open one on or after since / on date.
type Store interface {
	OpenSession(ctx context.Context, s Session, staleBefore time.Time) ([]Session, error)
	CloseSession(ctx context.Context, orgID, studentID, sessionID string, since, at time.Time) (Session, error)
	OpenOuting(ctx context.Context, o Outing) error
	CloseOuting(ctx context.Context, orgID, studentID, outingID, date string, at time.Time) (Outing, error)
	Seat(ctx context.Context, orgID, id string) (Seat, error)
	SeatOf(ctx context.Context, orgID, studentID string) (Seat, error)
	ApplySeat(ctx context.Context, orgID string, ref SeatRef, a Action, studentID string, at time.Time, usedMinutes int) (Seat, error)
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)

// DurationMinutes is the whole minutes between in and out, never negative.
func DurationMinutes(in, out time.Time) int {
	d := out.Sub(in)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// OpenSession inserts s under a per-student advisory lock. The partial
// unique index on open sessions backs the check.
func (r *Repository) OpenSession(ctx context.Context, s Session, staleBefore time.Time) ([]Session, error) {
	var stale []Session
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := store.LockKey(ctx, tx, "session", s.StudentID); err != nil {
			return apperr.Persistence("lock student", err)
		}
		rows, err := tx.QueryContext(ctx, `
			UPDATE attendance_sessions SET check_out_time = $2
			WHERE student_id = $1 AND check_out_time IS NULL AND check_in_time < $2
			RETURNING id, org_id, student_id, check_in_time
		`, s.StudentID, staleBefore)
		if err != nil {
			return apperr.Persistence("close stale sessions", err)
		}
		defer rows.Close()
		for rows.Next() {
			old := Session{CheckOutTime: &staleBefore}
			if err := rows.Scan(&old.ID, &old.OrgID, &old.StudentID, &old.CheckInTime); err != nil {
				return apperr.Persistence("scan stale session", err)
			}
			stale = append(stale, old)
		}
		if err := rows.Err(); err != nil {
			return apperr.Persistence("close stale sessions", err)
		}

		var open bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM attendance_sessions WHERE student_id = $1 AND check_out_time IS NULL)
		`, s.StudentID).Scan(&open); err != nil {
			return apperr.Persistence("check open session", err)
		}
		if open {
			return ErrAlreadyCheckedIn
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attendance_sessions (id, org_id, student_id, check_in_time)
			VALUES ($1, $2, $3, $4)
		`, s.ID, s.OrgID, s.StudentID, s.CheckInTime)
		if err != nil {
			if store.IsDuplicateKey(err) {
				return ErrAlreadyCheckedIn
			}
			return apperr.Persistence("insert session", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}

func (r *Repository) CloseSession(ctx context.Context, orgID, studentID, sessionID string, since, at time.Time) (Session, error) {
	var s Session
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := store.LockKey(ctx, tx, "session", studentID); err != nil {
			return apperr.Persistence("lock student", err)
		}
		var row *sql.Row
		if sessionID != "" {
			row = tx.QueryRowContext(ctx, `
				SELECT id, org_id, student_id, check_in_time FROM attendance_sessions
				WHERE id = $1 AND org_id = $2 AND student_id = $3 AND check_out_time IS NULL
			`, sessionID, orgID, studentID)
		} else {
			row = tx.QueryRowContext(ctx, `
				SELECT id, org_id, student_id, check_in_time FROM attendance_sessions
				WHERE org_id = $1 AND student_id = $2 AND check_out_time IS NULL AND check_in_time >= $3
				ORDER BY check_in_time DESC
				LIMIT 1
			`, orgID, studentID, since)
		}
		if err := row.Scan(&s.ID, &s.OrgID, &s.StudentID, &s.CheckInTime); err != nil {
			if store.IsNotFound(err) {
				return ErrNoOpenSession
			}
			return apperr.Persistence("load open session", err)
		}

		minutes := DurationMinutes(s.CheckInTime, at)
		if _, err := tx.ExecContext(ctx, `
			UPDATE attendance_sessions SET check_out_time = $2, duration_minutes = $3 WHERE id = $1
		`, s.ID, at, minutes); err != nil {
			return apperr.Persistence("close session", err)
		}
		s.CheckOutTime = &at
		s.DurationMinutes = &minutes
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

func (r *Repository) OpenOuting(ctx context.Context, o Outing) error {
	return store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := store.LockKey(ctx, tx, "outing", o.StudentID); err != nil {
			return apperr.Persistence("lock student", err)
		}
		var open bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM outing_records WHERE student_id = $1 AND date = $2 AND return_time IS NULL)
		`, o.StudentID, o.Date).Scan(&open); err != nil {
			return apperr.Persistence("check open outing", err)
		}
		if open {
			return ErrAlreadyOut
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outing_records (id, org_id, student_id, seat_number, date, outing_time, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'out')
		`, o.ID, o.OrgID, o.StudentID, o.SeatNumber, o.Date, o.OutingTime)
		if err != nil {
			if store.IsDuplicateKey(err) {
				return ErrAlreadyOut
			}
			return apperr.Persistence("insert outing", err)
		}
		return nil
	})
}

func (r *Repository) CloseOuting(ctx context.Context, orgID, studentID, outingID, date string, at time.Time) (Outing, error) {
	var o Outing
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := store.LockKey(ctx, tx, "outing", studentID); err != nil {
			return apperr.Persistence("lock student", err)
		}
		const cols = `id, org_id, student_id, seat_number, to_char(date, 'YYYY-MM-DD'), outing_time`
		var row *sql.Row
		if outingID != "" {
			row = tx.QueryRowContext(ctx, `
				SELECT `+cols+` FROM outing_records
				WHERE id = $1 AND org_id = $2 AND student_id = $3 AND return_time IS NULL
			`, outingID, orgID, studentID)
		} else {
			row = tx.QueryRowContext(ctx, `
				SELECT `+cols+` FROM outing_records
				WHERE org_id = $1 AND student_id = $2 AND date = $3 AND return_time IS NULL
				ORDER BY outing_time DESC
				LIMIT 1
			`, orgID, studentID, date)
		}
		if err := row.Scan(&o.ID, &o.OrgID, &o.StudentID, &o.SeatNumber, &o.Date, &o.OutingTime); err != nil {
			if store.IsNotFound(err) {
				return ErrNoOpenOuting
			}
			return apperr.Persistence("load open outing", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE outing_records SET return_time = $2, status = 'returned' WHERE id = $1
		`, o.ID, at); err != nil {
			return apperr.Persistence("close outing", err)
		}
		o.ReturnTime = &at
		o.Status = OutingReturned
		return nil
	})
	if err != nil {
		return Outing{}, err
	}
	return o, nil
}

const seatCols = `id, org_id, number, status, student_id, check_in_time, session_start_time, remaining_minutes, remaining_days`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeat(row rowScanner) (Seat, error) {
	var (
		s       Seat
		student sql.NullString
	)
	if err := row.Scan(&s.ID, &s.OrgID, &s.Number, &s.Status, &student, &s.CheckInTime, &s.SessionStartTime, &s.RemainingMinutes, &s.RemainingDays); err != nil {
		if store.IsNotFound(err) {
			return Seat{}, ErrSeatNotFound
		}
		return Seat{}, apperr.Persistence("load seat", err)
	}
	s.StudentID = student.String
	return s, nil
}

func (r *Repository) Seat(ctx context.Context, orgID, id string) (Seat, error) {
	return scanSeat(r.db.QueryRowContext(ctx, `SELECT `+seatCols+` FROM seats WHERE org_id = $1 AND id = $2`, orgID, id))
}

func (r *Repository) SeatOf(ctx context.Context, orgID, studentID string) (Seat, error) {
	return scanSeat(r.db.QueryRowContext(ctx, `
		SELECT `+seatCols+` FROM seats WHERE org_id = $1 AND student_id = $2 ORDER BY number LIMIT 1
	`, orgID, studentID))
}

// ApplySeat locks the seat row, applies the transition and writes it back.
func (r *Repository) ApplySeat(ctx context.Context, orgID string, ref SeatRef, a Action, studentID string, at time.Time, usedMinutes int) (Seat, error) {
	var out Seat
	err := store.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		q, arg := `SELECT `+seatCols+` FROM seats WHERE org_id = $1 AND id = $2 FOR UPDATE`, ref.ID
		if ref.ID == "" {
			q, arg = `SELECT `+seatCols+` FROM seats WHERE org_id = $1 AND student_id = $2 ORDER BY number LIMIT 1 FOR UPDATE`, ref.StudentID
		}
		seat, err := scanSeat(tx.QueryRowContext(ctx, q, orgID, arg))
		if err != nil {
			return err
		}
		next, err := seat.Apply(a, studentID, at, usedMinutes)
		if err != nil {
			return err
		}
		var occupant any
		if next.StudentID != "" {
			occupant = next.StudentID
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE seats
			SET status = $2, student_id = $3, check_in_time = $4, session_start_time = $5, remaining_minutes = $6
			WHERE id = $1
		`, next.ID, next.Status, occupant, next.CheckInTime, next.SessionStartTime, next.RemainingMinutes)
		if err != nil {
			if store.IsCheckViolation(err) {
				return apperr.Wrap(ErrIllegalTransition, err)
			}
			return apperr.Persistence("update seat", err)
		}
		out = next
		return nil
	})
	return out, err
}
