//go:build integration

package attendance_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/attendance"
	"studyroom/internal/store"
	"studyroom/internal/store/storetest"
)

func TestRepositoryConcurrentOpenSession(t *testing.T) {
	db := storetest.Open(t)
	tn := storetest.Seed(t, db, 1)
	repo := attendance.NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	startOfDay := now.Truncate(24 * time.Hour)

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.OpenSession(ctx, attendance.Session{
				ID: uuid.NewString(), OrgID: tn.OrgID, StudentID: tn.StudentIDs[0], CheckInTime: now,
			}, startOfDay)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, attendance.ErrAlreadyCheckedIn):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	var open int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_sessions WHERE student_id = $1 AND check_out_time IS NULL`,
		tn.StudentIDs[0]).Scan(&open))
	assert.Equal(t, 1, open)
}

func TestRepositoryOpenSessionIndexRejectsSecondOpenRow(t *testing.T) {
	db := storetest.Open(t)
	tn := storetest.Seed(t, db, 1)
	ctx := context.Background()

	insert := `INSERT INTO attendance_sessions (id, org_id, student_id, check_in_time) VALUES ($1, $2, $3, NOW())`
	_, err := db.ExecContext(ctx, insert, uuid.NewString(), tn.OrgID, tn.StudentIDs[0])
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert, uuid.NewString(), tn.OrgID, tn.StudentIDs[0])
	require.Error(t, err)
	assert.True(t, store.IsDuplicateKey(err))
}

func TestRepositoryOpenSessionClosesEarlierDays(t *testing.T) {
	db := storetest.Open(t)
	tn := storetest.Seed(t, db, 1)
	repo := attendance.NewRepository(db)
	ctx := context.Background()
	studentID := tn.StudentIDs[0]

	day1 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	midnight := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	first := attendance.Session{ID: uuid.NewString(), OrgID: tn.OrgID, StudentID: studentID, CheckInTime: day1}
	stale, err := repo.OpenSession(ctx, first, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, stale)

	second := attendance.Session{ID: uuid.NewString(), OrgID: tn.OrgID, StudentID: studentID, CheckInTime: day2}
	stale, err = repo.OpenSession(ctx, second, midnight)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, first.ID, stale[0].ID)

	var (
		out      time.Time
		duration sql.NullInt64
	)
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT check_out_time, duration_minutes FROM attendance_sessions WHERE id = $1`, first.ID).Scan(&out, &duration))
	assert.True(t, out.Equal(midnight))
	assert.False(t, duration.Valid)

	closed, err := repo.CloseSession(ctx, tn.OrgID, studentID, "", midnight, day2.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, second.ID, closed.ID)
	require.NotNil(t, closed.DurationMinutes)
	assert.Equal(t, 90, *closed.DurationMinutes)
}

func TestRepositoryConcurrentOpenOuting(t *testing.T) {
	db := storetest.Open(t)
	tn := storetest.Seed(t, db, 1)
	repo := attendance.NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.OpenOuting(ctx, attendance.Outing{
				ID: uuid.NewString(), OrgID: tn.OrgID, StudentID: tn.StudentIDs[0],
				Date: now.Format(time.DateOnly), OutingTime: now,
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, attendance.ErrAlreadyOut)
	}
	assert.Equal(t, 1, ok)
}
