package lesson_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/apperr"
	"studyroom/internal/lesson"
	"studyroom/internal/logging"
	"studyroom/internal/notify"
	"studyroom/internal/template"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	events []notify.Event
	sum    notify.Summary
	err    error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev notify.Event) (notify.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.sum, f.err
}

func sent(n int) notify.Summary {
	var s notify.Summary
	for i := 0; i < n; i++ {
		s.Records = append(s.Records, notify.Record{Status: notify.StatusSent})
	}
	return s
}

func newService(t *testing.T, d *fakeDispatcher) (*lesson.Service, *lesson.MemoryStore) {
	t.Helper()

	st := lesson.NewMemoryStore()
	st.PutLesson(lesson.Lesson{
		ID: "l1", OrgID: "o1", StudentID: "s1",
		Subject: "수학", TeacherName: "박선생", LessonDate: "2024-03-04",
		Content: "이차방정식 근의 공식", KeyPoint: "판별식", Homework: "p.32~35",
	})
	return lesson.NewService(st, d, logging.Discard()), st
}

func TestSendTwiceIsRefused(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{sum: sent(2)}
	svc, st := newService(t, d)
	ctx := context.Background()

	res, err := svc.Send(ctx, "o1", "l1", nil)
	require.NoError(t, err)
	assert.Equal(t, lesson.Result{Success: true, AudienceNotifiedCount: 2}, res)

	l, err := st.Lesson(ctx, "o1", "l1")
	require.NoError(t, err)
	assert.True(t, l.NotificationSent)
	assert.NotNil(t, l.NotificationSentAt)

	_, err = svc.Send(ctx, "o1", "l1", nil)
	assert.ErrorIs(t, err, lesson.ErrAlreadySent)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Len(t, d.events, 1, "second send performs no dispatch")
}

func TestSendConcurrentClaimsOnce(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{sum: sent(1)}
	svc, _ := newService(t, d)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Send(context.Background(), "o1", "l1", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, lesson.ErrAlreadySent)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, d.events, 1)
}

func TestSendRendersLessonVars(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{sum: sent(1)}
	svc, _ := newService(t, d)

	_, err := svc.Send(context.Background(), "o1", "l1", map[string]string{template.VarTeacherComment: "집중력이 좋았어요"})
	require.NoError(t, err)
	require.Len(t, d.events, 1)

	ev := d.events[0]
	assert.Equal(t, template.EventLessonReport, ev.Type)
	assert.Equal(t, "s1", ev.StudentID)
	assert.Equal(t, "이차방정식 근의 공식", ev.Vars[template.VarTodayLesson])
	assert.Equal(t, "집중력이 좋았어요", ev.Vars[template.VarTeacherComment])
	assert.Equal(t, "-", ev.Vars[template.VarDirectorComment])
	assert.Equal(t, "3월 4일", ev.Vars[template.VarDate])
}

func TestSendRejectsLongCompositeField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{name: "exactly at cap", value: strings.Repeat("가", template.MaxVariableLength), ok: true},
		{name: "one over cap", value: strings.Repeat("가", template.MaxVariableLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{sum: sent(1)}
			svc, st := newService(t, d)
			ctx := context.Background()

			_, err := svc.Send(ctx, "o1", "l1", map[string]string{template.VarReviewTip: tt.value})
			l, lerr := st.Lesson(ctx, "o1", "l1")
			require.NoError(t, lerr)
			if tt.ok {
				require.NoError(t, err)
				assert.True(t, l.NotificationSent)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			fields := apperr.FieldsOf(err)
			require.Len(t, fields, 1)
			assert.Equal(t, template.VarReviewTip, fields[0].Field)
			assert.False(t, l.NotificationSent)
			assert.Empty(t, d.events)
		})
	}
}

func TestSendRejectsUnknownOverride(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{sum: sent(1)}
	svc, _ := newService(t, d)

	_, err := svc.Send(context.Background(), "o1", "l1", map[string]string{"점수": "100"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Empty(t, d.events)
}

func TestSendReleasesClaimWhenNothingDelivered(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    *fakeDispatcher
	}{
		{name: "dispatch error", d: &fakeDispatcher{err: errors.New("student gone")}},
		{name: "all audiences failed", d: &fakeDispatcher{sum: notify.Summary{Records: []notify.Record{{Status: notify.StatusFailed}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newService(t, tt.d)
			ctx := context.Background()

			res, err := svc.Send(ctx, "o1", "l1", nil)
			require.NoError(t, err)
			assert.False(t, res.Success)

			l, err := st.Lesson(ctx, "o1", "l1")
			require.NoError(t, err)
			assert.False(t, l.NotificationSent)
		})
	}
}

func TestSendUnknownLesson(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t, &fakeDispatcher{})
	_, err := svc.Send(context.Background(), "o2", "l1", nil)
	assert.ErrorIs(t, err, lesson.ErrLessonNotFound)
}

func TestSendFailureWithoutLogger(t *testing.T) {
	t.Parallel()

	st := lesson.NewMemoryStore()
	st.PutLesson(lesson.Lesson{ID: "l1", OrgID: "o1", StudentID: "s1", Content: "독해"})
	svc := lesson.NewService(st, &fakeDispatcher{err: errors.New("student gone")}, nil)

	require.NotPanics(t, func() {
		res, err := svc.Send(context.Background(), "o1", "l1", nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
	})
}
