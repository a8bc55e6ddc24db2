package exam_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/apperr"
	"studyroom/internal/exam"
	"studyroom/internal/logging"
	"studyroom/internal/notify"
	"studyroom/internal/org"
	"studyroom/internal/template"
)

func TestRank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		scores []float64
		mode   exam.RankMode
		want   []int
	}{
		{name: "dense ties", scores: []float64{90, 90, 70}, mode: exam.RankDense, want: []int{1, 1, 2}},
		{name: "competition ties", scores: []float64{90, 90, 70}, mode: exam.RankCompetition, want: []int{1, 1, 3}},
		{name: "order independent", scores: []float64{70, 90, 90}, mode: exam.RankDense, want: []int{2, 1, 1}},
		{name: "competition order independent", scores: []float64{90, 70, 90}, mode: exam.RankCompetition, want: []int{1, 3, 1}},
		{name: "distinct", scores: []float64{50, 100, 75.5}, mode: exam.RankDense, want: []int{3, 1, 2}},
		{name: "empty", scores: nil, mode: exam.RankDense, want: []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exam.Rank(tt.scores, tt.mode))
		})
	}
}

func TestParseRankMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, exam.RankCompetition, exam.ParseRankMode(" Competition "))
	assert.Equal(t, exam.RankDense, exam.ParseRankMode("dense"))
	assert.Equal(t, exam.RankCompetition, exam.ParseRankMode("window"))
	assert.Equal(t, exam.RankCompetition, exam.ParseRankMode(""))
}

type fixture struct {
	store *exam.MemoryStore
	queue *notify.MemoryQueue
	svc   *exam.Service
}

func newFixture(t *testing.T, mode exam.RankMode) *fixture {
	t.Helper()

	dir := org.NewMemoryStore()
	for _, id := range []string{"s1", "s2", "s3"} {
		dir.PutStudent(org.Student{ID: id, OrgID: "o1", Name: "학생 " + id})
	}
	f := &fixture{store: exam.NewMemoryStore(), queue: notify.NewMemoryQueue()}
	f.store.PutExam(exam.Exam{ID: "e1", OrgID: "o1", Title: "3월 모의고사", MaxScore: 100, ExamDate: "2024-03-28"})
	f.svc = exam.NewService(exam.Options{
		Store:     f.store,
		Directory: dir,
		Queue:     notify.NewQueue(f.queue, nil, logging.Discard()),
		RankMode:  mode,
		Logger:    logging.Discard(),
	})
	return f
}

func TestSubmitScoresRanksWholeCohort(t *testing.T) {
	t.Parallel()

	f := newFixture(t, exam.RankDense)
	ctx := context.Background()

	got, err := f.svc.SubmitScores(ctx, "o1", "e1", []exam.Entry{
		{StudentID: "s1", Score: 90},
		{StudentID: "s2", Score: 70},
	}, false)
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = f.svc.SubmitScores(ctx, "o1", "e1", []exam.Entry{{StudentID: "s3", Score: 90, Feedback: "잘했어요"}}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Rank)

	cohort, err := f.store.Scores(ctx, "e1")
	require.NoError(t, err)
	ranks := map[string]int{}
	for _, s := range cohort {
		ranks[s.StudentID] = s.Rank
	}
	assert.Equal(t, map[string]int{"s1": 1, "s3": 1, "s2": 2}, ranks)
	assert.Empty(t, f.queue.Items())
}

func TestSubmitScoresDefaultRankSkipsAfterTies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, exam.ParseRankMode(""))
	ctx := context.Background()

	_, err := f.svc.SubmitScores(ctx, "o1", "e1", []exam.Entry{
		{StudentID: "s3", Score: 70}, {StudentID: "s1", Score: 90}, {StudentID: "s2", Score: 90},
	}, false)
	require.NoError(t, err)

	cohort, err := f.store.Scores(ctx, "e1")
	require.NoError(t, err)
	ranks := map[string]int{}
	for _, s := range cohort {
		ranks[s.StudentID] = s.Rank
	}
	assert.Equal(t, map[string]int{"s1": 1, "s2": 1, "s3": 3}, ranks)
}

func TestSubmitScoresReplacesNotAccumulates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, exam.RankCompetition)
	ctx := context.Background()

	_, err := f.svc.SubmitScores(ctx, "o1", "e1", []exam.Entry{
		{StudentID: "s1", Score: 90}, {StudentID: "s2", Score: 90}, {StudentID: "s3", Score: 70},
	}, false)
	require.NoError(t, err)

	got, err := f.svc.SubmitScores(ctx, "o1", "e1", []exam.Entry{{StudentID: "s3", Score: 95}}, false)
	require.NoError(t, err)
	assert.Equal(t, 95.0, got[0].Score)
	assert.Equal(t, 1, got[0].Rank)

	cohort, err := f.store.Scores(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, cohort, 3)
	assert.Equal(t, []int{1, 2, 2}, []int{cohort[0].Rank, cohort[1].Rank, cohort[2].Rank})
}

func TestSubmitScoresValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, exam.RankDense)
	ctx := context.Background()

	tests := []struct {
		name    string
		exam    string
		entries []exam.Entry
		kind    apperr.Kind
	}{
		{name: "no entries", exam: "e1", kind: apperr.KindValidation},
		{name: "score above max", exam: "e1", entries: []exam.Entry{{StudentID: "s1", Score: 101}}, kind: apperr.KindValidation},
		{name: "negative score", exam: "e1", entries: []exam.Entry{{StudentID: "s1", Score: -1}}, kind: apperr.KindValidation},
		{name: "duplicate student", exam: "e1", entries: []exam.Entry{{StudentID: "s1", Score: 1}, {StudentID: "s1", Score: 2}}, kind: apperr.KindValidation},
		{name: "unknown student", exam: "e1", entries: []exam.Entry{{StudentID: "ghost", Score: 1}}, kind: apperr.KindNotFound},
		{name: "unknown exam", exam: "e404", entries: []exam.Entry{{StudentID: "s1", Score: 1}}, kind: apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SubmitScores(ctx, "o1", tt.exam, tt.entries, true)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	cohort, err := f.store.Scores(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, cohort)
	assert.Empty(t, f.queue.Items())
}

func TestSubmitScoresQueuesResults(t *testing.T) {
	t.Parallel()

	f := newFixture(t, exam.RankDense)
	ctx := context.Background()

	_, err := f.svc.SubmitScores(ctx, "o1", "e1", []exam.Entry{
		{StudentID: "s1", Score: 90}, {StudentID: "s2", Score: 85},
	}, true)
	require.NoError(t, err)

	items := f.queue.Items()
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, string(template.EventExamResult), it.EventType)
		assert.Equal(t, "e1", it.ContextKey)
		assert.Equal(t, "3월 모의고사", it.Payload[template.VarExamName])
		assert.Equal(t, "2", it.Payload[exam.VarCohort])
	}
	byStudent := map[string]string{}
	for _, it := range items {
		byStudent[it.StudentID] = it.Payload[template.VarScore]
	}
	assert.Equal(t, "90/100점 (2명 중 1등)", byStudent["s1"])
	assert.Equal(t, "85/100점 (2명 중 2등)", byStudent["s2"])
}

func TestNotifyScoresTwiceQueuesNoDuplicates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, exam.RankDense)
	ctx := context.Background()

	_, err := f.svc.SubmitScores(ctx, "o1", "e1", []exam.Entry{
		{StudentID: "s1", Score: 90}, {StudentID: "s2", Score: 90}, {StudentID: "s3", Score: 70},
	}, false)
	require.NoError(t, err)

	res, err := f.svc.NotifyScores(ctx, "o1", "e1", nil)
	require.NoError(t, err)
	assert.Equal(t, exam.NotifyResult{QueuedCount: 3, Total: 3}, res)

	res, err = f.svc.NotifyScores(ctx, "o1", "e1", nil)
	require.NoError(t, err)
	assert.Equal(t, exam.NotifyResult{QueuedCount: 0, Total: 3}, res)
	assert.Len(t, f.queue.Items(), 3)

	res, err = f.svc.NotifyScores(ctx, "o1", "e1", []string{"s3", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, exam.NotifyResult{QueuedCount: 0, Total: 1}, res)
}

func TestNotifyScoresUnknownExam(t *testing.T) {
	t.Parallel()

	f := newFixture(t, exam.RankDense)
	_, err := f.svc.NotifyScores(context.Background(), "o2", "e1", nil)
	assert.ErrorIs(t, err, exam.ErrExamNotFound)
}
