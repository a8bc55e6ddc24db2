package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/attendance"
	"studyroom/internal/auth"
	"studyroom/internal/exam"
	"studyroom/internal/homework"
	"studyroom/internal/httpapi"
	"studyroom/internal/lesson"
	"studyroom/internal/logging"
	"studyroom/internal/messaging"
	"studyroom/internal/notify"
	"studyroom/internal/org"
	"studyroom/internal/template"
)

const (
	signingKey = "test-key"
	issuer     = "studyroom-test"
)

type countingSender struct{ n int }

func (s *countingSender) Send(context.Context, messaging.Message) (messaging.Result, error) {
	s.n++
	return messaging.Result{MessageID: "m"}, nil
}

type env struct {
	router *gin.Engine
	sender *countingSender
	queue  *notify.MemoryQueue
	token  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logging.Discard()

	dir := org.NewMemoryStore()
	dir.PutOrganization(org.Organization{ID: "o1", Name: "골든펜"})
	dir.PutStudent(org.Student{ID: "s1", OrgID: "o1", Name: "김철수", ParentPhone: "010-1111-1111", StudentPhone: "010-2222-2222"})
	dir.PutStudent(org.Student{ID: "s2", OrgID: "o1", Name: "이영희", ParentPhone: "010-3333-3333"})
	directory := org.NewDirectory(dir, nil, 0, log)

	e := &env{sender: &countingSender{}, queue: notify.NewMemoryQueue()}
	dispatcher := notify.NewDispatcher(notify.Options{
		Directory: directory,
		Resolver:  template.NewResolver(directory, log),
		Alimtalk:  e.sender,
		Records:   &notify.MemoryRecords{},
		Logger:    log,
	})

	seats := attendance.NewMemoryStore()
	seats.PutSeat(attendance.Seat{ID: "seat-1", OrgID: "o1", Number: 1})

	exams := exam.NewMemoryStore()
	exams.PutExam(exam.Exam{ID: "e1", OrgID: "o1", Title: "중간고사", MaxScore: 100, ExamDate: "2024-04-20"})

	lessons := lesson.NewMemoryStore()
	lessons.PutLesson(lesson.Lesson{ID: "l1", OrgID: "o1", StudentID: "s1", Subject: "국어", Content: "비문학 독해"})

	e.router = httpapi.NewRouter(httpapi.Deps{
		Attendance: attendance.NewService(attendance.Options{
			Store: seats, Directory: directory, Notifier: dispatcher, Location: time.UTC, Logger: log,
		}),
		Exams: exam.NewService(exam.Options{
			Store: exams, Directory: directory, Queue: notify.NewQueue(e.queue, nil, log), Logger: log,
		}),
		Lessons:       lesson.NewService(lessons, dispatcher, log),
		Homework:      homework.NewService(&homework.MemoryStore{}, directory, dispatcher, log),
		Health:        []httpapi.HealthCheck{{Name: "db", Check: func(context.Context) bool { return true }}},
		JWTIssuer:     issuer,
		JWTSigningKey: signingKey,
		AccessTTL:     time.Minute,
		DevTokens:     true,
		Logger:        log,
	})

	tok, err := auth.Issue("o1", "desk", "staff", issuer, signingKey, time.Minute)
	require.NoError(t, err)
	e.token = tok.AccessToken
	return e
}

func (e *env) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestAttendanceFlow(t *testing.T) {
	e := newEnv(t)

	w, body := e.do(t, http.MethodPost, "/v1/attendance/checkin", gin.H{"student_id": "s1", "seat_id": "seat-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "김철수", body["student_name"])
	assert.Equal(t, 1, e.sender.n)

	w, body = e.do(t, http.MethodPost, "/v1/attendance/checkin", gin.H{"student_id": "s1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", body["class"])

	w, _ = e.do(t, http.MethodPost, "/v1/attendance/out", gin.H{"student_id": "s1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body = e.do(t, http.MethodPost, "/v1/attendance/return", gin.H{"student_id": "s1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	outing := body["outing"].(map[string]any)
	assert.Equal(t, "returned", outing["status"])

	w, body = e.do(t, http.MethodPost, "/v1/attendance/checkout", gin.H{"student_id": "s1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, body, "duration_minutes")

	w, body = e.do(t, http.MethodPost, "/v1/attendance/checkout", gin.H{"student_id": "s1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["class"])
}

func TestErrorClasses(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name  string
		path  string
		body  any
		code  int
		class string
	}{
		{name: "missing student id", path: "/v1/attendance/checkin", body: gin.H{}, code: http.StatusBadRequest, class: "validation"},
		{name: "unknown student", path: "/v1/attendance/checkin", body: gin.H{"student_id": "ghost"}, code: http.StatusNotFound, class: "not_found"},
		{name: "unknown exam", path: "/v1/exams/e9/scores/notify", code: http.StatusNotFound, class: "not_found"},
		{name: "unknown lesson", path: "/v1/lessons/l9/notify", code: http.StatusNotFound, class: "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := e.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.class, body["class"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestUnauthorized(t *testing.T) {
	e := newEnv(t)
	e.token = ""

	w, body := e.do(t, http.MethodPost, "/v1/attendance/checkin", gin.H{"student_id": "s1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", body["class"])
	assert.Zero(t, e.sender.n)
}

func TestScoresAndNotify(t *testing.T) {
	e := newEnv(t)

	w, body := e.do(t, http.MethodPost, "/v1/exams/e1/scores", gin.H{
		"scores": []gin.H{
			{"student_id": "s1", "score": 90},
			{"student_id": "s2", "score": 90, "feedback": "good"},
		},
		"send_notification": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	scores := body["scores"].([]any)
	require.Len(t, scores, 2)
	for _, s := range scores {
		assert.EqualValues(t, 1, s.(map[string]any)["rank"])
	}
	assert.Len(t, e.queue.Items(), 2)

	w, body = e.do(t, http.MethodPost, "/v1/exams/e1/scores/notify", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 0, body["queued_count"])
	assert.EqualValues(t, 2, body["total"])
	assert.Len(t, e.queue.Items(), 2)
}

func TestLessonNotifyOnce(t *testing.T) {
	e := newEnv(t)

	w, body := e.do(t, http.MethodPost, "/v1/lessons/l1/notify", gin.H{"overrides": gin.H{"학습포인트": "주제 찾기"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["audience_notified_count"])

	w, body = e.do(t, http.MethodPost, "/v1/lessons/l1/notify", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", body["class"])
	assert.Equal(t, 1, e.sender.n)
}

func TestHomework(t *testing.T) {
	e := newEnv(t)

	w, body := e.do(t, http.MethodPost, "/v1/homework", gin.H{
		"subject": "영어", "title": "단어 Day 3", "due_date": "2024-03-08", "student_ids": []string{"s1", "s2"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.EqualValues(t, 2, body["notified"])
}

func TestDevTokenAndHealth(t *testing.T) {
	e := newEnv(t)
	e.token = ""

	w, body := e.do(t, http.MethodPost, "/v1/dev/token", gin.H{"org_id": "o1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	e.token = body["access_token"].(string)

	w, _ = e.do(t, http.MethodPost, "/v1/attendance/checkin", gin.H{"student_id": "s2"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w, body = e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["db"])
}
