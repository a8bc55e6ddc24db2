// Package httpapi exposes the attendance and notification operations over
// HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studyroom/internal/apperr"
	"studyroom/internal/attendance"
	"studyroom/internal/auth"
	"studyroom/internal/exam"
	"studyroom/internal/homework"
	"studyroom/internal/httpmiddleware"
	"studyroom/internal/lesson"
)

type Attendance interface {
	CheckIn(ctx context.Context, orgID, studentID, seatID string) (attendance.CheckInResult, error)
	CheckOut(ctx context.Context, orgID, studentID, sessionID string) (attendance.CheckOutResult, error)
	Out(ctx context.Context, orgID, studentID string, seatNumber *int) (attendance.OutingResult, error)
	Return(ctx context.Context, orgID, studentID, outingID string) (attendance.OutingResult, error)
}

type Exams interface {
	SubmitScores(ctx context.Context, orgID, examID string, entries []exam.Entry, send bool) ([]exam.Score, error)
	NotifyScores(ctx context.Context, orgID, examID string, studentIDs []string) (exam.NotifyResult, error)
}

type Lessons interface {
	Send(ctx context.Context, orgID, lessonID string, overrides map[string]string) (lesson.Result, error)
}

type Homework interface {
	Create(ctx context.Context, orgID string, in homework.Input) (homework.Created, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) bool
}

type Deps struct {
	Attendance Attendance
	Exams      Exams
	Lessons    Lessons
	Homework   Homework
	Limiter    httpmiddleware.Limiter
	Health     []HealthCheck

	JWTIssuer     string
	JWTSigningKey string
	AccessTTL     time.Duration
	// DevTokens enables POST /v1/dev/token. Never set in production.
	DevTokens   bool
	CORSOrigins []string

	Logger *slog.Logger
}

type handlers struct {
	Deps
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	h := &handlers{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS(d.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.healthz)

	if d.DevTokens {
		r.POST("/v1/dev/token", h.devToken)
	}

	v1 := r.Group("/v1", auth.TenantAuth(d.JWTSigningKey, d.JWTIssuer))
	if d.Limiter != nil {
		v1.Use(httpmiddleware.RateLimit(d.Limiter, d.Logger))
	}

	v1.POST("/attendance/checkin", h.checkIn)
	v1.POST("/attendance/checkout", h.checkOut)
	v1.POST("/attendance/out", h.out)
	v1.POST("/attendance/return", h.returnFromOuting)

	v1.POST("/exams/:id/scores", h.submitScores)
	v1.POST("/exams/:id/scores/notify", h.notifyScores)

	v1.POST("/lessons/:id/notify", h.notifyLesson)

	v1.POST("/homework", h.createHomework)

	return r
}

func (h *handlers) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for _, hc := range h.Health {
		ok := hc.Check(c.Request.Context())
		body[hc.Name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *handlers) devToken(c *gin.Context) {
	var req struct {
		OrgID   string `json:"org_id" binding:"required"`
		Subject string `json:"subject"`
	}
	if !bind(c, &req) {
		return
	}
	if req.Subject == "" {
		req.Subject = "dev"
	}
	tok, err := auth.Issue(req.OrgID, req.Subject, "dev", h.JWTIssuer, h.JWTSigningKey, h.AccessTTL)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tok)
}

// bind decodes the JSON body into dst. An empty body is accepted when
// optional is set.
func bind(c *gin.Context, dst any, optional ...bool) bool {
	if len(optional) > 0 && optional[0] && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		err = apperr.Validation("invalid request body", apperr.FieldError{Field: "body", Error: err.Error()})
		c.AbortWithStatusJSON(apperr.Status(err), apperr.BodyOf(err))
		return false
	}
	return true
}

func (h *handlers) fail(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorContext(c.Request.Context(), "request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.String("org_id", auth.OrgID(c)),
			slog.Any("error", err))
	}
	c.AbortWithStatusJSON(status, apperr.BodyOf(err))
}
