package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studyroom/internal/auth"
	"studyroom/internal/exam"
	"studyroom/internal/homework"
)

func (h *handlers) checkIn(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		SeatID    string `json:"seat_id"`
	}
	if !bind(c, &req) {
		return
	}
	res, err := h.Attendance.CheckIn(c.Request.Context(), auth.OrgID(c), req.StudentID, req.SeatID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *handlers) checkOut(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		SessionID string `json:"session_id"`
	}
	if !bind(c, &req) {
		return
	}
	res, err := h.Attendance.CheckOut(c.Request.Context(), auth.OrgID(c), req.StudentID, req.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) out(c *gin.Context) {
	var req struct {
		StudentID  string `json:"student_id" binding:"required"`
		SeatNumber *int   `json:"seat_number"`
	}
	if !bind(c, &req) {
		return
	}
	res, err := h.Attendance.Out(c.Request.Context(), auth.OrgID(c), req.StudentID, req.SeatNumber)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *handlers) returnFromOuting(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		OutingID  string `json:"outing_id"`
	}
	if !bind(c, &req) {
		return
	}
	res, err := h.Attendance.Return(c.Request.Context(), auth.OrgID(c), req.StudentID, req.OutingID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) submitScores(c *gin.Context) {
	var req struct {
		Scores           []exam.Entry `json:"scores" binding:"required"`
		SendNotification bool         `json:"send_notification"`
	}
	if !bind(c, &req) {
		return
	}
	scores, err := h.Exams.SubmitScores(c.Request.Context(), auth.OrgID(c), c.Param("id"), req.Scores, req.SendNotification)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"scores": scores})
}

func (h *handlers) notifyScores(c *gin.Context) {
	var req struct {
		StudentIDs []string `json:"student_ids"`
	}
	if !bind(c, &req, true) {
		return
	}
	res, err := h.Exams.NotifyScores(c.Request.Context(), auth.OrgID(c), c.Param("id"), req.StudentIDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) notifyLesson(c *gin.Context) {
	var req struct {
		Overrides map[string]string `json:"overrides"`
	}
	if !bind(c, &req, true) {
		return
	}
	res, err := h.Lessons.Send(c.Request.Context(), auth.OrgID(c), c.Param("id"), req.Overrides)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) createHomework(c *gin.Context) {
	var req homework.Input
	if !bind(c, &req) {
		return
	}
	res, err := h.Homework.Create(c.Request.Context(), auth.OrgID(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
