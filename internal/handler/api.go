package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
)

func (h *Handler) presentStudents(c *gin.Context) {
	id, ok := pathID(c, "session_id")
	if !ok {
		h.badRequest(c, "Invalid session id.")
		return
	}
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	students, err := h.agg.PresentForSession(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "students": viewStudents(students)})
}

type markRequest struct {
	EnrollmentNo string   `form:"enrollment_no" json:"enrollment_no" binding:"required"`
	SessionID    int64    `form:"session_id" json:"session_id" binding:"required"`
	Latitude     *float64 `form:"latitude" json:"latitude" binding:"required"`
	Longitude    *float64 `form:"longitude" json:"longitude" binding:"required"`
}

func (h *Handler) markAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBind(&req); err != nil {
		h.metrics.Mark(string(attendance.KindValidation))
		h.badRequest(c, "Enrollment number, session and location are required.")
		return
	}
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	out, err := h.recorder.Mark(ctx, attendance.MarkRequest{
		SessionID:     req.SessionID,
		EnrollmentNo:  req.EnrollmentNo,
		Latitude:      *req.Latitude,
		Longitude:     *req.Longitude,
		SourceAddress: sourceAddress(c),
	})
	if err != nil {
		h.metrics.Mark(string(attendance.KindOf(err)))
		h.fail(c, err)
		return
	}
	h.metrics.Mark("accepted")
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  fmt.Sprintf("%s, your attendance is marked!", out.Student.Name),
		"category": "success",
	})
}

type startRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

func (h *Handler) startSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Latitude and longitude are required.")
		return
	}
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	s, err := h.sessions.Start(ctx, auth.PrincipalFrom(c).UserID, *req.Latitude, *req.Longitude)
	if err != nil {
		h.metrics.Session("start", string(attendance.KindOf(err)))
		h.fail(c, err)
		return
	}
	h.metrics.Session("start", "ok")
	c.JSON(http.StatusOK, gin.H{"success": true, "session": viewSession(&s, false)})
}

func (h *Handler) endSession(c *gin.Context) {
	id, ok := pathID(c, "session_id")
	if !ok {
		h.badRequest(c, "Invalid session id.")
		return
	}
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	if err := h.sessions.End(ctx, id); err != nil {
		h.metrics.Session("end", string(attendance.KindOf(err)))
		h.fail(c, err)
		return
	}
	h.metrics.Session("end", "ok")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Session ended."})
}

func (h *Handler) studentName(c *gin.Context) {
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	name, err := h.recorder.LookupName(ctx, c.Param("enrollment_no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "name": name})
}

func (h *Handler) studentsForDay(c *gin.Context) {
	day, err := attendance.ParseDay(c.Param("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	roster, err := h.agg.RosterForDay(ctx, day)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "students": roster})
}

func (h *Handler) studentsForSession(c *gin.Context) {
	id, ok := pathID(c, "session_id")
	if !ok {
		h.badRequest(c, "Invalid session id.")
		return
	}
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	roster, err := h.agg.RosterForSession(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "students": roster})
}

type toggleDayRequest struct {
	Date      string `json:"date" binding:"required"`
	StudentID int64  `json:"student_id" binding:"required"`
	IsPresent *bool  `json:"is_present" binding:"required"`
}

func (h *Handler) toggleForDay(c *gin.Context) {
	var req toggleDayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Date, student and presence are required.")
		return
	}
	day, err := attendance.ParseDay(req.Date)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	if *req.IsPresent {
		err = h.recorder.SetPresentForDay(ctx, day, req.StudentID, auth.PrincipalFrom(c).UserID)
	} else {
		err = h.recorder.SetAbsentForDay(ctx, day, req.StudentID)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type toggleSessionRequest struct {
	SessionID int64 `json:"session_id" binding:"required"`
	StudentID int64 `json:"student_id" binding:"required"`
	IsPresent *bool `json:"is_present" binding:"required"`
}

func (h *Handler) toggleForSession(c *gin.Context) {
	var req toggleSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Session, student and presence are required.")
		return
	}
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	var err error
	if *req.IsPresent {
		err = h.recorder.SetPresentForSession(ctx, req.SessionID, req.StudentID)
	} else {
		err = h.recorder.SetAbsentForSession(ctx, req.SessionID, req.StudentID)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) deleteDay(c *gin.Context) {
	day, err := attendance.ParseDay(c.Param("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	n, err := h.sessions.DeleteDay(ctx, day, auth.PrincipalFrom(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("All records for %s deleted.", day.Format(attendance.DateLayout)),
		"deleted": n,
	})
}
