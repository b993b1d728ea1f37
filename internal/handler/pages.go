package handler

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/report"
)

func (h *Handler) home(c *gin.Context) {
	if auth.PrincipalFrom(c).IsController() {
		c.Redirect(http.StatusFound, "/controller_dashboard")
		return
	}
	c.Redirect(http.StatusFound, "/student")
}

type loginRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.badRequest(c, "Username and password are required.")
		return
	}
	if !h.cfg.Credentials.Verify(req.Username, req.Password) {
		h.logger(c).Warn("controller login rejected", "username", req.Username)
		c.JSON(http.StatusUnauthorized, gin.H{
			"success":  false,
			"message":  "Invalid username or password.",
			"category": "danger",
		})
		return
	}
	if h.cfg.ControllerID == 0 {
		h.logger(c).Error("controller account missing from users table")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":  false,
			"message":  "Controller user not configured in the database.",
			"category": "danger",
		})
		return
	}
	if err := h.auth.Login(c, req.Username, h.cfg.ControllerID); err != nil {
		h.logger(c).Error("issue session token", "error", err)
		h.fail(c, err)
		return
	}
	h.logger(c).Info("controller logged in", "username", req.Username)
	c.JSON(http.StatusOK, gin.H{"success": true, "redirect": "/controller_dashboard"})
}

func (h *Handler) logout(c *gin.Context) {
	h.auth.Logout(c)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "You have been successfully logged out.",
		"category": "info",
	})
}

// studentPage shows the live session, or today's present list when there
// is none.
func (h *Handler) studentPage(c *gin.Context) {
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	body := gin.H{
		"success":    true,
		"class_name": h.cfg.ClassName,
		"today":      h.now().UTC().Format("Monday, January 02, 2006"),
	}
	active, err := h.sessions.Active(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	if active != nil {
		body["active_session"] = viewSession(active, true)
		c.JSON(http.StatusOK, body)
		return
	}
	present, err := h.agg.PresentForDay(ctx, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	body["active_session"] = nil
	body["present_students"] = viewStudents(present)
	c.JSON(http.StatusOK, body)
}

func (h *Handler) controllerDashboard(c *gin.Context) {
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	active, err := h.sessions.Active(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"class_name":     h.cfg.ClassName,
		"username":       auth.PrincipalFrom(c).Username,
		"active_session": viewSession(active, false),
	})
}

type reportDay struct {
	Date     string              `json:"date"`
	Statuses []attendance.Status `json:"statuses"`
}

func (h *Handler) attendanceReport(c *gin.Context) {
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	daily, err := h.agg.DailyMatrix(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	days := make([]reportDay, 0, len(daily.Days))
	for _, d := range daily.Days {
		days = append(days, reportDay{Date: d.Date.Format(attendance.DateLayout), Statuses: d.Statuses})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"class_name": h.cfg.ClassName,
		"students":   daily.Students,
		"report":     days,
	})
}

func (h *Handler) exportCSV(c *gin.Context) {
	ctx, cancel := h.storeCtx(c)
	defer cancel()

	m, ok, err := h.agg.ExportMatrix(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success":  false,
			"message":  "No attendance data available to export.",
			"category": "info",
		})
		return
	}

	var buf bytes.Buffer
	opts := report.Options{Labels: h.cfg.CSVLabels, ExcelBOM: h.cfg.ExcelBOM}
	if err := report.WriteCSV(&buf, m, opts); err != nil {
		h.logger(c).Error("render csv", "error", err)
		h.fail(c, err)
		return
	}
	name := report.FileName(h.cfg.FilePrefix, m)
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
