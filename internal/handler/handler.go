// Package handler implements the HTTP surface of the attendance service.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/logging"
	"geoattend/internal/metrics"
	"geoattend/internal/report"
)

// Config carries the static settings the handlers need.
type Config struct {
	ClassName    string
	CSVLabels    report.Labels
	FilePrefix   string
	ExcelBOM     bool
	StoreTimeout time.Duration
	Credentials  auth.Credentials
	// ControllerID is the users row of the controller account; zero when the
	// account is missing from the database.
	ControllerID int64
}

// Deps are the services behind the handlers.
type Deps struct {
	Sessions   *attendance.SessionManager
	Recorder   *attendance.Recorder
	Aggregator *attendance.Aggregator
	Auth       auth.Sessions
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

// Handler serves every route of the service.
type Handler struct {
	cfg      Config
	sessions *attendance.SessionManager
	recorder *attendance.Recorder
	agg      *attendance.Aggregator
	auth     auth.Sessions
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Handler.
func New(cfg Config, deps Deps) *Handler {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:      cfg,
		sessions: deps.Sessions,
		recorder: deps.Recorder,
		agg:      deps.Aggregator,
		auth:     deps.Auth,
		metrics:  deps.Metrics,
		log:      logger,
		now:      now,
	}
}

// Register mounts the routes on r. limit guards the login and mark endpoints
// and may be nil.
func (h *Handler) Register(r gin.IRouter, limit gin.HandlerFunc) {
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}
	controller := auth.RequireController()

	r.GET("/", h.home)
	r.POST("/login", limit, h.login)
	r.GET("/logout", h.logout)
	r.GET("/student", h.studentPage)
	r.GET("/controller_dashboard", controller, h.controllerDashboard)
	r.GET("/attendance_report", controller, h.attendanceReport)
	r.GET("/export_csv", controller, h.exportCSV)

	api := r.Group("/api")
	api.GET("/get_present_students/:session_id", h.presentStudents)
	api.POST("/mark_attendance", limit, h.markAttendance)
	api.GET("/get_student_name/:enrollment_no", h.studentName)

	api.POST("/start_session", controller, h.startSession)
	api.POST("/end_session/:session_id", controller, h.endSession)
	api.GET("/get_students_for_day/:date", controller, h.studentsForDay)
	api.GET("/get_students_for_session/:session_id", controller, h.studentsForSession)
	api.POST("/toggle_attendance_for_day", controller, h.toggleForDay)
	api.POST("/toggle_attendance_for_session", controller, h.toggleForSession)
	api.DELETE("/delete_day/:date", controller, h.deleteDay)
}

// storeCtx bounds the storage work of one request.
func (h *Handler) storeCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.cfg.StoreTimeout)
}

func (h *Handler) logger(c *gin.Context) *slog.Logger {
	return logging.FromContext(c.Request.Context(), h.log)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind attendance.Kind) int {
	switch kind {
	case attendance.KindNotFound:
		return http.StatusNotFound
	case attendance.KindDuplicate, attendance.KindConflict:
		return http.StatusConflict
	case attendance.KindSessionExpired, attendance.KindNoActiveSession, attendance.KindValidation:
		return http.StatusBadRequest
	case attendance.KindOutOfRange, attendance.KindNetworkAlreadyUsed:
		return http.StatusForbidden
	case attendance.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the structured error response for err.
func (h *Handler) fail(c *gin.Context, err error) {
	kind := attendance.KindOf(err)
	body := gin.H{
		"success":  false,
		"message":  attendance.PublicMessage(err),
		"category": kind.Category(),
	}
	var domain *attendance.Error
	if kind == attendance.KindOutOfRange && errors.As(err, &domain) {
		body["distance"] = math.Round(domain.Distance)
	}
	if kind.Retryable() {
		c.Header("Retry-After", "5")
	}
	c.JSON(StatusFor(kind), body)
}

func (h *Handler) badRequest(c *gin.Context, msg string) {
	h.fail(c, attendance.NewValidationError(msg))
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// sourceAddress is the first X-Forwarded-For hop, or the peer address.
func sourceAddress(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return c.RemoteIP()
}

type sessionView struct {
	ID       int64                `json:"id"`
	EndTime  time.Time            `json:"end_time"`
	Geofence *attendance.Geofence `json:"geofence,omitempty"`
}

func viewSession(s *attendance.Session, withGeofence bool) *sessionView {
	if s == nil {
		return nil
	}
	v := &sessionView{ID: s.ID, EndTime: s.EndTime}
	if withGeofence {
		v.Geofence = s.Geofence
	}
	return v
}

type studentView struct {
	Name         string `json:"name"`
	EnrollmentNo string `json:"enrollment_no"`
}

func viewStudents(students []attendance.Student) []studentView {
	out := make([]studentView, 0, len(students))
	for _, s := range students {
		out = append(out, studentView{Name: s.Name, EnrollmentNo: s.EnrollmentNo})
	}
	return out
}
