package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMetricsExposition(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	m.Mark("accepted")
	m.Mark("out_of_range")
	m.Session("start", "ok")
	m.Audit("stored")

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/student", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/student", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	for _, want := range []string{
		`geoattend_attendance_marks_total{outcome="accepted"} 1`,
		`geoattend_attendance_marks_total{outcome="out_of_range"} 1`,
		`geoattend_session_actions_total{action="start",outcome="ok"} 1`,
		`geoattend_http_requests_total{method="GET",route="/student",status="200"} 1`,
		`geoattend_audit_events_total{result="stored"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Mark("accepted")
	m.Session("end", "ok")
	m.Audit("stored")
}
