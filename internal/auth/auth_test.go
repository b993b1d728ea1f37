package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIssueAndParse(t *testing.T) {
	token, exp, err := Issue("aih_controller", 3, string(RoleController), "geoattend", "secret", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) < 59*time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := Parse(token, "secret", "geoattend")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "aih_controller" || claims.UserID != 3 || claims.Role != string(RoleController) {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := Parse(token, "other", "geoattend"); err == nil {
		t.Fatal("wrong key accepted")
	}
	if _, err := Parse(token, "secret", "someone-else"); err == nil {
		t.Fatal("wrong issuer accepted")
	}

	expired, _, _ := Issue("aih_controller", 3, string(RoleController), "geoattend", "secret", time.Minute, time.Now().Add(-time.Hour))
	if _, err := Parse(expired, "secret", "geoattend"); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestCredentialsVerify(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	tests := []struct {
		name     string
		creds    Credentials
		user     string
		password string
		want     bool
	}{
		{"plain ok", Credentials{"ctl", "s3cret"}, "ctl", "s3cret", true},
		{"plain wrong password", Credentials{"ctl", "s3cret"}, "ctl", "nope", false},
		{"wrong user", Credentials{"ctl", "s3cret"}, "student", "s3cret", false},
		{"bcrypt ok", Credentials{"ctl", hash}, "ctl", "s3cret", true},
		{"bcrypt wrong", Credentials{"ctl", hash}, "ctl", hash, false},
		{"unconfigured", Credentials{}, "", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.creds.Verify(tc.user, tc.password); got != tc.want {
				t.Fatalf("Verify = %v, want %v", got, tc.want)
			}
		})
	}
}

func newRouter(s Sessions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(s.Identify())
	r.POST("/login", func(c *gin.Context) {
		if err := s.Login(c, "ctl", 9); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	})
	r.GET("/whoami", func(c *gin.Context) {
		p := PrincipalFrom(c)
		c.JSON(http.StatusOK, gin.H{"role": p.Role, "user": p.Username})
	})
	r.GET("/secret", RequireController(), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestSessionCookieFlow(t *testing.T) {
	s := Sessions{Key: "secret", Issuer: "geoattend", TTL: time.Hour}
	r := newRouter(s)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secret", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/secret", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("controller got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/secret", nil)
	req.Header.Set("Authorization", "Bearer "+cookies[0].Value)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/secret", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged cookie got %d", rec.Code)
	}
}
