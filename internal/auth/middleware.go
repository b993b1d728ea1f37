package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Role distinguishes the logged-in controller from anonymous students.
type Role string

const (
	RoleAnonymous  Role = "anonymous"
	RoleController Role = "controller"
)

// CookieName holds the controller session token.
const CookieName = "geoattend_session"

const principalKey = "principal"

// Principal is the caller identity attached to every request.
type Principal struct {
	Role     Role
	UserID   int64
	Username string
}

// IsController reports whether the caller logged in as the controller.
func (p Principal) IsController() bool { return p.Role == RoleController }

// Sessions issues and reads controller session cookies.
type Sessions struct {
	Key    string
	Issuer string
	TTL    time.Duration
	Secure bool
	Now    func() time.Time
}

func (s Sessions) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Identify resolves the principal from the session cookie, or from a bearer
// token for API clients. Missing or invalid tokens yield an anonymous
// principal; only RequireController rejects.
func (s Sessions) Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal{Role: RoleAnonymous}
		if tokenStr := requestToken(c); tokenStr != "" {
			claims, err := Parse(tokenStr, s.Key, s.Issuer)
			if err == nil && Role(claims.Role) == RoleController {
				p = Principal{Role: RoleController, UserID: claims.UserID, Username: claims.Subject}
			}
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func requestToken(c *gin.Context) string {
	if v, err := c.Cookie(CookieName); err == nil && v != "" {
		return v
	}
	authz := c.GetHeader("Authorization")
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

// Login sets the controller session cookie.
func (s Sessions) Login(c *gin.Context, username string, userID int64) error {
	token, exp, err := Issue(username, userID, string(RoleController), s.Issuer, s.Key, s.TTL, s.now())
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(exp.Sub(s.now()).Seconds()), "/", "", s.Secure, true)
	return nil
}

// Logout clears the session cookie.
func (s Sessions) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", s.Secure, true)
}

// PrincipalFrom returns the principal set by Identify, anonymous if none.
func PrincipalFrom(c *gin.Context) Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(Principal); ok {
			return p
		}
	}
	return Principal{Role: RoleAnonymous}
}

// RequireController aborts with 401 unless the caller is the controller.
func RequireController() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !PrincipalFrom(c).IsController() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success":  false,
				"message":  "Unauthorized",
				"category": "warning",
			})
			return
		}
		c.Next()
	}
}
