package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Credentials is the single controller account. Password is either plain
// text or a bcrypt hash.
type Credentials struct {
	Username string
	Password string
}

// Verify checks a login attempt.
func (c Credentials) Verify(username, password string) bool {
	if c.Username == "" || c.Password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	var passOK bool
	if strings.HasPrefix(c.Password, "$2") {
		passOK = bcrypt.CompareHashAndPassword([]byte(c.Password), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(c.Password)) == 1
	}
	return userOK && passOK
}

// HashPassword returns a bcrypt hash suitable for CONTROLLER_PASS.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
