package controller

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionCookie = "bx_session"
	sessionTTL    = 8 * time.Hour

	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// sessionClaims is the payload of the session cookie.
type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ValidateToken reports whether the request carries the admin bearer token.
func (c *Controller) ValidateToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || c.AdminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.AdminToken)) == 1
}

// session returns the claims of a valid session cookie.
func (c *Controller) session(r *http.Request) (*sessionClaims, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	claims := &sessionClaims{}
	_, err = jwt.ParseWithClaims(cookie.Value, claims,
		func(*jwt.Token) (any, error) { return c.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired())
	if err != nil {
		return nil, false
	}
	return claims, true
}

// ValidateSessionCookie reports whether the request carries a valid session.
func (c *Controller) ValidateSessionCookie(r *http.Request) bool {
	_, ok := c.session(r)
	return ok
}

// RequireAuth lets through the bearer token and any valid session.
func (c *Controller) RequireAuth(next http.Handler) http.Handler {
	return c.requireRole("", next)
}

// RequireAdmin lets through the bearer token and admin sessions. Other valid
// sessions get 403.
func (c *Controller) RequireAdmin(next http.Handler) http.Handler {
	return c.requireRole(RoleAdmin, next)
}

func (c *Controller) requireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.ValidateToken(r) {
			next.ServeHTTP(w, r)
			return
		}
		claims, ok := c.session(r)
		switch {
		case !ok:
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		case role != "" && claims.Role != role:
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "forbidden"})
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// IssueSession signs a session for username and sets it as a cookie.
func (c *Controller) IssueSession(w http.ResponseWriter, username, role string) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	})
	signed, err := token.SignedString(c.JWTSecret)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   os.Getenv("ENVIRONMENT") == "production",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}
