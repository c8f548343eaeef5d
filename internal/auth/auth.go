// Package auth gates every protected route behind the shared access token.
// A successful login exchanges the token for a signed session credential
// (HS256 JWT) carried in a cookie or bearer header; handlers only ever see
// requests whose credential verified.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"aird/internal/kind"
)

// CookieName carries the session credential in browser flows.
const CookieName = "aird_session"

// subject is the single principal this system knows.
const subject = "authenticated"

const credentialValidity = 30 * 24 * time.Hour

type ctxKey struct{}

// Gate verifies the access token and issues/validates session credentials.
type Gate struct {
	tokenDigest [32]byte // sha256 of the plaintext token, for fixed-time compare
	tokenBcrypt string   // set instead of tokenDigest when configured hashed
	secret      []byte   // HMAC key for signing credentials
}

// New builds a Gate for the given shared token. Exactly one of token and
// tokenBcrypt must be non-empty; tokenBcrypt wins when both are set.
func New(token, tokenBcrypt string) *Gate {
	g := &Gate{tokenBcrypt: tokenBcrypt}
	if tokenBcrypt != "" {
		sum := sha256.Sum256([]byte("aird-credential:" + tokenBcrypt))
		g.secret = sum[:]
		return g
	}
	g.tokenDigest = sha256.Sum256([]byte(token))
	sum := sha256.Sum256([]byte("aird-credential:" + token))
	g.secret = sum[:]
	return g
}

// Login compares the presented token against the configured one and, on
// match, returns a signed session credential. The plaintext comparison is
// fixed-time over digests so response timing does not narrow the token.
func (g *Gate) Login(presented string) (string, error) {
	if g.tokenBcrypt != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(g.tokenBcrypt), []byte(presented)); err != nil {
			return "", kind.ErrInvalidCredential
		}
	} else {
		sum := sha256.Sum256([]byte(presented))
		if subtle.ConstantTimeCompare(sum[:], g.tokenDigest[:]) != 1 {
			return "", kind.ErrInvalidCredential
		}
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "aird",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(credentialValidity)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Validate reports whether credential is an untampered, unexpired session
// credential issued by this gate.
func (g *Gate) Validate(credential string) bool {
	if credential == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !tok.Valid {
		return false
	}
	return claims.Subject == subject
}

// Middleware rejects unauthenticated requests before the wrapped handler can
// run any side effects. Browser-shaped requests are redirected to /login;
// anything else gets a bare 401.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := CredentialFromRequest(r)
		if !g.Validate(cred) {
			if wantsHTML(r) {
				http.Redirect(w, r, "/login", http.StatusFound)
			} else {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuthenticated(r.Context())))
	})
}

// CredentialFromRequest extracts the session credential from the cookie or
// a bearer Authorization header.
func CredentialFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// WithAuthenticated marks ctx as belonging to the authenticated principal.
func WithAuthenticated(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, true)
}

// IsAuthenticated reports whether ctx passed the gate.
func IsAuthenticated(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKey{}).(bool)
	return v
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
