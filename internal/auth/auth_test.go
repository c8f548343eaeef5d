package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"aird/internal/kind"
)

func TestLoginAndValidate(t *testing.T) {
	g := New("hunter2", "")

	cred, err := g.Login("hunter2")
	require.NoError(t, err)
	assert.True(t, g.Validate(cred))
}

func TestLoginWrongToken(t *testing.T) {
	g := New("hunter2", "")

	_, err := g.Login("hunter3")
	assert.ErrorIs(t, err, kind.ErrInvalidCredential)

	_, err = g.Login("")
	assert.ErrorIs(t, err, kind.ErrInvalidCredential)
}

func TestLoginBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	g := New("", string(hash))

	cred, err := g.Login("hunter2")
	require.NoError(t, err)
	assert.True(t, g.Validate(cred))

	_, err = g.Login("hunter3")
	assert.ErrorIs(t, err, kind.ErrInvalidCredential)
}

func TestValidateRejectsTampered(t *testing.T) {
	g := New("hunter2", "")
	cred, err := g.Login("hunter2")
	require.NoError(t, err)

	// Flip a character in the signature segment.
	i := strings.LastIndexByte(cred, '.') + 1
	mutated := cred[:i] + "A" + cred[i+1:]
	if mutated == cred {
		mutated = cred[:i] + "B" + cred[i+1:]
	}
	assert.False(t, g.Validate(mutated))
}

func TestValidateRejectsForeignCredential(t *testing.T) {
	a := New("token-a", "")
	b := New("token-b", "")

	cred, err := a.Login("token-a")
	require.NoError(t, err)
	assert.False(t, b.Validate(cred))
}

func TestValidateRejectsGarbage(t *testing.T) {
	g := New("hunter2", "")
	assert.False(t, g.Validate(""))
	assert.False(t, g.Validate("not-a-jwt"))
	assert.False(t, g.Validate("a.b.c"))
}

func TestMiddleware(t *testing.T) {
	g := New("hunter2", "")
	cred, err := g.Login("hunter2")
	require.NoError(t, err)

	var sawAuthenticatedCtx bool
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuthenticatedCtx = IsAuthenticated(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("cookie", func(t *testing.T) {
		sawAuthenticatedCtx = false
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: cred})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, sawAuthenticatedCtx)
	})

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer "+cred)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing credential api", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing credential browser redirects", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
	})
}
