package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	require.NoError(t, Init())
	token, err := CreateJWT("user-1")
	require.NoError(t, err)

	userID, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = AuthenticateJWT(token + "x")
	assert.Error(t, err)
}

func TestTokenFromRequestSources(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	tok, err := TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "q", tok)

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "c"})
	tok, _ = TokenFromRequest(r)
	assert.Equal(t, "c", tok, "cookie beats query")

	r.Header.Set("Authorization", "Bearer h")
	tok, _ = TokenFromRequest(r)
	assert.Equal(t, "h", tok, "header beats cookie")

	_, err = TokenFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestRequireUser(t *testing.T) {
	require.NoError(t, Init())
	token, err := CreateJWT("user-2")
	require.NoError(t, err)

	var seen string
	h := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-2", seen)
}
