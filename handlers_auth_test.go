package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestApp() *App {
	jwtSecret = []byte("test-secret")
	return &App{
		DB:          NewMemStore(),
		Validator:   defaultValidator,
		Notifier:    noopNotifier{},
		rateLimiter: NewRateLimiter(1000),
		botToken:    "test-token",
	}
}

func strPtr(s string) *string { return &s }

// syncRequest invokes HandleAuthSync with a verified identity already on the
// context, the way TelegramAuth hands it over.
func syncRequest(t *testing.T, app *App, tg TelegramUser, startParam string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/sync", nil)
	ctx := context.WithValue(req.Context(), ctxTelegramUser, tg)
	ctx = context.WithValue(ctx, ctxStartParam, startParam)
	rec := httptest.NewRecorder()
	app.HandleAuthSync(rec, req.WithContext(ctx))
	return rec
}

type syncResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

func TestAuthSyncCreatesUserAndTokens(t *testing.T) {
	app := newTestApp()

	rec := syncRequest(t, app, TelegramUser{ID: 111, FirstName: "Alice", Username: strPtr("alice")}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.AccessToken)
	require.NotEmpty(t, out.RefreshToken)
	require.Equal(t, int64(111), out.User.TelegramID)
	require.Equal(t, "Alice", out.User.FirstName)
	require.True(t, out.User.CanPlay)

	// access token is bound to the created user
	userID, err := parseAccessToken(out.AccessToken)
	require.NoError(t, err)
	require.Equal(t, out.User.ID, userID)

	// refresh token persisted server-side
	stored, err := app.DB.GetRefreshToken(out.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, out.User.ID, stored.UserID)
}

func TestAuthSyncRefreshesDisplayFieldsOnly(t *testing.T) {
	app := newTestApp()

	rec := syncRequest(t, app, TelegramUser{ID: 111, FirstName: "Alice"}, "")
	var first syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = syncRequest(t, app, TelegramUser{ID: 111, FirstName: "Alicia", LastName: strPtr("B")}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var second syncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))

	require.Equal(t, first.User.ID, second.User.ID)
	require.Equal(t, "Alicia", second.User.FirstName)
	require.NotNil(t, second.User.LastName)

	// each sync issues a fresh refresh token without touching earlier ones
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	old, err := app.DB.GetRefreshToken(first.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, old)
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestRefresh(t *testing.T) {
	app := newTestApp()
	user, err := app.DB.CreateUser(TelegramUser{ID: 42, FirstName: "Bob"}, nil)
	require.NoError(t, err)

	t.Run("valid token mints access token", func(t *testing.T) {
		require.NoError(t, app.DB.CreateRefreshToken("tok-valid", user.ID, time.Now().Add(time.Hour).Unix()))

		rec := postJSON(t, app.HandleRefresh, "/api/auth/refresh", map[string]string{"refreshToken": "tok-valid"})
		require.Equal(t, http.StatusOK, rec.Code)

		var out struct {
			AccessToken string `json:"accessToken"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		userID, err := parseAccessToken(out.AccessToken)
		require.NoError(t, err)
		require.Equal(t, user.ID, userID)

		// no rotation: the refresh token is still usable
		rec = postJSON(t, app.HandleRefresh, "/api/auth/refresh", map[string]string{"refreshToken": "tok-valid"})
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		require.NoError(t, app.DB.CreateRefreshToken("tok-expired", user.ID, time.Now().Add(-time.Minute).Unix()))

		rec := postJSON(t, app.HandleRefresh, "/api/auth/refresh", map[string]string{"refreshToken": "tok-expired"})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown token rejected", func(t *testing.T) {
		rec := postJSON(t, app.HandleRefresh, "/api/auth/refresh", map[string]string{"refreshToken": "never-issued"})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing token is a bad request", func(t *testing.T) {
		rec := postJSON(t, app.HandleRefresh, "/api/auth/refresh", map[string]string{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogoutIsIdempotent(t *testing.T) {
	app := newTestApp()
	user, err := app.DB.CreateUser(TelegramUser{ID: 42, FirstName: "Bob"}, nil)
	require.NoError(t, err)
	require.NoError(t, app.DB.CreateRefreshToken("tok", user.ID, time.Now().Add(time.Hour).Unix()))

	rec := postJSON(t, app.HandleLogout, "/api/auth/logout", map[string]string{"refreshToken": "tok"})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := app.DB.GetRefreshToken("tok")
	require.NoError(t, err)
	require.Nil(t, stored)

	// deleting again still succeeds
	rec = postJSON(t, app.HandleLogout, "/api/auth/logout", map[string]string{"refreshToken": "tok"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestParseAccessTokenRejectsGarbage(t *testing.T) {
	jwtSecret = []byte("test-secret")

	_, err := parseAccessToken("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidCredential)

	// token signed with a different secret
	jwtSecret = []byte("other-secret")
	token, err := createAccessToken(7)
	require.NoError(t, err)
	jwtSecret = []byte("test-secret")
	_, err = parseAccessToken(token)
	require.ErrorIs(t, err, ErrInvalidCredential)
}
