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

func gameRequest(t *testing.T, app *App, handler http.HandlerFunc, method, path string, userID int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	ctx := context.WithValue(req.Context(), ctxUserID, userID)
	rec := httptest.NewRecorder()
	handler(rec, req.WithContext(ctx))
	return rec
}

func startSession(t *testing.T, app *App, userID int64) int64 {
	t.Helper()
	rec := gameRequest(t, app, app.HandleGameStart, http.MethodPost, "/api/game/start", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Success   bool  `json:"success"`
		SessionID int64 `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Success)
	require.NotZero(t, out.SessionID)
	return out.SessionID
}

// backdateSession shifts a stored session's start time into the past so a
// finalize call sees a chosen elapsed duration.
func backdateSession(t *testing.T, store *MemStore, id int64, d time.Duration) {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	s, ok := store.sessions[id]
	require.True(t, ok)
	s.StartTime = s.StartTime.Add(-d)
}

type endResponse struct {
	Success   bool  `json:"success"`
	Valid     bool  `json:"valid"`
	NewCoins  int64 `json:"newCoins"`
	Earned    int64 `json:"earned"`
	HighScore int64 `json:"highScore"`
}

func endSession(t *testing.T, app *App, userID, sessionID, score int64) (*httptest.ResponseRecorder, endResponse) {
	t.Helper()
	rec := gameRequest(t, app, app.HandleGameEnd, http.MethodPost, "/api/game/end", userID,
		map[string]int64{"sessionId": sessionID, "score": score})
	var out endResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestGameEndValidScore(t *testing.T) {
	app := newTestApp()
	store := app.DB.(*MemStore)
	user, err := app.DB.CreateUser(TelegramUser{ID: 1, FirstName: "Alice"}, nil)
	require.NoError(t, err)

	sessionID := startSession(t, app, user.ID)
	backdateSession(t, store, sessionID, 10300*time.Millisecond)

	rec, out := endSession(t, app, user.ID, sessionID, 7)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, out.Valid)
	require.Equal(t, int64(7), out.Earned)
	require.Equal(t, int64(7), out.NewCoins)
	require.Equal(t, int64(7), out.HighScore)

	sess, err := app.DB.GetSession(sessionID)
	require.NoError(t, err)
	require.Equal(t, SessionCompleted, sess.Status)
	require.True(t, sess.IsValid)
	require.Equal(t, int64(7), sess.Score)
	require.NotNil(t, sess.EndTime)
}

func TestGameEndImplausibleScore(t *testing.T) {
	app := newTestApp()
	store := app.DB.(*MemStore)
	user, err := app.DB.CreateUser(TelegramUser{ID: 1, FirstName: "Alice"}, nil)
	require.NoError(t, err)

	sessionID := startSession(t, app, user.ID)
	backdateSession(t, store, sessionID, 10300*time.Millisecond)

	// rejection is a normal outcome, not an error
	rec, out := endSession(t, app, user.ID, sessionID, 20)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, out.Success)
	require.False(t, out.Valid)
	require.Equal(t, int64(0), out.Earned)
	require.Equal(t, int64(0), out.NewCoins)

	sess, err := app.DB.GetSession(sessionID)
	require.NoError(t, err)
	require.Equal(t, SessionFailed, sess.Status)
	require.Equal(t, int64(0), sess.Score)
}

func TestGameEndDoubleFinalize(t *testing.T) {
	app := newTestApp()
	store := app.DB.(*MemStore)
	user, err := app.DB.CreateUser(TelegramUser{ID: 1, FirstName: "Alice"}, nil)
	require.NoError(t, err)

	sessionID := startSession(t, app, user.ID)
	backdateSession(t, store, sessionID, 10*time.Second)

	rec, _ := endSession(t, app, user.ID, sessionID, 5)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = endSession(t, app, user.ID, sessionID, 5)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// ledger unchanged after the rejected second call
	u, err := app.DB.GetUserByID(user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), u.Coins)
	require.Equal(t, int64(5), u.TotalCoins)
}

func TestGameEndOwnershipAndExistence(t *testing.T) {
	app := newTestApp()
	alice, err := app.DB.CreateUser(TelegramUser{ID: 1, FirstName: "Alice"}, nil)
	require.NoError(t, err)
	bob, err := app.DB.CreateUser(TelegramUser{ID: 2, FirstName: "Bob"}, nil)
	require.NoError(t, err)

	sessionID := startSession(t, app, alice.ID)

	rec, _ := endSession(t, app, bob.ID, sessionID, 1)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = endSession(t, app, alice.ID, 9999, 1)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// the session is still finalizable by its owner
	sess, err := app.DB.GetSession(sessionID)
	require.NoError(t, err)
	require.Equal(t, SessionActive, sess.Status)
}

func TestLedgerAccumulatesAcrossSessions(t *testing.T) {
	app := newTestApp()
	store := app.DB.(*MemStore)
	user, err := app.DB.CreateUser(TelegramUser{ID: 1, FirstName: "Alice"}, nil)
	require.NoError(t, err)

	scores := []int64{5, 12, 3, 9}
	var sum, max int64
	for _, score := range scores {
		sessionID := startSession(t, app, user.ID)
		backdateSession(t, store, sessionID, time.Minute)
		rec, out := endSession(t, app, user.ID, sessionID, score)
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, out.Valid)
		sum += score
		if score > max {
			max = score
		}
	}

	u, err := app.DB.GetUserByID(user.ID)
	require.NoError(t, err)
	require.Equal(t, sum, u.Coins)
	require.Equal(t, sum, u.TotalCoins)
	require.Equal(t, max, u.MaxScore)
}

func TestConcurrentActiveSessionsFinalizeIndependently(t *testing.T) {
	app := newTestApp()
	store := app.DB.(*MemStore)
	user, err := app.DB.CreateUser(TelegramUser{ID: 1, FirstName: "Alice"}, nil)
	require.NoError(t, err)

	first := startSession(t, app, user.ID)
	second := startSession(t, app, user.ID)
	require.NotEqual(t, first, second)
	backdateSession(t, store, first, time.Minute)
	backdateSession(t, store, second, time.Minute)

	rec, _ := endSession(t, app, user.ID, first, 4)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := app.DB.GetSession(second)
	require.NoError(t, err)
	require.Equal(t, SessionActive, sess.Status)

	rec, out := endSession(t, app, user.ID, second, 6)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(10), out.NewCoins)
}

func TestGameSync(t *testing.T) {
	app := newTestApp()
	store := app.DB.(*MemStore)
	user, err := app.DB.CreateUser(TelegramUser{ID: 1, FirstName: "Alice"}, nil)
	require.NoError(t, err)

	sessionID := startSession(t, app, user.ID)
	backdateSession(t, store, sessionID, time.Minute)
	rec, _ := endSession(t, app, user.ID, sessionID, 8)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = gameRequest(t, app, app.HandleGameSync, http.MethodGet, "/api/game/sync", user.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Success bool `json:"success"`
		User    struct {
			Coins     int64  `json:"coins"`
			MaxScore  int64  `json:"maxScore"`
			FirstName string `json:"firstName"`
			CanPlay   bool   `json:"canPlay"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Success)
	require.Equal(t, int64(8), out.User.Coins)
	require.Equal(t, int64(8), out.User.MaxScore)
	require.Equal(t, "Alice", out.User.FirstName)
	require.True(t, out.User.CanPlay)

	rec = gameRequest(t, app, app.HandleGameSync, http.MethodGet, "/api/game/sync", 9999, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
