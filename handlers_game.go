package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// HandleGameStart opens a new timed play attempt. The start time comes from
// the server clock; a user may hold several ACTIVE sessions at once, each
// finalized independently by id.
func (a *App) HandleGameStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(ctxUserID).(int64)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	sess, err := a.DB.CreateSession(userID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"sessionId": sess.ID,
	})
}

// HandleGameEnd finalizes a session: the submitted score is checked against
// the anti-cheat bound for the elapsed time, and the status transition plus
// the coin credit are applied in one atomic unit. A rejected score is not an
// error; the session is recorded as FAILED with score 0 and valid:false.
func (a *App) HandleGameEnd(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(ctxUserID).(int64)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	var in struct {
		SessionID int64 `json:"sessionId"`
		Score     int64 `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if in.Score < 0 {
		writeError(w, http.StatusBadRequest, "Invalid score")
		return
	}

	sess, err := a.DB.GetSession(in.SessionID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if sess.UserID != userID {
		writeError(w, http.StatusForbidden, "Session belongs to another user")
		return
	}
	if sess.Status != SessionActive {
		writeError(w, http.StatusBadRequest, "Session already finalized")
		return
	}

	now := time.Now()
	elapsed := now.Sub(sess.StartTime)
	valid := a.Validator.Validate(elapsed, in.Score)
	score := in.Score
	if !valid {
		score = 0
	}

	user, err := a.DB.FinalizeSession(sess.ID, now, score, valid)
	if err != nil {
		// A concurrent finalize may win the race between the status check
		// above and the conditional update.
		if errors.Is(err, ErrAlreadyFinalized) {
			writeError(w, http.StatusBadRequest, "Session already finalized")
			return
		}
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Failed to finalize session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"valid":     valid,
		"newCoins":  user.Coins,
		"earned":    score,
		"highScore": user.MaxScore,
	})
}

// HandleGameSync returns the caller's current economy state.
func (a *App) HandleGameSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(ctxUserID).(int64)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing user identity")
		return
	}

	user, err := a.DB.GetUserByID(userID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user": map[string]interface{}{
			"coins":     user.Coins,
			"maxScore":  user.MaxScore,
			"firstName": user.FirstName,
			"canPlay":   user.CanPlay,
		},
	})
}
