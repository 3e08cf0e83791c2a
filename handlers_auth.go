package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

// HandleAuthSync turns a verified Telegram identity into a user record and a
// fresh credential pair. Existing users get their display fields refreshed;
// other live refresh tokens for the same user are left alone (multi-device).
func (a *App) HandleAuthSync(w http.ResponseWriter, r *http.Request) {
	tgUser, ok := r.Context().Value(ctxTelegramUser).(TelegramUser)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing Telegram identity")
		return
	}
	startParam, _ := r.Context().Value(ctxStartParam).(string)

	user, _, err := a.getOrCreateUser(tgUser, startParam)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Failed to sync user")
		return
	}

	access, err := createAccessToken(user.ID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	refresh := newRefreshToken()
	if err := a.DB.CreateRefreshToken(refresh, user.ID, time.Now().Add(refreshTokenTTL).Unix()); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken":  access,
		"refreshToken": refresh,
		"user":         user,
	})
}

// HandleRefresh mints a new access token from a stored refresh token. The
// refresh token itself is neither rotated nor extended.
func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if in.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Refresh token required")
		return
	}

	stored, err := a.DB.GetRefreshToken(in.RefreshToken)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Failed to look up token")
		return
	}
	if stored == nil || stored.ExpiresAt < time.Now().Unix() {
		writeError(w, http.StatusForbidden, "Invalid refresh token")
		return
	}

	access, err := createAccessToken(stored.UserID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": access})
}

// HandleLogout deletes the given refresh token. Idempotent: succeeds even if
// the token never existed.
func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if in.RefreshToken != "" {
		if err := a.DB.DeleteRefreshToken(in.RefreshToken); err != nil {
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "Failed to log out")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
