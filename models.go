package main

import "time"

// User holds a player's identity and economy state. TelegramID is the
// external identity key and never changes after creation; coins/totalCoins/
// maxScore are mutated only through atomic store operations.
type User struct {
	ID           int64     `json:"id"`
	TelegramID   int64     `json:"telegramId"`
	FirstName    string    `json:"firstName"`
	LastName     *string   `json:"lastName,omitempty"`
	Username     *string   `json:"username,omitempty"`
	Coins        int64     `json:"coins"`
	TotalCoins   int64     `json:"totalCoins"`
	MaxScore     int64     `json:"maxScore"`
	CanPlay      bool      `json:"canPlay"`
	ReferredByID *int64    `json:"referredById,omitempty"`
	CreatedAt    time.Time `json:"-"`
}

// RefreshToken is an opaque long-lived credential stored server-side so it
// can be revoked on logout. A user may hold several at once (multi-device).
type RefreshToken struct {
	Token     string
	UserID    int64
	ExpiresAt int64
	CreatedAt time.Time
}

// SessionStatus is the lifecycle state of a play attempt.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
)

// GameSession is one timed play attempt. StartTime comes from the server
// clock at creation; client-supplied time is never trusted. A session leaves
// ACTIVE exactly once.
type GameSession struct {
	ID        int64
	UserID    int64
	Status    SessionStatus
	StartTime time.Time
	EndTime   *time.Time
	Score     int64
	IsValid   bool
}

// TelegramUser is the verified identity record handed over by the launch-data
// check (or by the bot from an incoming update). Optional fields stay nil
// when Telegram did not provide them.
type TelegramUser struct {
	ID        int64   `json:"id"`
	FirstName string  `json:"first_name"`
	LastName  *string `json:"last_name,omitempty"`
	Username  *string `json:"username,omitempty"`
}
