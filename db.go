package main

import (
	"errors"
	"sync"
	"time"
)

// Store is the persistence boundary. All coin/score mutations go through
// FinalizeSession and CreditReferrer, which the SQL adapters implement with
// atomic increments inside a transaction; callers never read-modify-write
// balances.
//
// Lookup methods return (nil, nil) when the row does not exist.
type Store interface {
	Init() error
	// User operations
	GetUserByID(id int64) (*User, error)
	GetUserByTelegramID(telegramID int64) (*User, error)
	CreateUser(tg TelegramUser, referredByID *int64) (*User, error)
	UpdateUserProfile(id int64, firstName string, lastName, username *string) error
	CreditReferrer(id int64, bonus int64) error
	CountReferrals(id int64) (int64, error)
	// Token operations
	CreateRefreshToken(token string, userID int64, expiresAt int64) error
	GetRefreshToken(token string) (*RefreshToken, error)
	DeleteRefreshToken(token string) error
	// Session operations
	CreateSession(userID int64) (*GameSession, error)
	GetSession(id int64) (*GameSession, error)
	// FinalizeSession transitions an ACTIVE session to COMPLETED (valid) or
	// FAILED (invalid) and, when valid, credits the owner's balance in the
	// same atomic unit. Returns ErrAlreadyFinalized if the session already
	// left ACTIVE, so concurrent finalize calls cannot double-credit.
	FinalizeSession(sessionID int64, endTime time.Time, score int64, valid bool) (*User, error)
}

// Memory store, used by tests and DB_ADAPTER=memory.
type MemStore struct {
	mu       sync.Mutex
	users    map[int64]*User
	byTg     map[int64]int64
	tokens   map[string]*RefreshToken
	sessions map[int64]*GameSession
	userSeq  int64
	sessSeq  int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:    map[int64]*User{},
		byTg:     map[int64]int64{},
		tokens:   map[string]*RefreshToken{},
		sessions: map[int64]*GameSession{},
		userSeq:  1,
		sessSeq:  1,
	}
}

func (m *MemStore) Init() error { return nil }

func copyUser(u *User) *User {
	c := *u
	return &c
}

func copySession(s *GameSession) *GameSession {
	c := *s
	return &c
}

func (m *MemStore) GetUserByID(id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, nil
}

func (m *MemStore) GetUserByTelegramID(telegramID int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byTg[telegramID]; ok {
		return copyUser(m.users[id]), nil
	}
	return nil, nil
}

func (m *MemStore) CreateUser(tg TelegramUser, referredByID *int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byTg[tg.ID]; ok {
		return nil, errors.New("user exists")
	}
	u := &User{
		ID:           m.userSeq,
		TelegramID:   tg.ID,
		FirstName:    tg.FirstName,
		LastName:     tg.LastName,
		Username:     tg.Username,
		CanPlay:      true,
		ReferredByID: referredByID,
		CreatedAt:    time.Now(),
	}
	m.userSeq++
	m.users[u.ID] = u
	m.byTg[u.TelegramID] = u.ID
	return copyUser(u), nil
}

func (m *MemStore) UpdateUserProfile(id int64, firstName string, lastName, username *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.FirstName = firstName
	u.LastName = lastName
	u.Username = username
	return nil
}

func (m *MemStore) CreditReferrer(id int64, bonus int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Coins += bonus
	u.TotalCoins += bonus
	return nil
}

func (m *MemStore) CountReferrals(id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.users {
		if u.ReferredByID != nil && *u.ReferredByID == id {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CreateRefreshToken(token string, userID int64, expiresAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = &RefreshToken{Token: token, UserID: userID, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	return nil
}

func (m *MemStore) GetRefreshToken(token string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (m *MemStore) DeleteRefreshToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *MemStore) CreateSession(userID int64) (*GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &GameSession{
		ID:        m.sessSeq,
		UserID:    userID,
		Status:    SessionActive,
		StartTime: time.Now(),
	}
	m.sessSeq++
	m.sessions[s.ID] = s
	return copySession(s), nil
}

func (m *MemStore) GetSession(id int64) (*GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return copySession(s), nil
	}
	return nil, nil
}

func (m *MemStore) FinalizeSession(sessionID int64, endTime time.Time, score int64, valid bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != SessionActive {
		return nil, ErrAlreadyFinalized
	}
	u, ok := m.users[s.UserID]
	if !ok {
		return nil, ErrNotFound
	}
	s.EndTime = &endTime
	s.Score = score
	s.IsValid = valid
	if valid {
		s.Status = SessionCompleted
		u.Coins += score
		u.TotalCoins += score
		if score > u.MaxScore {
			u.MaxScore = score
		}
	} else {
		s.Status = SessionFailed
	}
	return copyUser(u), nil
}

// lifecycle helpers
func (m *MemStore) close() error { return nil }
func (m *MemStore) ping() bool   { return true }
