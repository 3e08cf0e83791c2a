package main

import (
	"database/sql"
	"time"
)

// SQLite store, used for local development. Timestamps are stored as unix
// seconds so values round-trip identically across drivers.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: d, path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER UNIQUE NOT NULL,
			first_name TEXT NOT NULL,
			last_name TEXT,
			username TEXT,
			coins INTEGER NOT NULL DEFAULT 0,
			total_coins INTEGER NOT NULL DEFAULT 0,
			max_score INTEGER NOT NULL DEFAULT 0,
			can_play INTEGER NOT NULL DEFAULT 1,
			referred_by_id INTEGER,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS game_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			score INTEGER NOT NULL DEFAULT 0,
			is_valid INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

const sqliteUserColumns = `id,telegram_id,first_name,last_name,username,coins,total_coins,max_score,can_play,referred_by_id,created_at`

func sqliteScanUser(row rowScanner) (*User, error) {
	var u User
	var lastName, username sql.NullString
	var referredBy sql.NullInt64
	var canPlay int
	var created int64
	err := row.Scan(&u.ID, &u.TelegramID, &u.FirstName, &lastName, &username,
		&u.Coins, &u.TotalCoins, &u.MaxScore, &canPlay, &referredBy, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.CanPlay = canPlay != 0
	u.CreatedAt = time.Unix(created, 0)
	if lastName.Valid {
		u.LastName = &lastName.String
	}
	if username.Valid {
		u.Username = &username.String
	}
	if referredBy.Valid {
		u.ReferredByID = &referredBy.Int64
	}
	return &u, nil
}

func (s *SQLiteStore) GetUserByID(id int64) (*User, error) {
	return sqliteScanUser(s.db.QueryRow(`SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByTelegramID(telegramID int64) (*User, error) {
	return sqliteScanUser(s.db.QueryRow(`SELECT `+sqliteUserColumns+` FROM users WHERE telegram_id = ?`, telegramID))
}

func (s *SQLiteStore) CreateUser(tg TelegramUser, referredByID *int64) (*User, error) {
	res, err := s.db.Exec(
		`INSERT INTO users(telegram_id,first_name,last_name,username,can_play,referred_by_id,created_at)
		 VALUES(?,?,?,?,1,?,?)`,
		tg.ID, tg.FirstName, tg.LastName, tg.Username, referredByID, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(id)
}

func (s *SQLiteStore) UpdateUserProfile(id int64, firstName string, lastName, username *string) error {
	res, err := s.db.Exec(`UPDATE users SET first_name=?,last_name=?,username=? WHERE id=?`,
		firstName, lastName, username, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreditReferrer(id int64, bonus int64) error {
	res, err := s.db.Exec(`UPDATE users SET coins = coins + ?, total_coins = total_coins + ? WHERE id = ?`, bonus, bonus, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountReferrals(id int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT count(*) FROM users WHERE referred_by_id = ?`, id).Scan(&n)
	return n, err
}

func (s *SQLiteStore) CreateRefreshToken(token string, userID int64, expiresAt int64) error {
	_, err := s.db.Exec(`INSERT INTO refresh_tokens(token,user_id,expires_at,created_at) VALUES(?,?,?,?)`,
		token, userID, expiresAt, time.Now().Unix())
	return err
}

func (s *SQLiteStore) GetRefreshToken(token string) (*RefreshToken, error) {
	row := s.db.QueryRow(`SELECT token,user_id,expires_at,created_at FROM refresh_tokens WHERE token = ?`, token)
	var t RefreshToken
	var created int64
	if err := row.Scan(&t.Token, &t.UserID, &t.ExpiresAt, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	t.CreatedAt = time.Unix(created, 0)
	return &t, nil
}

func (s *SQLiteStore) DeleteRefreshToken(token string) error {
	_, err := s.db.Exec(`DELETE FROM refresh_tokens WHERE token = ?`, token)
	return err
}

func (s *SQLiteStore) CreateSession(userID int64) (*GameSession, error) {
	now := time.Now()
	res, err := s.db.Exec(`INSERT INTO game_sessions(user_id,status,start_time) VALUES(?,?,?)`,
		userID, SessionActive, now.Unix())
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &GameSession{ID: id, UserID: userID, Status: SessionActive, StartTime: time.Unix(now.Unix(), 0)}, nil
}

func (s *SQLiteStore) GetSession(id int64) (*GameSession, error) {
	row := s.db.QueryRow(`SELECT id,user_id,status,start_time,end_time,score,is_valid FROM game_sessions WHERE id = ?`, id)
	var sess GameSession
	var start int64
	var end sql.NullInt64
	var isValid int
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Status, &start, &end, &sess.Score, &isValid); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	sess.StartTime = time.Unix(start, 0)
	sess.IsValid = isValid != 0
	if end.Valid {
		t := time.Unix(end.Int64, 0)
		sess.EndTime = &t
	}
	return &sess, nil
}

func (s *SQLiteStore) FinalizeSession(sessionID int64, endTime time.Time, score int64, valid bool) (*User, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	status := SessionFailed
	isValid := 0
	if valid {
		status = SessionCompleted
		isValid = 1
	}

	res, err := tx.Exec(
		`UPDATE game_sessions SET status=?,end_time=?,score=?,is_valid=? WHERE id=? AND status=?`,
		status, endTime.Unix(), score, isValid, sessionID, SessionActive)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRow(`SELECT count(*) FROM game_sessions WHERE id=?`, sessionID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists > 0 {
			return nil, ErrAlreadyFinalized
		}
		return nil, ErrNotFound
	}

	var userID int64
	if err := tx.QueryRow(`SELECT user_id FROM game_sessions WHERE id=?`, sessionID).Scan(&userID); err != nil {
		return nil, err
	}

	if valid {
		if _, err := tx.Exec(
			`UPDATE users SET coins = coins + ?, total_coins = total_coins + ?, max_score = MAX(max_score, ?) WHERE id = ?`,
			score, score, score, userID); err != nil {
			return nil, err
		}
	}

	u, err := sqliteScanUser(tx.QueryRow(`SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, userID))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *SQLiteStore) close() error { return s.db.Close() }
func (s *SQLiteStore) ping() bool   { return s.db.Ping() == nil }
