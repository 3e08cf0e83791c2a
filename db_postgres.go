package main

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type PostgresStore struct {
	db  *sql.DB
	dsn string
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresStore{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresStore) Init() error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.Ping()
}

const pgUserColumns = `id,telegram_id,first_name,last_name,username,coins,total_coins,max_score,can_play,referred_by_id,created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var lastName, username sql.NullString
	var referredBy sql.NullInt64
	err := row.Scan(&u.ID, &u.TelegramID, &u.FirstName, &lastName, &username,
		&u.Coins, &u.TotalCoins, &u.MaxScore, &u.CanPlay, &referredBy, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
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

func (p *PostgresStore) GetUserByID(id int64) (*User, error) {
	return scanUser(p.db.QueryRow(`SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id))
}

func (p *PostgresStore) GetUserByTelegramID(telegramID int64) (*User, error) {
	return scanUser(p.db.QueryRow(`SELECT `+pgUserColumns+` FROM users WHERE telegram_id = $1`, telegramID))
}

func (p *PostgresStore) CreateUser(tg TelegramUser, referredByID *int64) (*User, error) {
	return scanUser(p.db.QueryRow(
		`INSERT INTO users(telegram_id,first_name,last_name,username,can_play,referred_by_id,created_at)
		 VALUES($1,$2,$3,$4,TRUE,$5,now()) RETURNING `+pgUserColumns,
		tg.ID, tg.FirstName, tg.LastName, tg.Username, referredByID))
}

func (p *PostgresStore) UpdateUserProfile(id int64, firstName string, lastName, username *string) error {
	res, err := p.db.Exec(`UPDATE users SET first_name=$1,last_name=$2,username=$3 WHERE id=$4`,
		firstName, lastName, username, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) CreditReferrer(id int64, bonus int64) error {
	res, err := p.db.Exec(`UPDATE users SET coins = coins + $1, total_coins = total_coins + $1 WHERE id = $2`, bonus, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) CountReferrals(id int64) (int64, error) {
	var n int64
	err := p.db.QueryRow(`SELECT count(*) FROM users WHERE referred_by_id = $1`, id).Scan(&n)
	return n, err
}

func (p *PostgresStore) CreateRefreshToken(token string, userID int64, expiresAt int64) error {
	_, err := p.db.Exec(`INSERT INTO refresh_tokens(token,user_id,expires_at,created_at) VALUES($1,$2,$3,now())`,
		token, userID, expiresAt)
	return err
}

func (p *PostgresStore) GetRefreshToken(token string) (*RefreshToken, error) {
	row := p.db.QueryRow(`SELECT token,user_id,expires_at,created_at FROM refresh_tokens WHERE token = $1`, token)
	var t RefreshToken
	if err := row.Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) DeleteRefreshToken(token string) error {
	// idempotent: deleting an unknown token is not an error
	_, err := p.db.Exec(`DELETE FROM refresh_tokens WHERE token = $1`, token)
	return err
}

func (p *PostgresStore) CreateSession(userID int64) (*GameSession, error) {
	s := GameSession{UserID: userID, Status: SessionActive}
	err := p.db.QueryRow(
		`INSERT INTO game_sessions(user_id,status,start_time) VALUES($1,$2,now()) RETURNING id,start_time`,
		userID, SessionActive).Scan(&s.ID, &s.StartTime)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) GetSession(id int64) (*GameSession, error) {
	row := p.db.QueryRow(`SELECT id,user_id,status,start_time,end_time,score,is_valid FROM game_sessions WHERE id = $1`, id)
	var s GameSession
	var endTime sql.NullTime
	if err := row.Scan(&s.ID, &s.UserID, &s.Status, &s.StartTime, &endTime, &s.Score, &s.IsValid); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	return &s, nil
}

func (p *PostgresStore) FinalizeSession(sessionID int64, endTime time.Time, score int64, valid bool) (*User, error) {
	tx, err := p.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	status := SessionFailed
	if valid {
		status = SessionCompleted
	}

	// The status guard in the WHERE clause makes the ACTIVE -> terminal
	// transition happen exactly once even under concurrent finalize calls.
	var userID int64
	err = tx.QueryRow(
		`UPDATE game_sessions SET status=$1,end_time=$2,score=$3,is_valid=$4
		 WHERE id=$5 AND status=$6 RETURNING user_id`,
		status, endTime, score, valid, sessionID, SessionActive).Scan(&userID)
	if err == sql.ErrNoRows {
		var exists bool
		if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM game_sessions WHERE id=$1)`, sessionID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrAlreadyFinalized
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var u *User
	if valid {
		u, err = scanUser(tx.QueryRow(
			`UPDATE users SET coins = coins + $1, total_coins = total_coins + $1,
			        max_score = GREATEST(max_score, $1)
			 WHERE id = $2 RETURNING `+pgUserColumns, score, userID))
	} else {
		u, err = scanUser(tx.QueryRow(`SELECT `+pgUserColumns+` FROM users WHERE id = $1`, userID))
	}
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

func (p *PostgresStore) close() error { return p.db.Close() }
func (p *PostgresStore) ping() bool   { return p.db.Ping() == nil }
