package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskhub/internal/domain"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS users (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  name          TEXT NOT NULL,
  email         TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  is_active     INTEGER NOT NULL DEFAULT 0,
  created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);
`
	_, err := db.Exec(schema)
	return err
}

type UserStore struct{ db *sql.DB }

func NewUserStore(db *sql.DB) *UserStore { return &UserStore{db: db} }

func (s *UserStore) Create(ctx context.Context, u domain.User) (int64, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id FROM users WHERE email = ?", u.Email)
	var existing int64
	if err := row.Scan(&existing); err == nil {
		return 0, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO users (name, email, password_hash, is_active, created_at)
VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`, u.Name, u.Email, u.PasswordHash, u.Active)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
SELECT id, name, email, password_hash, is_active, created_at FROM users WHERE email = ?`, email))
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (domain.User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
SELECT id, name, email, password_hash, is_active, created_at FROM users WHERE id = ?`, id))
}

// Activate flips the user active; the welcome task calls this after delivery.
func (s *UserStore) Activate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET is_active = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *UserStore) List(ctx context.Context, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, email, password_hash, is_active, created_at
FROM users ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var created time.Time
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Active, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = created
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *UserStore) scanOne(row *sql.Row) (domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, err
	}
	return u, nil
}
