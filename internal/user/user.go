// Package user stores registered accounts in PostgreSQL.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Role is an account's permission level.
type Role string

const (
	RoleUser    Role = "USER"
	RoleCreator Role = "CREATOR"
	RoleAdmin   Role = "ADMIN"
)

// ErrAlreadyExists is returned by Create when the username or email is taken.
var ErrAlreadyExists = errors.New("user: already exists")

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Repository manages users in PostgreSQL.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new user repository backed by the given database
// handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectColumns = `SELECT id, username, email, password_hash, role, created_at FROM users`

// FindByID returns the user with the given id, or nil if none exists.
func (r *Repository) FindByID(ctx context.Context, id string) (*User, error) {
	u, err := r.scanOne(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("user: find by id: %w", err)
	}
	return u, nil
}

// FindByIdentifier looks a user up by username or, case-insensitively, by
// email. It returns nil if neither matches.
func (r *Repository) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	const where = ` WHERE username = $1 OR LOWER(email) = LOWER($1) LIMIT 1`
	u, err := r.scanOne(r.db.QueryRowContext(ctx, selectColumns+where, strings.TrimSpace(identifier)))
	if err != nil {
		return nil, fmt.Errorf("user: find by identifier: %w", err)
	}
	return u, nil
}

// Create inserts u. An empty ID is filled with a new UUID and an empty Role
// defaults to RoleUser; CreatedAt is set from the database.
func (r *Repository) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}

	const query = `
		INSERT INTO users (id, username, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query, u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role)).Scan(&u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("user: insert: %w", err)
	}
	return nil
}

func (r *Repository) scanOne(row *sql.Row) (*User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}
