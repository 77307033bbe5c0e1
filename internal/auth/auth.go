// Package auth registers and authenticates users. Binding the resulting user
// to a session is left to the HTTP layer.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/learnhub/courses/internal/user"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown identifier or
	// a wrong password, without saying which.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidInput is returned by Register for malformed fields.
	ErrInvalidInput = errors.New("auth: invalid input")
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt ignores anything longer
	MaxUsernameLength = 32
)

// Users is the account storage the service needs.
type Users interface {
	FindByIdentifier(ctx context.Context, identifier string) (*user.User, error)
	Create(ctx context.Context, u *user.User) error
}

// Service registers and authenticates users.
type Service struct {
	users  Users
	hasher Hasher
}

// NewService creates a Service.
func NewService(users Users, hasher Hasher) *Service {
	return &Service{users: users, hasher: hasher}
}

// Register creates a user. A taken username or email yields
// user.ErrAlreadyExists.
func (s *Service) Register(ctx context.Context, username, email, password string) (*user.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if err := validate(username, email, password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	u := &user.User{Username: username, Email: email, PasswordHash: hash, Role: user.RoleUser}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login returns the user identified by username or email when password
// matches.
func (s *Service) Login(ctx context.Context, identifier, password string) (*user.User, error) {
	if strings.TrimSpace(identifier) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("auth: login: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Verify(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func validate(username, email, password string) error {
	switch {
	case username == "" || utf8.RuneCountInString(username) > MaxUsernameLength:
		return fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidInput, MaxUsernameLength)
	case strings.ContainsAny(username, "@ \t"):
		return fmt.Errorf("%w: username must not contain '@' or spaces", ErrInvalidInput)
	case !validEmail(email):
		return fmt.Errorf("%w: invalid email", ErrInvalidInput)
	case len(password) < MinPasswordLength || len(password) > MaxPasswordLength:
		return fmt.Errorf("%w: password must be %d-%d bytes", ErrInvalidInput, MinPasswordLength, MaxPasswordLength)
	}
	return nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
