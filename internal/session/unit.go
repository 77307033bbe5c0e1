package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/learnhub/courses/internal/logger"
	"github.com/learnhub/courses/internal/metrics"
)

// Unit owns the session record of a single token. All reads and writes of
// that record go through the unit, which serialises them with its own lock.
type Unit struct {
	token       string
	backend     Backend
	maxDuration time.Duration
	cacheTTL    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	cached   *Record
	cachedAt time.Time
}

// UnitConfig holds the parameters shared by every unit of a store.
type UnitConfig struct {
	MaxDuration time.Duration
	CacheTTL    time.Duration
	Now         func() time.Time
}

// NewUnit returns the unit for token backed by b.
func NewUnit(token string, b Backend, cfg UnitConfig) *Unit {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Unit{
		token:       token,
		backend:     b,
		maxDuration: cfg.MaxDuration,
		cacheTTL:    cfg.CacheTTL,
		now:         now,
	}
}

// Token returns the token the unit is bound to.
func (u *Unit) Token() string { return u.token }

// Get returns the current record. A missing or expired record yields
// ErrInvalidSession; an expired record is deleted before returning.
func (u *Unit) Get(ctx context.Context) (*Record, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()

	if u.cached != nil && u.cacheFresh(now) {
		if u.cached.Valid(now, u.maxDuration) {
			return u.cached.Clone(), nil
		}
		if err := u.expire(ctx); err != nil {
			return nil, err
		}
		return nil, ErrInvalidSession
	}
	u.cached = nil

	data, err := u.backend.Get(ctx, u.token)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}

	if !rec.Valid(now, u.maxDuration) {
		if err := u.expire(ctx); err != nil {
			return nil, err
		}
		return nil, ErrInvalidSession
	}

	u.remember(rec, now)
	return rec.Clone(), nil
}

// Save replaces the record with one built from f, stamped with the current
// time as its creation instant.
func (u *Unit) Save(ctx context.Context, f Fields) (*Record, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()

	rec := newRecord(f, now)
	data, err := encodeRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("session: save: %w", err)
	}
	if err := u.backend.Put(ctx, u.token, data); err != nil {
		// The durable state is unknown; drop the cache so the next read
		// goes to the backend.
		u.cached = nil
		return nil, fmt.Errorf("session: save: %w", err)
	}

	u.remember(rec, now)
	return rec.Clone(), nil
}

// Revoke deletes the record. Revoking an absent record is not an error.
func (u *Unit) Revoke(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.cached = nil
	if err := u.backend.Delete(ctx, u.token); err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	metrics.SessionsRevoked.Inc()
	return nil
}

// expire deletes an expired record. Callers must hold u.mu.
func (u *Unit) expire(ctx context.Context) error {
	u.cached = nil
	if err := u.backend.Delete(ctx, u.token); err != nil {
		return fmt.Errorf("session: delete expired: %w", err)
	}
	metrics.SessionsExpired.Inc()
	logger.Debugw("[session] expired record deleted", "token_prefix", tokenPrefix(u.token))
	return nil
}

func (u *Unit) remember(rec *Record, now time.Time) {
	if u.cacheTTL <= 0 {
		u.cached = nil
		return
	}
	u.cached = rec
	u.cachedAt = now
}

func (u *Unit) cacheFresh(now time.Time) bool {
	return u.cacheTTL > 0 && now.Sub(u.cachedAt) < u.cacheTTL
}

// tokenPrefix returns a short, non-secret prefix of a token for logs.
func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
