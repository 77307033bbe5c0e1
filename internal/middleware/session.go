// Package middleware resolves the visitor's session and user for every
// request and exposes them to handlers.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/learnhub/courses/internal/logger"
	"github.com/learnhub/courses/internal/metrics"
	"github.com/learnhub/courses/internal/session"
	"github.com/learnhub/courses/internal/user"
)

// LoginPath is where RequireUser sends visitors without a user.
const LoginPath = "/user/login"

const (
	DefaultSessionTimeout = 3 * time.Second
	DefaultUserTimeout    = 5 * time.Second
)

// SessionStore is the part of session.Store the middleware needs.
type SessionStore interface {
	Load(r *http.Request) (*session.Record, error)
	Save(w http.ResponseWriter, r *http.Request, f session.Fields) (*session.Record, error)
}

// UserLookup resolves a user id to a user. A missing user is (nil, nil).
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*user.User, error)
}

// Context is the per-request view of the visitor handed to handlers. Either
// field may be nil: Session when it could not be resolved, User when the
// visitor is anonymous or the lookup failed.
type Context struct {
	Session *session.Record
	User    *user.User
}

type contextKey struct{}

// FromContext returns the request's Context. Requests that did not pass
// through the Session middleware get an empty one.
func FromContext(ctx context.Context) *Context {
	if c, ok := ctx.Value(contextKey{}).(*Context); ok {
		return c
	}
	return &Context{}
}

// WithContext returns a copy of ctx carrying c.
func WithContext(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// Config bounds the time spent resolving a request's visitor.
type Config struct {
	SessionTimeout time.Duration
	UserTimeout    time.Duration
}

// Session resolves the session and user for each request. Resolution never
// fails a request: on any error the handler runs with a nil session and a
// nil user, so handlers must enforce their own access checks.
type Session struct {
	store SessionStore
	users UserLookup
	cfg   Config
}

// NewSession creates the session middleware.
func NewSession(store SessionStore, users UserLookup, cfg Config) *Session {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.UserTimeout <= 0 {
		cfg.UserTimeout = DefaultUserTimeout
	}
	return &Session{store: store, users: users, cfg: cfg}
}

// Handler wraps next.
func (m *Session) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r = session.Bind(r)
		sc := m.resolve(w, r)
		metrics.ResolveLatency.Observe(time.Since(start).Seconds())

		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), sc)))
	})
}

func (m *Session) resolve(w http.ResponseWriter, r *http.Request) (sc *Context) {
	sc = &Context{}
	defer func() {
		if p := recover(); p != nil {
			logger.Errorw("[session] panic while resolving session", "panic", p, "path", r.URL.Path)
			metrics.SessionResolutions.WithLabelValues("failed").Inc()
			sc = &Context{}
		}
	}()

	rec, err := m.loadOrCreate(w, r)
	if err != nil {
		logger.Warnw("[session] resolve failed, continuing without session", "error", err, "path", r.URL.Path)
		metrics.SessionResolutions.WithLabelValues("failed").Inc()
		return sc
	}
	sc.Session = rec

	if rec.UserID != nil {
		sc.User = m.lookupUser(r.Context(), *rec.UserID)
	}
	return sc
}

// loadOrCreate loads the request's session, saving a fresh anonymous one
// when the request has no valid token.
func (m *Session) loadOrCreate(w http.ResponseWriter, r *http.Request) (*session.Record, error) {
	ctx, cancel := context.WithTimeout(r.Context(), m.cfg.SessionTimeout)
	defer cancel()
	r = r.WithContext(ctx)

	rec, err := m.store.Load(r)
	if err == nil {
		metrics.SessionResolutions.WithLabelValues("loaded").Inc()
		return rec, nil
	}
	if !errors.Is(err, session.ErrUnauthenticated) {
		// Storage failures and timeouts leave the request without a session.
		// Creating one here would overwrite a possibly valid signed-in
		// cookie with an anonymous token.
		return nil, err
	}

	rec, err = m.store.Save(w, r, session.Fields{Progress: map[string]string{}})
	if err != nil {
		return nil, fmt.Errorf("create anonymous session: %w", err)
	}
	metrics.SessionResolutions.WithLabelValues("created").Inc()
	return rec, nil
}

// lookupUser returns the user for id, or nil when the lookup fails, finds
// nothing or does not answer within UserTimeout. It returns on time even
// if the lookup ignores its context.
func (m *Session) lookupUser(parent context.Context, id string) *user.User {
	ctx, cancel := context.WithTimeout(parent, m.cfg.UserTimeout)
	defer cancel()

	type result struct {
		u   *user.User
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		u, err := m.users.FindByID(ctx, id)
		ch <- result{u: u, err: err}
	}()

	select {
	case res := <-ch:
		switch {
		case res.err != nil:
			logger.Warnw("[session] user lookup failed", "user_id", id, "error", res.err)
			metrics.UserLookups.WithLabelValues("error").Inc()
			return nil
		case res.u == nil:
			metrics.UserLookups.WithLabelValues("missing").Inc()
			return nil
		default:
			metrics.UserLookups.WithLabelValues("found").Inc()
			return res.u
		}
	case <-ctx.Done():
		logger.Warnw("[session] user lookup timed out", "user_id", id, "timeout", m.cfg.UserTimeout)
		metrics.UserLookups.WithLabelValues("timeout").Inc()
		return nil
	}
}

// RequireUser redirects visitors without a resolved user to LoginPath.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).User == nil {
			http.Redirect(w, r, LoginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
