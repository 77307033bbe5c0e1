package session

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/learnhub/courses/internal/logger"
	"github.com/learnhub/courses/internal/metrics"
)

// DefaultMaxUnits bounds the unit registry when Options.MaxUnits is zero.
const DefaultMaxUnits = 10000

// Options configures a Store.
type Options struct {
	// Secret keys the HMAC that signs session cookies.
	Secret []byte
	// MaxDuration is the session lifetime, used both for record expiry and
	// for the cookie's Expires attribute.
	MaxDuration time.Duration
	// CacheTTL bounds how long a unit trusts its in-memory copy of the
	// record. Zero disables the cache. A positive value is only correct
	// when this Store is the backend's sole writer: revocations made by
	// other processes are not seen until the cached copy goes stale.
	CacheTTL time.Duration
	// MaxUnits bounds the number of units kept in memory.
	MaxUnits int
	// CookieSecure sets the Secure attribute on session cookies.
	CookieSecure bool
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Store maps HTTP requests to session units. It decides which token a
// request uses; the unit for that token decides what the record holds.
type Store struct {
	backend Backend
	codec   cookieCodec
	unitCfg UnitConfig
	max     int

	mu    sync.Mutex
	units map[string]*list.Element // values are *Unit
	lru   *list.List               // front is most recently used
}

// NewStore creates a Store persisting records through b.
func NewStore(b Backend, opts Options) (*Store, error) {
	if b == nil {
		return nil, errors.New("session: nil backend")
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("session: empty cookie secret")
	}
	if opts.MaxDuration <= 0 {
		return nil, fmt.Errorf("session: max duration must be positive, got %s", opts.MaxDuration)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxUnits <= 0 {
		opts.MaxUnits = DefaultMaxUnits
	}
	return &Store{
		backend: b,
		codec:   newCookieCodec(opts.Secret, opts.CookieSecure, opts.MaxDuration),
		unitCfg: UnitConfig{
			MaxDuration: opts.MaxDuration,
			CacheTTL:    opts.CacheTTL,
			Now:         opts.Now,
		},
		max:   opts.MaxUnits,
		units: make(map[string]*list.Element),
		lru:   list.New(),
	}, nil
}

// MaxDuration returns the configured session lifetime.
func (s *Store) MaxDuration() time.Duration { return s.unitCfg.MaxDuration }

// Load returns the session record addressed by the request. It fails with
// ErrUnauthenticated when the request carries no usable token, and with an
// error matching both ErrUnauthenticated and ErrInvalidSession when the
// token's record is missing or expired. Any other error is a storage
// failure.
func (s *Store) Load(r *http.Request) (*Record, error) {
	token, ok := s.requestToken(r)
	if !ok {
		return nil, ErrUnauthenticated
	}

	u := s.unit(token)
	rec, err := u.Get(r.Context())
	if errors.Is(err, ErrInvalidSession) {
		s.drop(token)
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, ErrInvalidSession)
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}

	if h := holderFrom(r.Context()); h != nil {
		h.set(token)
	}
	return rec, nil
}

// Save writes f as the request's session record, replacing whatever was
// there. If the request has no bound token a new one is allocated and sent
// back in a cookie on w.
func (s *Store) Save(w http.ResponseWriter, r *http.Request, f Fields) (*Record, error) {
	token, ok := s.saveToken(r)
	fresh := !ok
	if fresh {
		token = NewToken()
	}

	rec, err := s.unit(token).Save(r.Context(), f)
	if err != nil {
		return nil, fmt.Errorf("session: save: %w", err)
	}

	if h := holderFrom(r.Context()); h != nil {
		h.set(token)
	}
	// The cookie expiry tracks the record's createdAt, so it is reissued on
	// every save.
	if err := s.codec.set(w, token, rec.ExpiresAt(s.unitCfg.MaxDuration)); err != nil {
		return nil, fmt.Errorf("session: save: encode cookie: %w", err)
	}

	if fresh {
		kind := "anonymous"
		if !rec.Anonymous() {
			kind = "user"
		}
		metrics.SessionsCreated.WithLabelValues(kind).Inc()
	}
	return rec, nil
}

// Remove revokes the request's session record, if any, and clears the
// cookie. A later Save in the same request allocates a new token.
func (s *Store) Remove(w http.ResponseWriter, r *http.Request) error {
	token, ok := s.requestToken(r)
	s.codec.clear(w)
	if h := holderFrom(r.Context()); h != nil {
		h.clear()
	}
	if !ok {
		return nil
	}
	err := s.unit(token).Revoke(r.Context())
	s.drop(token)
	if err != nil {
		return fmt.Errorf("session: remove: %w", err)
	}
	return nil
}

// Regenerate revokes the request's current record and saves f under a new
// token. It is used when privileges change, such as on login, so a token
// obtained before authentication never addresses an authenticated record.
func (s *Store) Regenerate(w http.ResponseWriter, r *http.Request, f Fields) (*Record, error) {
	if err := s.Remove(w, r); err != nil {
		// The old record stays until it expires.
		logger.Warnf("[session] regenerate: revoke previous token: %v", err)
	}
	return s.Save(w, r, f)
}

// Len returns the number of units held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

// requestToken returns the token the request addresses: the bound token if
// one was resolved earlier in the request, otherwise the cookie's.
func (s *Store) requestToken(r *http.Request) (string, bool) {
	if h := holderFrom(r.Context()); h != nil {
		if token, state := h.get(); state != holderUnset {
			return token, state == holderSet
		}
	}
	return s.codec.tokenFromRequest(r)
}

// saveToken returns the token a Save should reuse. With a bound holder only
// a token confirmed by Load or a previous Save is reused, so an expired or
// unknown cookie never gets its token revived. Without a holder the cookie
// token is trusted as is.
func (s *Store) saveToken(r *http.Request) (string, bool) {
	if h := holderFrom(r.Context()); h != nil {
		token, state := h.get()
		return token, state == holderSet
	}
	return s.codec.tokenFromRequest(r)
}

// unit returns the registry's unit for token, creating it if necessary,
// and marks it as most recently used.
func (s *Store) unit(token string) *Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.units[token]; ok {
		s.lru.MoveToFront(el)
		return el.Value.(*Unit)
	}
	u := NewUnit(token, s.backend, s.unitCfg)
	s.units[token] = s.lru.PushFront(u)
	for len(s.units) > s.max {
		s.evictOldestLocked()
	}
	return u
}

func (s *Store) drop(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.units[token]; ok {
		s.lru.Remove(el)
		delete(s.units, token)
	}
}

// evictOldestLocked removes the least recently used unit. Callers must
// hold s.mu.
func (s *Store) evictOldestLocked() {
	el := s.lru.Back()
	if el == nil {
		return
	}
	s.lru.Remove(el)
	delete(s.units, el.Value.(*Unit).Token())
}

type holderState int

const (
	holderUnset holderState = iota
	holderSet
	holderCleared
)

// tokenHolder carries the token resolved for a request so every Load and
// Save within that request addresses the same unit.
type tokenHolder struct {
	mu    sync.Mutex
	token string
	state holderState
}

func (h *tokenHolder) get() (string, holderState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token, h.state
}

func (h *tokenHolder) set(token string) {
	h.mu.Lock()
	h.token, h.state = token, holderSet
	h.mu.Unlock()
}

func (h *tokenHolder) clear() {
	h.mu.Lock()
	h.token, h.state = "", holderCleared
	h.mu.Unlock()
}

type holderKey struct{}

// Bind returns a copy of r whose context carries an empty token holder.
// Requests passed through the session middleware are already bound.
func Bind(r *http.Request) *http.Request {
	if holderFrom(r.Context()) != nil {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), holderKey{}, &tokenHolder{}))
}

func holderFrom(ctx context.Context) *tokenHolder {
	h, _ := ctx.Value(holderKey{}).(*tokenHolder)
	return h
}
