package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestStore(t *testing.T, b Backend, clock *fakeClock) *Store {
	t.Helper()
	s, err := NewStore(b, Options{
		Secret:      testSecret,
		MaxDuration: dayMillis,
		CacheTTL:    30 * time.Second,
		MaxUnits:    100,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return s
}

// sessionCookie returns the last session cookie set on rec, or nil.
func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			found = c
		}
	}
	return found
}

// requestWith builds a bound request carrying c.
func requestWith(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if c != nil {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return Bind(r)
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := NewStore(nil, Options{Secret: testSecret, MaxDuration: time.Hour}); err == nil {
		t.Error("expected error for nil backend")
	}
	if _, err := NewStore(NewMemoryBackend(), Options{MaxDuration: time.Hour}); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := NewStore(NewMemoryBackend(), Options{Secret: testSecret}); err == nil {
		t.Error("expected error for zero max duration")
	}
}

func TestStoreLoadWithoutToken(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend(), newFakeClock(epoch))
	_, err := s.Load(requestWith(nil))
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if errors.Is(err, ErrInvalidSession) {
		t.Fatalf("absent token must not report an invalid session: %v", err)
	}
}

func TestStoreSaveAllocatesTokenAndCookie(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend(), newFakeClock(epoch))
	w := httptest.NewRecorder()

	if _, err := s.Save(w, requestWith(nil), Fields{}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	c := sessionCookie(w)
	if c == nil {
		t.Fatal("expected session cookie on response")
	}
	if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || c.Path != "/" {
		t.Errorf("unexpected cookie attributes: %+v", c)
	}
	if want := epoch.Add(dayMillis); !c.Expires.Equal(want.Truncate(time.Second)) {
		t.Errorf("expected cookie expiry %s, got %s", want, c.Expires)
	}
	if validToken(c.Value) {
		t.Errorf("cookie carries the bare token %q", c.Value)
	}
	if token, ok := s.codec.decode(c.Value); !ok || !validToken(token) {
		t.Errorf("cookie value %q does not decode to a token", c.Value)
	}
}

func TestStoreSaveThenLoad(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend(), newFakeClock(epoch))
	w := httptest.NewRecorder()

	saved, err := s.Save(w, requestWith(nil), Fields{UserID: strPtr("u1"), Progress: map[string]string{"courseA": "lesson1"}})
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := s.Load(requestWith(sessionCookie(w)))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if *got.UserID != "u1" || got.Progress["courseA"] != "lesson1" || got.CreatedAt != saved.CreatedAt {
		t.Errorf("loaded record differs from saved: %+v", got)
	}
	if got.Challenge != nil || len(got.VideoStarts) != 0 || len(got.VideoCompletions) != 0 {
		t.Errorf("expected omitted fields to default, got %+v", got)
	}
}

func TestStoreReplaceNotMerge(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend(), newFakeClock(epoch))
	w := httptest.NewRecorder()
	if _, err := s.Save(w, requestWith(nil), Fields{Progress: map[string]string{"courseA": "lesson1"}}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	c := sessionCookie(w)

	w2 := httptest.NewRecorder()
	r2 := requestWith(c)
	if _, err := s.Load(r2); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if _, err := s.Save(w2, r2, Fields{Progress: map[string]string{"courseA": "lesson2"}}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if c2 := sessionCookie(w2); c2 == nil || c2.Value != c.Value {
		t.Fatalf("expected the same token to be reused, got %v", c2)
	}

	got, err := s.Load(requestWith(c))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(got.Progress) != 1 || got.Progress["courseA"] != "lesson2" {
		t.Errorf("expected {courseA: lesson2}, got %v", got.Progress)
	}
}

func TestStoreSavesWithinRequestShareToken(t *testing.T) {
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, newFakeClock(epoch))
	w := httptest.NewRecorder()
	r := requestWith(nil)

	if _, err := s.Save(w, r, Fields{}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := s.Save(w, r, Fields{Progress: map[string]string{"c": "l"}}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if backend.Len() != 1 {
		t.Fatalf("expected a single record, backend holds %d", backend.Len())
	}
	rec, err := s.Load(r)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if rec.Progress["c"] != "l" {
		t.Errorf("expected second save visible in same request, got %v", rec.Progress)
	}
}

func TestStoreExpiredTokenGetsNewToken(t *testing.T) {
	clock := newFakeClock(epoch)
	s := newTestStore(t, NewMemoryBackend(), clock)
	w := httptest.NewRecorder()
	if _, err := s.Save(w, requestWith(nil), Fields{UserID: strPtr("u1")}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	old := sessionCookie(w)

	clock.Advance(dayMillis + time.Millisecond)
	r := requestWith(old)
	_, err := s.Load(r)
	if !errors.Is(err, ErrUnauthenticated) || !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrUnauthenticated wrapping ErrInvalidSession, got %v", err)
	}

	w2 := httptest.NewRecorder()
	if _, err := s.Save(w2, r, Fields{}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	fresh := sessionCookie(w2)
	if fresh == nil || fresh.Value == old.Value {
		t.Fatalf("expected a new token after expiry, got %v", fresh)
	}

	if _, err := s.Load(requestWith(old)); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected old token to stay invalid, got %v", err)
	}
}

func TestStoreTamperedCookie(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend(), newFakeClock(epoch))
	w := httptest.NewRecorder()
	if _, err := s.Save(w, requestWith(nil), Fields{UserID: strPtr("u1")}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	c := sessionCookie(w)
	token, ok := s.codec.decode(c.Value)
	if !ok {
		t.Fatalf("cookie %q does not decode", c.Value)
	}

	flipped := []byte(c.Value)
	mid := len(flipped) / 2
	if flipped[mid] == 'A' {
		flipped[mid] = 'B'
	} else {
		flipped[mid] = 'A'
	}

	foreign, err := newCookieCodec([]byte("another-secret-another-secret-xx"), false, time.Hour).encode(token)
	if err != nil {
		t.Fatalf("encode with foreign key: %v", err)
	}

	for name, value := range map[string]string{
		"unsigned":    token,
		"flipped":     string(flipped),
		"foreign key": foreign,
		"garbage":     "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(requestWith(&http.Cookie{Name: CookieName, Value: value}))
			if !errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrInvalidSession) {
				t.Fatalf("expected plain ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestStoreRemove(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend(), newFakeClock(epoch))
	w := httptest.NewRecorder()
	if _, err := s.Save(w, requestWith(nil), Fields{UserID: strPtr("u1")}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	c := sessionCookie(w)

	for i := 0; i < 2; i++ {
		w2 := httptest.NewRecorder()
		if err := s.Remove(w2, requestWith(c)); err != nil {
			t.Fatalf("Remove() #%d error: %v", i+1, err)
		}
		cleared := sessionCookie(w2)
		if cleared == nil || cleared.MaxAge >= 0 || cleared.Value != "" {
			t.Fatalf("expected cleared cookie, got %+v", cleared)
		}
	}

	if _, err := s.Load(requestWith(c)); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession after Remove, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected no units after Remove, got %d", s.Len())
	}
}

func TestStoreRemoveWithoutToken(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend(), newFakeClock(epoch))
	w := httptest.NewRecorder()
	if err := s.Remove(w, requestWith(nil)); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if sessionCookie(w) == nil {
		t.Error("expected cookie to be cleared anyway")
	}
}

func TestStoreRegenerate(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend(), newFakeClock(epoch))
	w := httptest.NewRecorder()
	if _, err := s.Save(w, requestWith(nil), Fields{Progress: map[string]string{"c": "l"}}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	anon := sessionCookie(w)

	w2 := httptest.NewRecorder()
	r := requestWith(anon)
	if _, err := s.Load(r); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	rec, err := s.Regenerate(w2, r, Fields{UserID: strPtr("u1")})
	if err != nil {
		t.Fatalf("Regenerate() error: %v", err)
	}
	if *rec.UserID != "u1" || len(rec.Progress) != 0 {
		t.Errorf("unexpected regenerated record %+v", rec)
	}

	authed := sessionCookie(w2)
	if authed == nil || authed.Value == anon.Value || authed.MaxAge < 0 {
		t.Fatalf("expected a new token cookie, got %+v", authed)
	}
	if _, err := s.Load(requestWith(anon)); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected previous token revoked, got %v", err)
	}
	got, err := s.Load(requestWith(authed))
	if err != nil || *got.UserID != "u1" {
		t.Fatalf("expected new token to load user session, got %+v, %v", got, err)
	}
}

func TestStoreWithoutBoundRequest(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend(), newFakeClock(epoch))
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := s.Save(w, r, Fields{UserID: strPtr("u1")}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	c := sessionCookie(w)

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	w2 := httptest.NewRecorder()
	if _, err := s.Save(w2, r2, Fields{UserID: strPtr("u2")}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if sessionCookie(w2).Value != c.Value {
		t.Error("expected unbound request to reuse the cookie token")
	}
}

func TestStoreStorageFailure(t *testing.T) {
	backend := &flakyBackend{Backend: NewMemoryBackend()}
	s, err := NewStore(backend, Options{Secret: testSecret, MaxDuration: time.Hour, Now: newFakeClock(epoch).Now})
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	w := httptest.NewRecorder()
	if _, err := s.Save(w, requestWith(nil), Fields{}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	backend.fail(errors.New("redis down"))
	_, err = s.Load(requestWith(sessionCookie(w)))
	if err == nil || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected storage error distinct from ErrUnauthenticated, got %v", err)
	}
}

// Two stores over one backend behave like two replicas sharing Redis.
func TestStoreReplicasShareRecordState(t *testing.T) {
	backend := NewMemoryBackend()
	clock := newFakeClock(epoch)
	replica := func() *Store {
		s, err := NewStore(backend, Options{Secret: testSecret, MaxDuration: dayMillis, Now: clock.Now})
		if err != nil {
			t.Fatalf("NewStore() error: %v", err)
		}
		return s
	}
	a, b := replica(), replica()

	w := httptest.NewRecorder()
	if _, err := a.Save(w, requestWith(nil), Fields{UserID: strPtr("u1")}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	c := sessionCookie(w)
	if _, err := a.Load(requestWith(c)); err != nil {
		t.Fatalf("Load() on a error: %v", err)
	}

	// A write through b is what a reads next.
	if _, err := b.Save(httptest.NewRecorder(), requestWith(c), Fields{UserID: strPtr("u1"), Progress: map[string]string{"c1": "l2"}}); err != nil {
		t.Fatalf("Save() on b error: %v", err)
	}
	rec, err := a.Load(requestWith(c))
	if err != nil {
		t.Fatalf("Load() on a error: %v", err)
	}
	if rec.Progress["c1"] != "l2" {
		t.Errorf("a read a stale record: %v", rec.Progress)
	}

	if err := b.Remove(httptest.NewRecorder(), requestWith(c)); err != nil {
		t.Fatalf("Remove() on b error: %v", err)
	}
	if _, err := a.Load(requestWith(c)); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected a revoked session to be invalid on a, got %v", err)
	}
}

func TestStoreEvictsLeastRecentlyUsed(t *testing.T) {
	s, err := NewStore(NewMemoryBackend(), Options{Secret: testSecret, MaxDuration: time.Hour, MaxUnits: 2})
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	save := func() string {
		w := httptest.NewRecorder()
		if _, err := s.Save(w, requestWith(nil), Fields{}); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		token, ok := s.codec.decode(sessionCookie(w).Value)
		if !ok {
			t.Fatal("undecodable cookie")
		}
		return token
	}
	held := func(token string) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.units[token]
		return ok
	}

	first := save()
	second := save()
	// Touching first makes second the oldest.
	if _, err := s.Load(requestWith(&http.Cookie{Name: CookieName, Value: mustEncode(t, s, first)})); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	third := save()

	if !held(first) || held(second) || !held(third) {
		t.Errorf("unexpected registry: first=%v second=%v third=%v", held(first), held(second), held(third))
	}
	if s.Len() != 2 || s.lru.Len() != 2 {
		t.Errorf("expected 2 units, map=%d list=%d", s.Len(), s.lru.Len())
	}
}

func mustEncode(t *testing.T, s *Store, token string) string {
	t.Helper()
	v, err := s.codec.encode(token)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return v
}

func TestStoreEvictsIdleUnits(t *testing.T) {
	clock := newFakeClock(epoch)
	s, err := NewStore(NewMemoryBackend(), Options{
		Secret:      testSecret,
		MaxDuration: time.Hour,
		CacheTTL:    time.Minute,
		MaxUnits:    3,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	var cookies []*http.Cookie
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		if _, err := s.Save(w, requestWith(nil), Fields{Progress: map[string]string{"n": string(rune('a' + i))}}); err != nil {
			t.Fatalf("Save() #%d error: %v", i, err)
		}
		cookies = append(cookies, sessionCookie(w))
		clock.Advance(time.Second)
	}
	if s.Len() != 3 {
		t.Fatalf("expected registry capped at 3, got %d", s.Len())
	}

	// Evicted units only lose their cache; the record is still durable.
	rec, err := s.Load(requestWith(cookies[0]))
	if err != nil {
		t.Fatalf("Load() of evicted unit error: %v", err)
	}
	if rec.Progress["n"] != "a" {
		t.Errorf("unexpected record for evicted unit: %v", rec.Progress)
	}
}
