package session

import (
	"context"
	"sync"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyBackend wraps a Backend and fails every call while broken is set.
type flakyBackend struct {
	Backend
	mu     sync.Mutex
	broken error
}

func (f *flakyBackend) fail(err error) {
	f.mu.Lock()
	f.broken = err
	f.mu.Unlock()
}

func (f *flakyBackend) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broken
}

func (f *flakyBackend) Get(ctx context.Context, token string) ([]byte, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Backend.Get(ctx, token)
}

func (f *flakyBackend) Put(ctx context.Context, token string, data []byte) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Backend.Put(ctx, token, data)
}

func (f *flakyBackend) Delete(ctx context.Context, token string) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Backend.Delete(ctx, token)
}

func strPtr(s string) *string { return &s }

// epoch is an arbitrary fixed starting instant for clock-driven tests.
var epoch = time.UnixMilli(1_700_000_000_000)
