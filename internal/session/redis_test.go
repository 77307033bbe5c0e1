package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisBackendRoundTrip(t *testing.T) {
	mr, client := newTestRedis(t)
	b := NewRedisBackend(client)
	ctx := context.Background()

	if _, err := b.Get(ctx, "tok"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := b.Put(ctx, "tok", []byte(`{"createdAt":1}`)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if !mr.Exists(SessionPrefix + "tok") {
		t.Fatalf("expected key %q in redis", SessionPrefix+"tok")
	}
	if ttl := mr.TTL(SessionPrefix + "tok"); ttl != 0 {
		t.Errorf("expected no key TTL by default, got %s", ttl)
	}
	data, err := b.Get(ctx, "tok")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(data) != `{"createdAt":1}` {
		t.Errorf("unexpected blob %q", data)
	}

	if err := b.Delete(ctx, "tok"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := b.Delete(ctx, "tok"); err != nil {
		t.Fatalf("second Delete() error: %v", err)
	}
	if _, err := b.Get(ctx, "tok"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound after delete, got %v", err)
	}
}

func TestRedisBackendKeyTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	b := NewRedisBackend(client, WithKeyTTL(15*24*time.Hour))

	if err := b.Put(context.Background(), "tok", []byte(`{}`)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if ttl := mr.TTL(SessionPrefix + "tok"); ttl != 15*24*time.Hour {
		t.Errorf("expected key TTL 360h, got %s", ttl)
	}
}

func TestRedisBackendUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBackend(client)
	client.Close()

	_, err := b.Get(context.Background(), "tok")
	if err == nil || errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestUnitOverRedis(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	clock := newFakeClock(epoch)
	u := newTestUnit(t, NewRedisBackend(client), clock, 0)

	saved, err := u.Save(ctx, Fields{
		UserID:           strPtr("u1"),
		Challenge:        strPtr("abc"),
		Progress:         map[string]string{"courseA": "lesson1"},
		VideoCompletions: map[string]string{"courseA-lesson1": "2024-05-01T10:00:00Z"},
	})
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := u.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.CreatedAt != saved.CreatedAt || *got.UserID != "u1" || *got.Challenge != "abc" {
		t.Errorf("record did not round-trip: %+v", got)
	}
	if got.Progress["courseA"] != "lesson1" || got.VideoCompletions["courseA-lesson1"] != "2024-05-01T10:00:00Z" {
		t.Errorf("maps did not round-trip: %+v", got)
	}
	if got.VideoStarts == nil {
		t.Error("expected empty videoStarts map, got nil")
	}
}
