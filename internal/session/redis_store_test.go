package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskhive/api/internal/store"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	redisStore, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = redisStore.Close() })
	return redisStore
}

func TestSaveAndLookup(t *testing.T) {
	redisStore := setupTestRedis(t)
	ctx := context.Background()

	user := store.User{ID: "user-1", Username: "maija", Role: "admin"}
	if err := redisStore.Save(ctx, "hash-1", user, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := redisStore.Lookup(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.ID != "user-1" || got.Username != "maija" || got.Role != "admin" {
		t.Fatalf("unexpected session user: %+v", got)
	}
}

func TestLookupUnknownHash(t *testing.T) {
	redisStore := setupTestRedis(t)
	if _, err := redisStore.Lookup(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	redisStore := setupTestRedis(t)
	ctx := context.Background()

	user := store.User{ID: "user-1", Username: "maija", Role: "user"}
	if err := redisStore.Save(ctx, "hash-1", user, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := redisStore.Revoke(ctx, "hash-1"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := redisStore.Lookup(ctx, "hash-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after revoke, got %v", err)
	}
}

func TestSaveRejectsExpired(t *testing.T) {
	redisStore := setupTestRedis(t)
	user := store.User{ID: "user-1", Username: "maija", Role: "user"}
	if err := redisStore.Save(context.Background(), "hash-1", user, time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected expired session save to fail")
	}
}
