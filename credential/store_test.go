package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "sm"), mr
}

func TestGetMissingRecord(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	in := &Record{
		Identifier:   "admin@example.com",
		Class:        ClassAdmin,
		PasswordHash: "$argon2id$...",
		TOTPSecret:   "JBSWY3DPEHPK3PXP",
		TOTPEnabled:  true,
	}
	if err := store.Put(ctx, in); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	out, err := store.Get(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.Identifier != in.Identifier || out.Class != in.Class ||
		out.PasswordHash != in.PasswordHash || out.TOTPSecret != in.TOTPSecret ||
		!out.TOTPEnabled {
		t.Fatalf("round-trip mismatch: %+v", out)
	}
}

func TestUpdateAppliesMutation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, &Record{Identifier: "u1", Class: ClassMember}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	updated, err := store.Update(ctx, "u1", func(r *Record) error {
		r.FailedAttempts = 3
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.FailedAttempts != 3 {
		t.Fatalf("mutation not reflected in return: %+v", updated)
	}

	stored, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.FailedAttempts != 3 {
		t.Fatalf("mutation not persisted: %+v", stored)
	}
}

func TestUpdateMissingRecord(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Update(context.Background(), "nobody", func(r *Record) error {
		return nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMutateErrorAborts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, &Record{Identifier: "u1", FailedAttempts: 1}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	sentinel := errors.New("refuse")
	_, err := store.Update(ctx, "u1", func(r *Record) error {
		r.FailedAttempts = 99
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("mutate error must propagate unchanged, got %v", err)
	}

	stored, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.FailedAttempts != 1 {
		t.Fatalf("aborted update must not persist: %+v", stored)
	}
}

func TestUpdateConcurrentIncrements(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, &Record{Identifier: "u1"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "u1", func(r *Record) error {
				r.FailedAttempts++
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected update error: %v", err)
		}
	}

	stored, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.FailedAttempts != succeeded {
		t.Fatalf("expected %d persisted increments, got %d", succeeded, stored.FailedAttempts)
	}
}

func TestResetTokenConsumeOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveResetToken(ctx, "hash-1", "member-1", time.Hour); err != nil {
		t.Fatalf("SaveResetToken failed: %v", err)
	}

	identifier, err := store.ConsumeResetToken(ctx, "hash-1")
	if err != nil {
		t.Fatalf("ConsumeResetToken failed: %v", err)
	}
	if identifier != "member-1" {
		t.Fatalf("expected member-1, got %s", identifier)
	}

	if _, err := store.ConsumeResetToken(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second consume must fail with ErrNotFound, got %v", err)
	}
}

func TestResetTokenExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveResetToken(ctx, "hash-1", "member-1", time.Minute); err != nil {
		t.Fatalf("SaveResetToken failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.ConsumeResetToken(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired token must not resolve, got %v", err)
	}
}

func TestRecordLockoutHelpers(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r := &Record{FailedAttempts: 5, LockedUntil: now.Add(10 * time.Minute).Unix()}

	if !r.Locked(now) {
		t.Fatal("record must be locked before expiry")
	}
	if r.Locked(now.Add(11 * time.Minute)) {
		t.Fatal("record must not be locked after expiry")
	}

	r.ClearLockout()
	if r.FailedAttempts != 0 || r.LockedUntil != 0 {
		t.Fatalf("ClearLockout incomplete: %+v", r)
	}
}
