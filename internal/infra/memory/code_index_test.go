package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

type countingLoader struct {
	codes map[string]string
	calls int
}

func (l *countingLoader) LoadSessionID(_ context.Context, code string) (string, error) {
	l.calls++
	if id, ok := l.codes[code]; ok {
		return id, nil
	}
	return "", domain.ErrSessionNotFound
}

func TestCodeIndexCaches(t *testing.T) {
	loader := &countingLoader{codes: map[string]string{"ABC234": "s1"}}
	idx := NewCodeIndex(loader, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := idx.Resolve(ctx, "ABC234")
		if err != nil || id != "s1" {
			t.Fatalf("resolve: %q %v", id, err)
		}
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	idx.Forget(ctx, "ABC234")
	if _, err := idx.Resolve(ctx, "ABC234"); err != nil {
		t.Fatalf("resolve after forget: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after forget, got %d calls", loader.calls)
	}
}

func TestCodeIndexExpires(t *testing.T) {
	loader := &countingLoader{codes: map[string]string{"ABC234": "s1"}}
	idx := NewCodeIndex(loader, time.Minute)
	now := time.Now()
	idx.clock = func() time.Time { return now }
	ctx := context.Background()

	if _, err := idx.Resolve(ctx, "ABC234"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := idx.Resolve(ctx, "ABC234"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, got %d calls", loader.calls)
	}
}

func TestCodeIndexDoesNotCacheMisses(t *testing.T) {
	loader := &countingLoader{codes: map[string]string{}}
	idx := NewCodeIndex(loader, time.Minute)
	ctx := context.Background()

	if _, err := idx.Resolve(ctx, "NOPE22"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	loader.codes["NOPE22"] = "s9"
	if id, err := idx.Resolve(ctx, "NOPE22"); err != nil || id != "s9" {
		t.Fatalf("expected fresh lookup, got %q %v", id, err)
	}
}
