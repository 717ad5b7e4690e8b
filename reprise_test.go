package reprise

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reprise-io/reprise/recovery"
)

func resetDefaultEngine() {
	defaultEng = nil
	defaultOnce = sync.Once{}
}

func TestDefault_LazyInit(t *testing.T) {
	resetDefaultEngine()

	eng1 := Default()
	if eng1 == nil {
		t.Fatal("expected engine")
	}
	eng2 := Default()
	if eng1 != eng2 {
		t.Fatal("expected Default to return the same instance")
	}
}

func TestInit_BeforeDefault(t *testing.T) {
	resetDefaultEngine()

	custom := recovery.New(recovery.WithMaxAttempts(5))
	Init(custom)

	if got := Default(); got != custom {
		t.Fatalf("got %p, want %p", got, custom)
	}
}

func TestInit_AfterDefaultIgnored(t *testing.T) {
	resetDefaultEngine()

	orig := Default()
	Init(recovery.New())

	if got := Default(); got != orig {
		t.Fatalf("got %p, want %p", got, orig)
	}
}

func TestInit_IgnoresNil(t *testing.T) {
	resetDefaultEngine()

	Init(nil)
	if Default() == nil {
		t.Fatal("expected default engine to initialize")
	}
}

func TestDo_RetriesThroughDefaultEngine(t *testing.T) {
	resetDefaultEngine()
	Init(recovery.New(
		recovery.WithMaxAttempts(3),
		recovery.WithSleep(func(context.Context, time.Duration) error { return nil }),
	))

	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d, want 2", calls)
	}
}

func TestDoValue_ReturnsResult(t *testing.T) {
	resetDefaultEngine()
	Init(recovery.New(
		recovery.WithMaxAttempts(2),
		recovery.WithSleep(func(context.Context, time.Duration) error { return nil }),
	))

	got, err := DoValue(context.Background(), func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %q, want ok", got)
	}
}

func TestParseKey(t *testing.T) {
	key := ParseKey("todos.save")
	if key.Namespace != "todos" || key.Name != "save" {
		t.Fatalf("unexpected key %+v", key)
	}
}
