package policy

import (
	"testing"
	"time"
)

func TestNew_AppliesOptions(t *testing.T) {
	p := New("test.key",
		MaxAttempts(5),
		BaseDelay(100*time.Millisecond),
		Classifier("custom"),
	)

	if p.Retry.MaxAttempts != 5 {
		t.Errorf("expected MaxAttempts 5, got %d", p.Retry.MaxAttempts)
	}
	if p.Retry.BaseDelay != 100*time.Millisecond {
		t.Errorf("expected BaseDelay 100ms, got %v", p.Retry.BaseDelay)
	}
	if p.Retry.ClassifierName != "custom" {
		t.Errorf("expected ClassifierName 'custom', got %s", p.Retry.ClassifierName)
	}
	if p.Key.String() != "test.key" {
		t.Errorf("expected key 'test.key', got %s", p.Key.String())
	}
}

func TestNew_NormalizationFallback(t *testing.T) {
	invalidJitter := func(p *EffectivePolicy) {
		p.Retry.Jitter = JitterKind("invalid-jitter")
	}

	p := New("test.broken", invalidJitter)

	// Should fall back to default
	if p.Retry.MaxAttempts != 3 {
		t.Errorf("expected default MaxAttempts 3, got %d", p.Retry.MaxAttempts)
	}
	if p.Retry.Jitter != JitterProportional {
		t.Errorf("expected default JitterProportional, got %v", p.Retry.Jitter)
	}
}

func TestExponentialBackoff(t *testing.T) {
	p := New("test.exp", ExponentialBackoff(50*time.Millisecond, 5*time.Second))

	if p.Retry.BaseDelay != 50*time.Millisecond {
		t.Errorf("expected base 50ms, got %v", p.Retry.BaseDelay)
	}
	if p.Retry.MaxDelay != 5*time.Second {
		t.Errorf("expected max 5s, got %v", p.Retry.MaxDelay)
	}
	if p.Retry.Jitter != JitterEqual {
		t.Errorf("expected JitterEqual, got %v", p.Retry.Jitter)
	}
}

func TestPresets_InteractiveDefaults(t *testing.T) {
	p := New("test.ui", InteractiveDefaults())

	if p.Retry.Jitter != JitterNone {
		t.Errorf("expected JitterNone, got %v", p.Retry.Jitter)
	}
	if p.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("expected base 500ms, got %v", p.Retry.BaseDelay)
	}
	if p.Update.Timeout != 10*time.Second {
		t.Errorf("expected mutation timeout 10s, got %v", p.Update.Timeout)
	}
}

func TestPresets_BackgroundDefaults(t *testing.T) {
	p := New("test.bg", BackgroundDefaults())

	if p.Retry.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", p.Retry.MaxAttempts)
	}
	if !p.Update.AutoRetry {
		t.Error("expected auto retry enabled")
	}
}

func TestOptions_CircuitAndUpdate(t *testing.T) {
	p := New("test.knobs",
		CircuitBreaker(2, time.Second),
		MaxRetries(0),
		AutoRetry(false),
		History(10),
	)

	if !p.Circuit.Enabled || p.Circuit.Threshold != 2 || p.Circuit.Cooldown != time.Second {
		t.Fatalf("unexpected circuit: %+v", p.Circuit)
	}
	if p.Update.MaxRetries != 0 {
		t.Fatalf("expected MaxRetries 0, got %d", p.Update.MaxRetries)
	}
	if p.Update.AutoRetry {
		t.Fatal("expected AutoRetry disabled")
	}
	if !p.Update.KeepHistory || p.Update.MaxHistorySize != 10 {
		t.Fatalf("unexpected history config: %+v", p.Update)
	}

	p = New("test.nobreaker", NoCircuitBreaker())
	if p.Circuit.Enabled {
		t.Fatal("expected breaker disabled")
	}
}
