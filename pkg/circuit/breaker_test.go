package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	strataErrors "github.com/strataforge/strata/pkg/errors"
)

func TestNew_DefaultsToClosed(t *testing.T) {
	b := New(nil)

	if b.GetState() != StateClosed {
		t.Errorf("initial state = %s, want closed", b.GetState())
	}

	if b.config.MaxFailures != DefaultConfig().MaxFailures {
		t.Error("nil config should fall back to defaults")
	}
}

func TestExecute_Success(t *testing.T) {
	b := New(nil)

	err := b.Execute(context.Background(), func() error { return nil })
	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}

	if b.GetState() != StateClosed {
		t.Errorf("state after success = %s, want closed", b.GetState())
	}
}

func TestExecute_OpensAfterMaxFailures(t *testing.T) {
	b := New(&Config{
		MaxFailures:     2,
		SuccessRequired: 1,
		Timeout:         time.Minute,
		ResetTimeout:    time.Minute,
	})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		if err := b.Execute(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("Execute() = %v, want boom", err)
		}
	}

	if b.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", b.GetState())
	}

	// Requests are rejected without running the function
	ran := false
	err := b.Execute(context.Background(), func() error {
		ran = true
		return nil
	})

	if ran {
		t.Error("function must not run while the breaker is open")
	}
	if !strataErrors.IsType(err, strataErrors.ErrorTypeInternal) {
		t.Errorf("open breaker error = %v, want internal service error", err)
	}
}

func TestExecute_HalfOpenRecovery(t *testing.T) {
	b := New(&Config{
		MaxFailures:     1,
		SuccessRequired: 2,
		Timeout:         time.Millisecond,
		ResetTimeout:    time.Minute,
	})

	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })
	if b.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", b.GetState())
	}

	time.Sleep(5 * time.Millisecond)

	// Two successful probes close the breaker again
	for i := 0; i < 2; i++ {
		if err := b.Execute(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("probe failed: %v", err)
		}
	}

	if b.GetState() != StateClosed {
		t.Errorf("state after recovery = %s, want closed", b.GetState())
	}
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	b := New(&Config{
		MaxFailures:     1,
		SuccessRequired: 1,
		Timeout:         time.Millisecond,
		ResetTimeout:    time.Minute,
	})

	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })
	time.Sleep(5 * time.Millisecond)

	_ = b.Execute(context.Background(), func() error { return errors.New("still broken") })

	if b.GetState() != StateOpen {
		t.Errorf("state = %s, want open after half-open failure", b.GetState())
	}
}

func TestExecuteWithResult(t *testing.T) {
	b := New(nil)

	got, err := ExecuteWithResult(context.Background(), b, func() (string, error) {
		return "difficulty", nil
	})

	if err != nil {
		t.Fatalf("ExecuteWithResult() error = %v", err)
	}
	if got != "difficulty" {
		t.Errorf("ExecuteWithResult() = %q, want %q", got, "difficulty")
	}
}

func TestReset(t *testing.T) {
	b := New(&Config{MaxFailures: 1, SuccessRequired: 1, Timeout: time.Minute, ResetTimeout: time.Minute})

	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })
	if b.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", b.GetState())
	}

	b.Reset()

	if b.GetState() != StateClosed {
		t.Errorf("state after Reset() = %s, want closed", b.GetState())
	}

	stats := b.GetStats()
	if stats.Failures != 0 || stats.Successes != 0 {
		t.Errorf("Reset() should zero counters, got %+v", stats)
	}
}
