package errs

import (
	"fmt"
	"testing"
)

func TestFatal(t *testing.T) {
	tests := []struct {
		kind  ErrorKind
		fatal bool
	}{
		{KindToolTimeout, false},
		{KindToolTransport, false},
		{KindToolUpstream, false},
		{KindValidation, true},
		{KindPlannerFailed, true},
		{KindCompileFailed, true},
		{KindRunTimeout, true},
		{KindCancelled, true},
		{KindInternal, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := New(tt.kind, fmt.Errorf("boom"))
			if got := e.Fatal(); got != tt.fatal {
				t.Errorf("Fatal() for kind %s = %v, want %v", tt.kind, got, tt.fatal)
			}
		})
	}
}

func TestMessageFallsBackToInternal(t *testing.T) {
	e := New(ErrorKind("not_a_real_kind"), fmt.Errorf("boom"))
	if e.Message() != sanitizedMessages[KindInternal] {
		t.Errorf("Message() = %q, want internal fallback %q", e.Message(), sanitizedMessages[KindInternal])
	}
}

func TestMessageNeverLeaksCause(t *testing.T) {
	cause := fmt.Errorf("database password is hunter2")
	e := New(KindInternal, cause)
	if e.Message() == cause.Error() {
		t.Error("Message() must return the sanitized string, not the raw cause")
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", New(KindToolTimeout, fmt.Errorf("deadline exceeded")))
	re, ok := As(wrapped)
	if !ok {
		t.Fatal("As() should unwrap a wrapped *RunError")
	}
	if re.Kind != KindToolTimeout {
		t.Errorf("As() returned kind %s, want %s", re.Kind, KindToolTimeout)
	}

	_, ok = As(fmt.Errorf("plain error"))
	if ok {
		t.Error("As() should report false for a non-RunError")
	}
}

func TestWrapPreservesContext(t *testing.T) {
	e := Wrap(KindInternal, fmt.Errorf("underlying"), "loading config")
	if e.Context != "loading config" {
		t.Errorf("Context = %q, want %q", e.Context, "loading config")
	}
	if e.Cause().Error() != "underlying" {
		t.Errorf("Cause() = %q, want %q", e.Cause().Error(), "underlying")
	}
}
