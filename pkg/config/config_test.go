package config

import (
	"os"
	"testing"
)

func TestGetParamsFromEnv(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "sk-test-123")
	os.Setenv("PG_URI", "postgres://localhost/test")
	defer os.Unsetenv("ANTHROPIC_API_KEY")
	defer os.Unsetenv("PG_URI")

	params := GetParamsFromEnv(paramLookup)
	if params["ANTHROPIC_API_KEY"] != "sk-test-123" {
		t.Errorf("ANTHROPIC_API_KEY = %q, want %q", params["ANTHROPIC_API_KEY"], "sk-test-123")
	}
	if params["PG_URI"] != "postgres://localhost/test" {
		t.Errorf("PG_URI = %q, want %q", params["PG_URI"], "postgres://localhost/test")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		name string
		vals []string
		want string
	}{
		{name: "first wins", vals: []string{"a", "b"}, want: "a"},
		{name: "skips leading empties", vals: []string{"", "", "c"}, want: "c"},
		{name: "all empty", vals: []string{"", ""}, want: ""},
		{name: "no args", vals: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstNonEmpty(tt.vals...); got != tt.want {
				t.Errorf("firstNonEmpty(%v) = %q, want %q", tt.vals, got, tt.want)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	d := defaults()
	if d.CapabilityRatePerMinute != 120 {
		t.Errorf("CapabilityRatePerMinute = %d, want 120", d.CapabilityRatePerMinute)
	}
	if d.MaxConcurrentRuns != 50 {
		t.Errorf("MaxConcurrentRuns = %d, want 50", d.MaxConcurrentRuns)
	}
	if d.RunTimeout <= 0 {
		t.Error("RunTimeout must be positive")
	}
}

func TestChunkSlice(t *testing.T) {
	names := make([]*string, 25)
	for i := range names {
		s := "x"
		names[i] = &s
	}
	chunks := chunkSlice(names, 10)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != 10 || len(chunks[1]) != 10 || len(chunks[2]) != 5 {
		t.Errorf("unexpected chunk sizes: %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestGetPanicsBeforeInit(t *testing.T) {
	saved := cfg
	cfg = nil
	defer func() { cfg = saved }()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Get() should panic when config is not initialized")
		}
	}()
	Get()
}
