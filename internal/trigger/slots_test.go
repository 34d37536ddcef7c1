package trigger

import (
	"testing"
	"time"
)

func TestNormalizeVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{name: "canonical", raw: "2026-08-28 09:30:00", want: "2026-08-28 09:30:00", ok: true},
		{name: "iso seconds", raw: "2026-08-28T09:30:00", want: "2026-08-28 09:30:00", ok: true},
		{name: "datetime-local", raw: "2026-08-28T09:30", want: "2026-08-28 09:30:00", ok: true},
		{name: "space no seconds", raw: "2026-08-28 09:30", want: "2026-08-28 09:30:00", ok: true},
		{name: "padded", raw: "  2026-08-28 09:30:00  ", want: "2026-08-28 09:30:00", ok: true},
		{name: "garbage", raw: "tomorrow at nine", want: "tomorrow at nine", ok: false},
		{name: "date only", raw: "2026-08-28", want: "2026-08-28", ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw, time.UTC)
			if ok != tt.ok {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeEmpty(t *testing.T) {
	t.Parallel()
	if got, ok := Normalize("   ", time.UTC); ok || got != "" {
		t.Fatalf("Normalize(blank) = %q, %v", got, ok)
	}
}

func TestParseFireTime(t *testing.T) {
	t.Parallel()
	got, ok := ParseFireTime("2026-08-28 09:30:00", time.UTC)
	if !ok {
		t.Fatal("canonical value did not parse")
	}
	want := time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("ParseFireTime = %v, want %v", got, want)
	}

	if _, ok := ParseFireTime("soon", time.UTC); ok {
		t.Fatal("unparseable value reported ok")
	}
	// Only the canonical layout is valid in storage.
	if _, ok := ParseFireTime("2026-08-28T09:30:00", time.UTC); ok {
		t.Fatal("non-canonical stored value reported ok")
	}
}
