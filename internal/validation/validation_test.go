package validation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsValidDayKey(t *testing.T) {
	tests := []struct {
		name   string
		dayKey string
		valid  bool
	}{
		{name: "regular date", dayKey: "2024-03-15", valid: true},
		{name: "leap day", dayKey: "2024-02-29", valid: true},
		{name: "not a leap year", dayKey: "2023-02-29", valid: false},
		{name: "short month", dayKey: "2024-3-15", valid: false},
		{name: "garbage", dayKey: "yesterday", valid: false},
		{name: "empty string", dayKey: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidDayKey(tt.dayKey)
			if got != tt.valid {
				t.Fatalf("IsValidDayKey(%q) = %v, want %v", tt.dayKey, got, tt.valid)
			}
		})
	}
}

func TestIsValidClock(t *testing.T) {
	tests := []struct {
		name  string
		clock string
		valid bool
	}{
		{name: "midnight", clock: "00:00", valid: true},
		{name: "last minute", clock: "23:59", valid: true},
		{name: "hour overflow", clock: "24:00", valid: false},
		{name: "minute overflow", clock: "12:60", valid: false},
		{name: "missing colon", clock: "1200", valid: false},
		{name: "with seconds", clock: "12:00:00", valid: false},
		{name: "letters", clock: "1a:00", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidClock(tt.clock)
			if got != tt.valid {
				t.Fatalf("IsValidClock(%q) = %v, want %v", tt.clock, got, tt.valid)
			}
		})
	}
}

func TestIsValidAmount(t *testing.T) {
	if !IsValidAmount(decimal.RequireFromString("120.50")) {
		t.Fatalf("120.50 must be valid")
	}
	if !IsValidAmount(decimal.Zero) {
		t.Fatalf("zero must be valid")
	}
	if IsValidAmount(decimal.RequireFromString("-1")) {
		t.Fatalf("negative amount must be invalid")
	}
	if IsValidAmount(decimal.RequireFromString("1.005")) {
		t.Fatalf("fractional cents must be invalid")
	}
}
