package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestWorklogRecord_Hours(t *testing.T) {
	w := WorklogRecord{DurationSeconds: 5400}
	if got := w.Hours(); got != 1.5 {
		t.Errorf("Hours() = %v, want 1.5", got)
	}
}

func TestWorklogRecord_HoursDecimal(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    string
	}{
		{"90 minutes", 5400, "1.5"},
		{"full day", 28800, "8"},
		// 1000s does not divide evenly into hours; the decimal keeps the
		// exact quotient instead of a float approximation.
		{"awkward duration", 1000, "0.2777777777777778"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WorklogRecord{DurationSeconds: tt.seconds}
			want, err := decimal.NewFromString(tt.want)
			if err != nil {
				t.Fatalf("bad want: %v", err)
			}
			if got := w.HoursDecimal(); !got.Equal(want) {
				t.Errorf("HoursDecimal() = %s, want %s", got, want)
			}
		})
	}
}

func TestWorklogRecord_TargetPrefix(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"PROJ-42", "PROJ"},
		{"PROJ-42-SUB", "PROJ"},
		{"NODASH", "NODASH"},
		{"", ""},
	}

	for _, tt := range tests {
		w := WorklogRecord{TargetKey: tt.key}
		if got := w.TargetPrefix(); got != tt.want {
			t.Errorf("TargetPrefix(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
