package format

import (
	"testing"
	"time"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int64) *int64     { return &v }

func TestParseDifficulty(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOK bool
	}{
		{"float", 1234.5, 1234.5, true},
		{"int", 42, 42, true},
		{"numeric string", " 987 ", 987, true},
		{"kilo suffix", "12.5K", 12500, true},
		{"lower case giga", "3.7g", 3.7e9, true},
		{"space before suffix", "2 M", 2e6, true},
		{"peta", "1P", 1e15, true},
		{"garbage", "abc", 0, false},
		{"unknown suffix", "5X", 0, false},
		{"empty", "", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDifficulty(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDifficultyRoundTrip(t *testing.T) {
	v, ok := ParseDifficulty("12.5K")
	if !ok || v != 12500 {
		t.Fatalf("ParseDifficulty(12.5K) = %v, %v", v, ok)
	}
	if got := DifficultyAdaptive(v); got != "12.5K" {
		t.Errorf("DifficultyAdaptive(12500) = %q, want 12.5K", got)
	}
	if got := Difficulty(float64(1500000000)); got != "1.50G" {
		t.Errorf("Difficulty(1.5e9) = %q, want 1.50G", got)
	}
}

func TestDifficulty(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{float64(0), "0.00"},
		{float64(-5), "-5.00"},
		{float64(999), "999.00"},
		{float64(4290000000), "4.29G"},
		{float64(2.5e12), "2.50T"},
		{"12.5K", "12.5K"},
		{nil, "-"},
	}
	for _, tt := range tests {
		if got := Difficulty(tt.in); got != tt.want {
			t.Errorf("Difficulty(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDifficultyAdaptive(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{-2500, "-2.50K"},
		{999.6, "1000"},
		{8.59e9, "8.59G"},
		{345e6, "345M"},
		{1.2e15, "1.20P"},
	}
	for _, tt := range tests {
		if got := DifficultyAdaptive(tt.in); got != tt.want {
			t.Errorf("DifficultyAdaptive(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIntShort(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{950, "950"},
		{34000, "34k"},
		{1200000, "1.2M"},
		{2000000, "2M"},
		{3000000000, "3G"},
		{-45000, "-45k"},
	}
	for _, tt := range tests {
		if got := IntShort(ptrI(tt.in)); got != tt.want {
			t.Errorf("IntShort(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := IntShort(nil); got != Missing {
		t.Errorf("IntShort(nil) = %q", got)
	}
}

func TestSmallFormatters(t *testing.T) {
	if got := HashrateTHs(ptrF(1.234)); got != "1.23 TH/s" {
		t.Errorf("HashrateTHs = %q", got)
	}
	if got := HashrateTHs(nil); got != Missing {
		t.Errorf("HashrateTHs(nil) = %q", got)
	}
	if got := TempPair(ptrF(61.4), ptrF(55.6)); got != "61° / 56°" {
		t.Errorf("TempPair = %q", got)
	}
	if got := TempPair(nil, ptrF(50)); got != "- / -" {
		t.Errorf("TempPair(nil) = %q", got)
	}
	if got := Int(ptrI(1234567)); got != "1,234,567" {
		t.Errorf("Int = %q", got)
	}
}

func TestFiat(t *testing.T) {
	tests := []struct {
		v    float64
		cur  string
		want string
	}{
		{1234.5, "gbp", "£1,234.50"},
		{0.5, "usd", "$0.5000"},
		{0.001234, "gbp", "£0.001234"},
		{2, "chf", "CHF 2.00"},
	}
	for _, tt := range tests {
		if got := Fiat(ptrF(tt.v), tt.cur); got != tt.want {
			t.Errorf("Fiat(%v, %s) = %q, want %q", tt.v, tt.cur, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(3*24*time.Hour + 4*time.Hour + 5*time.Minute); got != "3 days 4 hours" {
		t.Errorf("Duration = %q", got)
	}
	if got := Duration(-time.Second); got != "0 seconds" {
		t.Errorf("Duration(negative) = %q", got)
	}
}
