package logger

import "testing"

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   Level
		wantOK bool
	}{
		{"trace", LevelTrace, true},
		{" Debug ", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"warn", LevelWarn, true},
		{"error", LevelError, true},
		{"", LevelInfo, false},
		{"verbose", LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestLevelEnables(t *testing.T) {
	if !LevelInfo.Enables(LevelWarn) || !LevelInfo.Enables(LevelInfo) {
		t.Error("info should emit info and warn")
	}
	if LevelInfo.Enables(LevelDebug) {
		t.Error("info should not emit debug")
	}
	if got := Level(42).String(); got != "INFO" {
		t.Errorf("out-of-range level = %q, want INFO", got)
	}
	if got := LevelWarn.tag(true); got != "\x1b[33mWARN\x1b[0m" {
		t.Errorf("colored tag = %q", got)
	}
}
