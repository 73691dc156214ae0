package models

import (
	"testing"
	"time"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in     string
		want   Decision
		wantOK bool
	}{
		{"approve", DecisionApprove, true},
		{" Modify ", DecisionModify, true},
		{"REJECT", DecisionReject, true},
		{"skip", DecisionSkip, true},
		{"", DecisionNone, false},
		{"maybe", DecisionNone, false},
	}
	for _, tt := range tests {
		got, ok := ParseDecision(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseDecision(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestReviewItemLifecycle(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	item := &ReviewItem{
		ID:        "r1",
		ExpiresAt: now.Add(time.Hour),
		Options:   []ReviewOption{{ID: OptionApprove}, {ID: "alternative-1", Params: Params{"height": 5}}, {ID: OptionReject}},
	}

	if item.Reviewed() || item.Expired(now) || !item.Pending(now) {
		t.Error("a fresh item is pending")
	}
	later := now.Add(2 * time.Hour)
	if !item.Expired(later) || item.Pending(later) {
		t.Error("an unreviewed item past its expiry is expired")
	}

	item.Decision = DecisionApprove
	if !item.Reviewed() || item.Expired(later) || item.Pending(now) {
		t.Error("a reviewed item never expires and is no longer pending")
	}

	if opt, ok := item.Option("alternative-1"); !ok || opt.Params["height"] != 5 {
		t.Errorf("Option(alternative-1) = %+v, %v", opt, ok)
	}
	if _, ok := item.Option("alternative-2"); ok {
		t.Error("unknown option found")
	}

	noExpiry := &ReviewItem{}
	if noExpiry.Expired(later.Add(1000 * time.Hour)) {
		t.Error("a zero expiry never expires")
	}
}

func TestLearnedPatternMatches(t *testing.T) {
	tests := []struct {
		name    string
		pattern LearnedPattern
		method  string
		params  Params
		want    bool
	}{
		{name: "method only", pattern: LearnedPattern{Method: "create_wall"}, method: "create_wall", want: true},
		{name: "case insensitive", pattern: LearnedPattern{Method: "Create_Wall"}, method: "create_wall", want: true},
		{name: "other method", pattern: LearnedPattern{Method: "create_door"}, method: "create_wall"},
		{name: "all methods", pattern: LearnedPattern{Method: AllMethods}, method: "anything", want: true},
		{
			name:    "condition matches formatted value",
			pattern: LearnedPattern{Method: "create_wall", Conditions: map[string]string{"height": "3", "structural": "true"}},
			method:  "create_wall",
			params:  Params{"height": 3.0, "structural": true},
			want:    true,
		},
		{
			name:    "condition mismatch",
			pattern: LearnedPattern{Method: "create_wall", Conditions: map[string]string{"height": "3"}},
			method:  "create_wall",
			params:  Params{"height": 4.0},
		},
		{
			name:    "condition key absent",
			pattern: LearnedPattern{Method: "create_wall", Conditions: map[string]string{"height": "3"}},
			method:  "create_wall",
			params:  Params{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pattern.Matches(tt.method, tt.params); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLearnedPatternKey(t *testing.T) {
	a := LearnedPattern{Method: "Create_Wall", Conditions: map[string]string{"b": "2", "a": "1"}}
	b := LearnedPattern{Method: "create_wall", Conditions: map[string]string{"a": "1", "b": "2"}}
	if a.Key() != b.Key() {
		t.Errorf("equivalent patterns have different keys: %q vs %q", a.Key(), b.Key())
	}
	if got := a.Key(); got != "create_wall|a=1|b=2" {
		t.Errorf("Key() = %q", got)
	}

	session := LearnedPattern{Method: "create_wall", Source: PatternSession}
	rate := LearnedPattern{Method: "create_wall", Source: PatternErrorRate}
	if session.Key() == rate.Key() {
		t.Errorf("error-rate and session patterns share key %q", rate.Key())
	}
	if got := rate.Key(); got != "error_rate:create_wall" {
		t.Errorf("error-rate Key() = %q", got)
	}
}
