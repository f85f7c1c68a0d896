package engine

import "testing"

func TestCommandToken(t *testing.T) {
	tests := []struct {
		input string
		want  string
		found bool
	}{
		{"/journal breakfast was eggs", "/journal", true},
		{"/health", "/health", true},
		{"  /workout bench day", "/workout", true},
		{"no command here", "", false},
		{"mid /journal text", "", false},
		{"/", "", false},
	}
	for _, tt := range tests {
		got, found := commandToken(tt.input)
		if got != tt.want || found != tt.found {
			t.Errorf("commandToken(%q) = %q, %v; want %q, %v",
				tt.input, got, found, tt.want, tt.found)
		}
	}
}

func TestIsLoggingIntent(t *testing.T) {
	logging := []string{
		"yesterday I had a long run at the park",
		"I ate oatmeal for breakfast",
		"log my workout: 5x5 squats",
		"I slept terribly last night",
	}
	for _, s := range logging {
		if !IsLoggingIntent(s) {
			t.Errorf("expected logging intent for %q", s)
		}
	}

	queries := []string{
		"what did I eat yesterday?",
		"did I run this week",
		"how many workouts this month",
		"show me my sleep entries",
	}
	for _, s := range queries {
		if IsLoggingIntent(s) {
			t.Errorf("expected query, not logging, for %q", s)
		}
	}
}

func TestHasDomainIntent(t *testing.T) {
	if !HasDomainIntent("yesterday I had a long run at the park") {
		t.Error("run mention should bind to the journal domain")
	}
	if !HasDomainIntent("what did I eat last week?") {
		t.Error("query over meals should bind to the journal domain")
	}
	if HasDomainIntent("tell me about the weather in Berlin") {
		t.Error("unrelated chat should not bind to the journal domain")
	}
}
