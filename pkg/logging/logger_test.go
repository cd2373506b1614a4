package logging

import "testing"

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus", ""} {
		if logger := New(level); logger == nil || logger.Logger == nil {
			t.Fatalf("New(%q) returned nil logger", level)
		}
	}
}

func TestDefault(t *testing.T) {
	if logger := Default(); logger == nil {
		t.Fatal("Default() returned nil")
	}
}

func TestComponent(t *testing.T) {
	logger := Default().Component("upstream")
	if logger == nil || logger.Logger == nil {
		t.Fatal("Component() returned nil logger")
	}

	var nilLogger *Logger
	if logger := nilLogger.Component("upstream"); logger == nil {
		t.Fatal("Component() on nil receiver returned nil")
	}
}
