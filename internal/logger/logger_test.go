package logger

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		level   string
		debugOn bool
		warnOn  bool
	}{
		{"debug", true, true},
		{"warn", false, true},
		{"bogus", false, true},
		{"", false, true},
	}
	for _, tc := range tests {
		l, err := New(tc.level)
		if err != nil {
			t.Fatalf("New(%q) unexpected error %s", tc.level, err)
		}
		if actual := l.Core().Enabled(-1); actual != tc.debugOn {
			t.Errorf("New(%q) debug enabled = %t", tc.level, actual)
		}
		if actual := l.Core().Enabled(1); actual != tc.warnOn {
			t.Errorf("New(%q) warn enabled = %t", tc.level, actual)
		}
	}
}
