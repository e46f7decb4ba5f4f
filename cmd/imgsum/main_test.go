package main

import (
	"testing"

	"github.com/chriskillpack/imgsum/internal/config"
	"go.uber.org/zap/zaptest"
)

// setFlag overrides a command line flag for the duration of the test.
func setFlag[T any](t *testing.T, p *T, v T) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CONFLUENCE_URL", "")
	t.Setenv("LLAMA_SERVER", "")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.DBPath = ":memory:"
	return cfg
}

func TestNewAppWithoutConfluence(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		llama   string
		serving bool
		wantErr bool
	}{
		{"file", "page.html", "http://127.0.0.1:8080", false, false},
		{"serve without backend", "", "", true, false},
		{"serve with backend", "", "http://127.0.0.1:8080", true, false},
		{"pages", "", "http://127.0.0.1:8080", false, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setFlag(t, filePath, tc.file)
			setFlag(t, llamaSrv, tc.llama)

			a, err := newApp(t.Context(), testConfig(t), zaptest.NewLogger(t), tc.serving)
			if tc.wantErr {
				if err == nil {
					a.db.Close()
					t.Fatal("Expected an error without CONFLUENCE_URL")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error %s", err)
			}
			defer a.db.Close()

			if tc.serving {
				if a.pipeline != nil || a.source != nil {
					t.Error("Serving should not build a pipeline")
				}
				if (a.describr != nil) != (tc.llama != "") {
					t.Errorf("Unexpected describer %v", a.describr)
				}
				return
			}
			if a.pipeline == nil || a.source == nil {
				t.Error("Expected a pipeline for local files")
			}
		})
	}
}
