package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chriskillpack/imgsum"
	"github.com/chriskillpack/imgsum/describer"
	"github.com/chriskillpack/imgsum/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
)

type fakeDescriber struct {
	healthy bool
}

func (f *fakeDescriber) Name() string  { return "fake" }
func (f *fakeDescriber) Model() string { return "fake-1" }
func (f *fakeDescriber) Describe(ctx context.Context, req describer.Request) (string, error) {
	return "", nil
}
func (f *fakeDescriber) IsHealthy(ctx context.Context) bool { return f.healthy }

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

func newTestServer(t *testing.T, d describer.Describer) *httptest.Server {
	t.Helper()

	db, err := imgsum.NewDB(t.Context(), ":memory:")
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(db.Close)

	summary := "a diagram"
	res := &imgsum.PageResult{
		PageID: "42",
		Images: []imgsum.PageImage{
			{URL: "https://x/a.png", Title: "42_image_0", Base64Encoded: base64.StdEncoding.EncodeToString(pngHeader), Summary: &summary},
			{URL: "https://x/b.png", Title: "42_image_1", Base64Encoded: base64.StdEncoding.EncodeToString(pngHeader)},
		},
	}
	if _, err := db.SavePageResult(t.Context(), res, "fake", time.Now(), 10); err != nil {
		t.Fatalf("SavePageResult: %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics.New(reg).ImagesLocated.Add(2)

	srv := NewServer(d, db, reg, "", zaptest.NewLogger(t))
	ts := httptest.NewServer(srv.hs.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (int, http.Header, []byte) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, resp.Header, body
}

func TestServePageImages(t *testing.T) {
	ts := newTestServer(t, &fakeDescriber{healthy: true})

	code, hdr, body := get(t, ts.URL+"/pages/42/images")
	if code != http.StatusOK {
		t.Fatalf("got status %d, want 200", code)
	}
	if ct := hdr.Get("Content-Type"); ct != "application/json" {
		t.Errorf("got content type %q", ct)
	}

	var got struct {
		PageID string `json:"page_id"`
		Images []struct {
			Title     string  `json:"title"`
			Summary   *string `json:"summary"`
			Describer string  `json:"describer"`
		} `json:"images"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.PageID != "42" || len(got.Images) != 2 {
		t.Fatalf("unexpected response %s", body)
	}
	if got.Images[0].Title != "42_image_0" || got.Images[0].Summary == nil || got.Images[0].Describer != "fake" {
		t.Errorf("unexpected first image %+v", got.Images[0])
	}
	if got.Images[1].Summary != nil {
		t.Errorf("expected no summary for second image")
	}

	// Unknown pages have no images
	code, _, body = get(t, ts.URL+"/pages/99/images")
	if code != http.StatusOK || !bytes.Contains(body, []byte(`"images":[]`)) {
		t.Errorf("got %d %s for unknown page", code, body)
	}
}

func TestServeImage(t *testing.T) {
	ts := newTestServer(t, &fakeDescriber{healthy: true})

	code, hdr, body := get(t, ts.URL+"/images/42_image_1")
	if code != http.StatusOK {
		t.Fatalf("got status %d, want 200", code)
	}
	if ct := hdr.Get("Content-Type"); ct != "image/png" {
		t.Errorf("got content type %q, want image/png", ct)
	}
	if !bytes.Equal(body, pngHeader) {
		t.Errorf("got body %q", body)
	}

	if code, _, _ := get(t, ts.URL+"/images/42_image_7"); code != http.StatusNotFound {
		t.Errorf("got status %d for missing image, want 404", code)
	}
}

func TestServeHealth(t *testing.T) {
	tests := []struct {
		name string
		d    describer.Describer
		code int
	}{
		{"healthy describer", &fakeDescriber{healthy: true}, http.StatusOK},
		{"unhealthy describer", &fakeDescriber{healthy: false}, http.StatusServiceUnavailable},
		{"no describer", nil, http.StatusOK},
	}
	for _, tc := range tests {
		if code, _, _ := get(t, newTestServer(t, tc.d).URL+"/healthz"); code != tc.code {
			t.Errorf("%s: got status %d, want %d", tc.name, code, tc.code)
		}
	}
}

func TestServeMetrics(t *testing.T) {
	code, _, body := get(t, newTestServer(t, &fakeDescriber{healthy: true}).URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("got status %d", code)
	}
	if !bytes.Contains(body, []byte("imgsum_images_located_total 2")) {
		t.Errorf("metrics missing located count:\n%s", body)
	}
}
