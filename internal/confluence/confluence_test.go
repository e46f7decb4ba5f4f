package confluence

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chriskillpack/imgsum/fetcher"
)

func TestResolve(t *testing.T) {
	c, err := New("https://example.atlassian.net/wiki", "", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path     string
		absolute bool
		expected string
	}{
		{"https://cdn.example.com/a.png", true, "https://cdn.example.com/a.png"},
		{"/wiki/download/attachments/1/a.png?api=v2", true, "https://example.atlassian.net/wiki/download/attachments/1/a.png?api=v2"},
		{"download/attachments/1/b.png", true, "https://example.atlassian.net/wiki/download/attachments/1/b.png"},
		{"content/42?expand=body.view", false, "https://example.atlassian.net/wiki/rest/api/content/42?expand=body.view"},
	}
	for _, tc := range tests {
		u, err := c.Resolve(tc.path, tc.absolute)
		if err != nil {
			t.Errorf("Resolve(%q) unexpected error %s", tc.path, err)
			continue
		}
		if actual := u.String(); actual != tc.expected {
			t.Errorf("Resolve(%q, %t) expected %q, got %q", tc.path, tc.absolute, tc.expected, actual)
		}
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := New("/wiki", "", "", nil); err == nil {
		t.Error("Expected an error for a relative base url")
	}
}

func TestRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		user, pass, ok := req.BasicAuth()
		if !ok || user != "bot@example.com" || pass != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch req.URL.Path {
		case "/wiki/download/a.png":
			w.Header().Set("Content-Type", "image/png")
			io.WriteString(w, "png-bytes")
		case "/wiki/rest/api/content/7":
			if req.URL.Query().Get("expand") != "body.view" {
				t.Errorf("Missing expand parameter: %q", req.URL.RawQuery)
			}
			io.WriteString(w, `{"id": "7", "title": "Architecture", "body": {"view": {"value": "<img src=\"/wiki/download/a.png\">"}}}`)
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/wiki", "bot@example.com", "token", srv.Client())
	if err != nil {
		t.Fatal(err)
	}

	resp, err := c.Request(t.Context(), "/wiki/download/a.png", true)
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}
	if string(resp.Content) != "png-bytes" || resp.ContentType != "image/png" {
		t.Errorf("Unexpected response %+v", resp)
	}

	page, err := c.GetPage(t.Context(), "7")
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}
	if page.ID != "7" || page.Title != "Architecture" || page.Body.View.Value != `<img src="/wiki/download/a.png">` {
		t.Errorf("Unexpected page %+v", page)
	}

	_, err = c.Request(t.Context(), "/wiki/download/missing.png", true)
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected a 404 StatusError, got %v", err)
	}
}

func TestRequestTLSFailure(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, "unreachable")
	}))
	defer srv.Close()

	// http.DefaultClient does not trust the test server's certificate
	c, err := New(srv.URL, "", "", &http.Client{})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Request(t.Context(), "/a.png", true)
	if err == nil {
		t.Fatal("Expected a certificate error")
	}
	if !fetcher.IsTLS(err) {
		t.Errorf("Expected a TLS error, got %v", err)
	}
}

func TestRequestWithoutSite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if _, _, ok := req.BasicAuth(); ok {
			t.Error("Unexpected credentials without a configured site")
		}
		io.WriteString(w, "png-bytes")
	}))
	defer srv.Close()

	c, err := New("", "bot@example.com", "token", nil)
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}

	resp, err := c.Request(t.Context(), srv.URL+"/a.png", true)
	if err != nil {
		t.Fatalf("Unexpected error %s", err)
	}
	if string(resp.Content) != "png-bytes" {
		t.Errorf("Unexpected response %+v", resp)
	}

	if _, err := c.Request(t.Context(), "/wiki/download/a.png", true); !errors.Is(err, ErrNoSite) {
		t.Errorf("Expected ErrNoSite for a site relative path, got %v", err)
	}
	if _, err := c.GetPage(t.Context(), "7"); !errors.Is(err, ErrNoSite) {
		t.Errorf("Expected ErrNoSite fetching a page, got %v", err)
	}
}
