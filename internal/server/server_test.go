package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sundayezeilo/upae/internal/config"
	"github.com/sundayezeilo/upae/internal/keystore"
	"github.com/sundayezeilo/upae/internal/shortener"
	"github.com/sundayezeilo/upae/internal/upload"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            "0",
			BaseURL:         "http://short.test",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			IdleTimeout:     5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		App:           config.AppConfig{Environment: "test", LogLevel: "debug"},
		Observability: config.ObservabilityConfig{ServiceName: "upae", ServiceVersion: "test"},
	}
}

func newTestServer(t *testing.T, ready func(context.Context) error, providerURL string) *httptest.Server {
	t.Helper()
	logger := discardLogger()
	cfg := testConfig()

	svc := shortener.NewService(keystore.NewMemoryStore(), &shortener.ServiceConfig{Logger: logger})
	dispatcher := upload.NewDispatcher(upload.DispatcherConfig{
		Providers: []upload.Provider{upload.NewZeroX0(providerURL)},
		Logger:    logger,
	})

	srv := New(cfg, logger, Handlers{
		Shortener: shortener.NewHandler(shortener.HandlerConfig{Service: svc, Logger: logger, BaseURL: cfg.Server.BaseURL}),
		Upload:    upload.NewHandler(upload.HandlerConfig{Uploader: dispatcher, Logger: logger}),
		Ready:     ready,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, nil, "http://unused.invalid")

	resp, err := http.Get(ts.URL + "/x/health")
	if err != nil {
		t.Fatalf("GET /x/health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "upae" {
		t.Errorf("body = %v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		ready      func(context.Context) error
		wantStatus int
	}{
		{"no check", nil, http.StatusOK},
		{"store up", func(context.Context) error { return nil }, http.StatusOK},
		{"store down", func(context.Context) error { return errors.New("dial tcp: refused") }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.ready, "http://unused.invalid")

			resp, err := http.Get(ts.URL + "/x/ready")
			if err != nil {
				t.Fatalf("GET /x/ready: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestServer_ShortenAndResolve(t *testing.T) {
	ts := newTestServer(t, nil, "http://unused.invalid")
	client := noRedirectClient()

	resp, err := client.Post(ts.URL+"/api/shorten", "application/json",
		strings.NewReader(`{"longUrl":"https://example.com/a?b=c"}`))
	if err != nil {
		t.Fatalf("POST /api/shorten: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var created shortener.ShortenResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ShortURL != "http://short.test/s/"+created.Slug {
		t.Errorf("shortUrl = %q for slug %q", created.ShortURL, created.Slug)
	}

	tests := []struct {
		path         string
		wantStatus   int
		wantLocation string
	}{
		{"/s/" + created.Slug, http.StatusFound, "https://example.com/a?b=c"},
		{"/s/", http.StatusFound, "/"},
		{"/s", http.StatusFound, "/"},
		{"/s/missing-slug", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := client.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := resp.Header.Get("Location"); got != tt.wantLocation {
				t.Errorf("Location = %q, want %q", got, tt.wantLocation)
			}
		})
	}
}

func TestServer_Upload(t *testing.T) {
	host := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "https://0x0.st/Zz.png\n")
	}))
	t.Cleanup(host.Close)
	ts := newTestServer(t, nil, host.URL)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	body := `{"image":"` + base64.StdEncoding.EncodeToString(png) + `"}`

	resp, err := http.Post(ts.URL+"/api/upload", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got upload.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Image.URL != "https://0x0.st/Zz.png" {
		t.Errorf("image.url = %q", got.Image.URL)
	}

	getResp, err := http.Get(ts.URL + "/api/upload")
	if err != nil {
		t.Fatalf("GET /api/upload: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", getResp.StatusCode)
	}
}

func TestServer_AdminMetrics(t *testing.T) {
	srv := New(testConfig(), discardLogger(), Handlers{})
	public := httptest.NewServer(srv.Handler())
	t.Cleanup(public.Close)
	admin := httptest.NewServer(srv.AdminHandler())
	t.Cleanup(admin.Close)

	// One request so the HTTP collectors have a sample.
	resp, err := http.Get(public.URL + "/x/health")
	if err != nil {
		t.Fatalf("GET /x/health: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(admin.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(raw), `upae_http_requests_total{method="GET",route="/x/health",status="200"}`) {
		t.Errorf("metrics output missing health request sample")
	}
}

func TestServer_StartStopsOnContextCancel(t *testing.T) {
	srv := New(testConfig(), discardLogger(), Handlers{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
