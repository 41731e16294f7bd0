package e2e

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sundayezeilo/upae/internal/app"
	"github.com/sundayezeilo/upae/internal/config"
	"github.com/sundayezeilo/upae/internal/shortener"
	"github.com/sundayezeilo/upae/internal/upload"
	"github.com/sundayezeilo/upae/sluggen"
)

const baseURL = "http://localhost:8080"

var pngImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

// testApp is the fully wired application behind an httptest server.
type testApp struct {
	app    *app.App
	server *httptest.Server
	client *http.Client
}

// fakeHosts stand in for the media hosts: freeimage always rejects the
// upload and 0x0 answers with a public URL.
type fakeHosts struct {
	freeimage *httptest.Server
	zerox0    *httptest.Server

	mu      sync.Mutex
	hits    []string
	gotSize int
}

func newFakeHosts(t *testing.T) *fakeHosts {
	t.Helper()
	h := &fakeHosts{}

	h.freeimage = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.record("freeimage", r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"status_code":400,"error":{"message":"rate limited"}}`)
	}))
	t.Cleanup(h.freeimage.Close)

	h.zerox0 = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.record("0x0", r)
		_, _ = io.WriteString(w, "https://0x0.st/e2e.png\n")
	}))
	t.Cleanup(h.zerox0.Close)

	return h
}

func (h *fakeHosts) record(name string, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits = append(h.hits, name)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		return
	}
	for _, field := range []string{"source", "file"} {
		if f, hdr, err := r.FormFile(field); err == nil {
			h.gotSize = int(hdr.Size)
			_ = f.Close()
		}
	}
}

func startPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	poolConfig, err := pgxpool.ParseConfig(connStr)
	require.NoError(t, err)

	return config.DatabaseConfig{
		Host:     poolConfig.ConnConfig.Host,
		Port:     strconv.Itoa(int(poolConfig.ConnConfig.Port)),
		User:     "testuser",
		Password: "testpass",
		Name:     "testdb",
		SSLMode:  "disable",
		MaxConns: 10,
		MinConns: 2,
	}
}

// setupTestApp builds the application against a real Postgres and fake
// media hosts.
func setupTestApp(t *testing.T, hosts *fakeHosts) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:            "8080",
			Host:            "localhost",
			BaseURL:         baseURL,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		KeyStore: config.KeyStoreConfig{Driver: config.DriverPostgres, AutoMigrate: true},
		Database: startPostgres(t),
		Cache: config.CacheConfig{
			Enabled:       true,
			LocalMaxItems: 1000,
			LocalTTL:      time.Minute,
			NegativeTTL:   time.Second,
			RedisTTL:      time.Hour,
			BloomEnabled:  true,
			BloomExpected: 10000,
			BloomFPRate:   0.01,
		},
		Slug: config.SlugConfig{MaxAttempts: 32},
		Upload: config.UploadConfig{
			Providers:         []string{config.ProviderFreeImage, config.ProviderZeroX0},
			FreeImageEndpoint: hosts.freeimage.URL,
			FreeImageAPIKey:   "e2e-key",
			ZeroX0Endpoint:    hosts.zerox0.URL,
			ProviderTimeout:   5 * time.Second,
			MaxBytes:          upload.DefaultMaxBytes,
		},
		App: config.AppConfig{
			Environment: "test",
			LogLevel:    "error",
		},
		Observability: config.ObservabilityConfig{
			ServiceName:    "upae-test",
			ServiceVersion: "test",
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	application, err := app.Build(context.Background(), cfg, logger)
	require.NoError(t, err, "build app")
	t.Cleanup(func() { _ = application.Shutdown() })

	srv := httptest.NewServer(application.Server.Handler())
	t.Cleanup(srv.Close)

	return &testApp{
		app:    application,
		server: srv,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

func (a *testApp) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := a.client.Post(a.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func (a *testApp) shorten(t *testing.T, longURL string) shortener.ShortenResponse {
	t.Helper()
	resp := a.postJSON(t, "/api/shorten", shortener.ShortenRequest{LongURL: longURL})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out shortener.ShortenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (a *testApp) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := a.client.Get(a.server.URL + path)
	require.NoError(t, err)
	return resp
}

func TestHealthAndReadiness(t *testing.T) {
	a := setupTestApp(t, newFakeHosts(t))

	for _, path := range []string{"/x/health", "/x/ready"} {
		resp := a.get(t, path)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestUploadShortenRedirect_E2E(t *testing.T) {
	hosts := newFakeHosts(t)
	a := setupTestApp(t, hosts)

	// Upload falls back from freeimage to 0x0.
	resp := a.postJSON(t, "/api/upload", upload.UploadRequest{
		Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngImage),
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var uploaded upload.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploaded))
	require.Equal(t, "https://0x0.st/e2e.png", uploaded.Image.URL)
	require.Equal(t, []string{"freeimage", "0x0"}, hosts.hits)
	require.Equal(t, len(pngImage), hosts.gotSize)

	// Shorten the public URL.
	created := a.shorten(t, uploaded.Image.URL)
	require.True(t, sluggen.DefaultVocabulary().Contains(created.Slug), "slug %q not a word pair", created.Slug)
	require.Equal(t, baseURL+"/s/"+created.Slug, created.ShortURL)

	// Visit it.
	redirect := a.get(t, "/s/"+created.Slug)
	redirect.Body.Close()
	require.Equal(t, http.StatusFound, redirect.StatusCode)
	require.Equal(t, uploaded.Image.URL, redirect.Header.Get("Location"))
}

func TestResolveLink_E2E(t *testing.T) {
	a := setupTestApp(t, newFakeHosts(t))
	created := a.shorten(t, "https://example.com/redirect-test")

	tests := []struct {
		name             string
		path             string
		expectedStatus   int
		expectedLocation string
	}{
		{"existing slug", "/s/" + created.Slug, http.StatusFound, "https://example.com/redirect-test"},
		{"existing slug again", "/s/" + created.Slug, http.StatusFound, "https://example.com/redirect-test"},
		{"unknown slug", "/s/no-such-slug", http.StatusNotFound, ""},
		{"blank slug", "/s/", http.StatusFound, "/"},
		{"whitespace slug", "/s/%20%20", http.StatusFound, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.get(t, tt.path)
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			require.Equal(t, tt.expectedStatus, resp.StatusCode)
			require.Equal(t, tt.expectedLocation, resp.Header.Get("Location"))
			if tt.expectedStatus == http.StatusNotFound {
				require.Equal(t, shortener.NotFoundBody, string(body))
			}
		})
	}
}

func TestCreateLink_Validation_E2E(t *testing.T) {
	a := setupTestApp(t, newFakeHosts(t))

	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{"missing longUrl", `{}`, http.StatusBadRequest},
		{"blank longUrl", `{"longUrl":"   "}`, http.StatusBadRequest},
		{"malformed json", `{"longUrl":`, http.StatusBadRequest},
		{"unknown field", `{"url":"https://example.com"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := a.client.Post(a.server.URL+"/api/shorten", "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestConcurrentShorten_UniqueSlugs_E2E(t *testing.T) {
	a := setupTestApp(t, newFakeHosts(t))

	const workers = 16
	const perWorker = 5

	var (
		mu    sync.Mutex
		slugs = make(map[string]string)
		wg    sync.WaitGroup
		errs  = make(chan error, workers*perWorker)
	)

	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				dest := fmt.Sprintf("https://example.com/%d/%d", w, i)
				raw, _ := json.Marshal(shortener.ShortenRequest{LongURL: dest})
				resp, err := a.client.Post(a.server.URL+"/api/shorten", "application/json", bytes.NewReader(raw))
				if err != nil {
					errs <- err
					continue
				}
				var out shortener.ShortenResponse
				err = json.NewDecoder(resp.Body).Decode(&out)
				resp.Body.Close()
				if err != nil || resp.StatusCode != http.StatusOK {
					errs <- fmt.Errorf("status %d: %v", resp.StatusCode, err)
					continue
				}
				mu.Lock()
				if prev, dup := slugs[out.Slug]; dup {
					errs <- fmt.Errorf("slug %s issued for %s and %s", out.Slug, prev, dest)
				}
				slugs[out.Slug] = dest
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	require.Len(t, slugs, workers*perWorker)

	// Every slug still resolves to its own destination.
	for slug, dest := range slugs {
		resp := a.get(t, "/s/"+slug)
		resp.Body.Close()
		require.Equal(t, dest, resp.Header.Get("Location"))
	}
}
