package upload

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sundayezeilo/upae/internal/errx"
	"github.com/sundayezeilo/upae/internal/metrics"
)

// stubProvider posts the payload as field "file" and reads the body as the URL.
type stubProvider struct {
	name     string
	endpoint string
	buildErr error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) NewRequest(ctx context.Context, p Payload) (*http.Request, error) {
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	return newMultipartRequest(ctx, s.endpoint, nil, "file", p, nil)
}

func (s *stubProvider) ParseResponse(resp *http.Response) (string, error) {
	body, err := readLimited(resp.Body)
	return string(body), err
}

// fakeHost is an httptest server that counts hits and answers with a fixed
// status and body.
type fakeHost struct {
	*httptest.Server
	hits atomic.Int32
}

func newFakeHost(t *testing.T, status int, body string) *fakeHost {
	t.Helper()
	h := &fakeHost{}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(h.Close)
	return h
}

func TestDispatcher_FallsBackInOrder(t *testing.T) {
	a := newFakeHost(t, http.StatusServiceUnavailable, "down")
	b := newFakeHost(t, http.StatusOK, "  https://b.example/x.png\n")
	c := newFakeHost(t, http.StatusOK, "https://c.example/x.png")

	d := NewDispatcher(DispatcherConfig{
		Providers: []Provider{
			&stubProvider{name: "a", endpoint: a.URL},
			&stubProvider{name: "b", endpoint: b.URL},
			&stubProvider{name: "c", endpoint: c.URL},
		},
	})

	res, err := d.Dispatch(context.Background(), pngHeader)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.URL != "https://b.example/x.png" || res.Provider != "b" {
		t.Errorf("Dispatch() = %+v", res)
	}
	if a.hits.Load() != 1 || b.hits.Load() != 1 {
		t.Errorf("hits a=%d b=%d, want 1 each", a.hits.Load(), b.hits.Load())
	}
	if c.hits.Load() != 0 {
		t.Errorf("provider after the winner was called %d times", c.hits.Load())
	}
}

func TestDispatcher_FirstProviderWins(t *testing.T) {
	a := newFakeHost(t, http.StatusOK, "https://a.example/1.png")
	b := newFakeHost(t, http.StatusOK, "https://b.example/1.png")

	d := NewDispatcher(DispatcherConfig{
		Providers: []Provider{
			&stubProvider{name: "a", endpoint: a.URL},
			&stubProvider{name: "b", endpoint: b.URL},
		},
	})

	// Every dispatch starts from the top.
	for range 3 {
		res, err := d.Dispatch(context.Background(), pngHeader)
		if err != nil || res.Provider != "a" {
			t.Fatalf("Dispatch() = %+v, %v", res, err)
		}
	}
	if b.hits.Load() != 0 {
		t.Errorf("b called %d times", b.hits.Load())
	}
}

func TestDispatcher_AllFail(t *testing.T) {
	before := testutil.ToFloat64(metrics.UploadExhaustedTotal)

	a := newFakeHost(t, http.StatusInternalServerError, "boom")
	b := newFakeHost(t, http.StatusOK, "<html>not a url</html>")
	c := &stubProvider{name: "c", buildErr: errors.New("no credentials")}

	d := NewDispatcher(DispatcherConfig{
		Providers: []Provider{
			&stubProvider{name: "a", endpoint: a.URL},
			&stubProvider{name: "b", endpoint: b.URL},
			c,
		},
	})

	res, err := d.Dispatch(context.Background(), pngHeader)

	if res != (Result{}) {
		t.Errorf("Dispatch() returned partial result %+v", res)
	}
	if errx.KindOf(err) != errx.Exhausted {
		t.Fatalf("kind = %v, want Exhausted", errx.KindOf(err))
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Failures) != 3 {
		t.Fatalf("failures = %d, want 3", len(exhausted.Failures))
	}
	for i, want := range []string{"a", "b", "c"} {
		if exhausted.Failures[i].Provider != want {
			t.Errorf("failure[%d].Provider = %q, want %q", i, exhausted.Failures[i].Provider, want)
		}
	}

	var statusErr *StatusError
	if !errors.As(exhausted.Failures[0].Err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("failure[0] = %v, want status 500", exhausted.Failures[0].Err)
	}
	if !errors.Is(exhausted.Failures[1].Err, ErrInvalidPublicURL) {
		t.Errorf("failure[1] = %v, want ErrInvalidPublicURL", exhausted.Failures[1].Err)
	}

	if a.hits.Load() != 1 || b.hits.Load() != 1 {
		t.Errorf("hits a=%d b=%d, want exactly one attempt each", a.hits.Load(), b.hits.Load())
	}
	if got := testutil.ToFloat64(metrics.UploadExhaustedTotal) - before; got != 1 {
		t.Errorf("exhausted counter delta = %v, want 1", got)
	}
}

func TestDispatcher_AttemptTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)
	fast := newFakeHost(t, http.StatusOK, "https://fast.example/x.png")

	d := NewDispatcher(DispatcherConfig{
		Providers: []Provider{
			&stubProvider{name: "slow", endpoint: slow.URL},
			&stubProvider{name: "fast", endpoint: fast.URL},
		},
		AttemptTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	res, err := d.Dispatch(context.Background(), pngHeader)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Provider != "fast" {
		t.Errorf("Provider = %q, want fast", res.Provider)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("dispatch took %v; slow attempt was not cut off", elapsed)
	}
}

func TestDispatcher_DeadlineBoundsAllAttempts(t *testing.T) {
	var hits atomic.Int32
	stall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(stall.Close)

	d := NewDispatcher(DispatcherConfig{
		Providers: []Provider{
			&stubProvider{name: "a", endpoint: stall.URL},
			&stubProvider{name: "b", endpoint: stall.URL},
		},
		AttemptTimeout: 10 * time.Second,
		Deadline:       100 * time.Millisecond,
	})

	start := time.Now()
	_, err := d.Dispatch(context.Background(), pngHeader)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("dispatch took %v; deadline was not applied", elapsed)
	}
	if errx.KindOf(err) != errx.Exhausted {
		t.Fatalf("kind = %v, want Exhausted (err: %v)", errx.KindOf(err), err)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || len(exhausted.Failures) != 2 {
		t.Fatalf("err = %v, want both providers recorded", err)
	}
	if hits.Load() == 0 {
		t.Error("no provider was contacted")
	}
}

func TestDispatcher_EmptyPayload(t *testing.T) {
	a := newFakeHost(t, http.StatusOK, "https://a.example/x.png")
	d := NewDispatcher(DispatcherConfig{Providers: []Provider{&stubProvider{name: "a", endpoint: a.URL}}})

	_, err := d.Dispatch(context.Background(), nil)
	if errx.KindOf(err) != errx.Invalid {
		t.Errorf("kind = %v, want Invalid", errx.KindOf(err))
	}
	if a.hits.Load() != 0 {
		t.Error("provider called for empty payload")
	}
}

func TestDispatcher_NoProviders(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{}).Dispatch(context.Background(), pngHeader)

	var exhausted *ExhaustedError
	if errx.KindOf(err) != errx.Exhausted || !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want Exhausted", err)
	}
	if len(exhausted.Failures) != 0 {
		t.Errorf("failures = %v", exhausted.Failures)
	}
}

func TestDispatcher_RealProvidersAgainstFakeHosts(t *testing.T) {
	var gotKey string
	freeimage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		gotKey = r.FormValue("key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status_code":400,"error":{"message":"quota"}}`))
	}))
	t.Cleanup(freeimage.Close)
	zerox0 := newFakeHost(t, http.StatusOK, "https://0x0.st/Ab.png\n")

	d := NewDispatcher(DispatcherConfig{
		Providers: []Provider{
			NewFreeImage(freeimage.URL, "k3y"),
			NewZeroX0(zerox0.URL),
		},
	})
	if got := d.Providers(); len(got) != 2 || got[0] != "freeimage" || got[1] != "0x0" {
		t.Errorf("Providers() = %v", got)
	}

	res, err := d.Dispatch(context.Background(), pngHeader)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.URL != "https://0x0.st/Ab.png" || res.Provider != "0x0" {
		t.Errorf("Dispatch() = %+v", res)
	}
	if gotKey != "k3y" {
		t.Errorf("freeimage key = %q", gotKey)
	}
}

func TestExhaustedError_Message(t *testing.T) {
	err := &ExhaustedError{Failures: []Failure{
		{Provider: "freeimage", Err: &StatusError{StatusCode: 502}},
		{Provider: "0x0", Err: errors.New("connection refused")},
	}}
	want := "all 2 upload providers failed: freeimage: unexpected status 502; 0x0: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
