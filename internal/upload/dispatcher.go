package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sundayezeilo/upae/internal/errx"
	"github.com/sundayezeilo/upae/internal/metrics"
)

// DefaultAttemptTimeout bounds a single provider attempt.
const DefaultAttemptTimeout = 30 * time.Second

// Result is the outcome of a successful dispatch.
type Result struct {
	URL      string
	Provider string
}

// Failure records why one provider attempt failed.
type Failure struct {
	Provider string
	Err      error
}

func (f Failure) Error() string {
	return f.Provider + ": " + f.Err.Error()
}

func (f Failure) Unwrap() error { return f.Err }

// ExhaustedError reports that every provider failed, in attempt order.
type ExhaustedError struct {
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return "no upload providers configured"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("all %d upload providers failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Dispatcher uploads a payload to the first provider that accepts it.
// It is stateless across calls and safe for concurrent use.
type Dispatcher struct {
	providers      []Provider
	client         *http.Client
	attemptTimeout time.Duration
	deadline       time.Duration
	logger         *slog.Logger
}

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	Providers      []Provider // tried in order
	Client         *http.Client
	AttemptTimeout time.Duration // per provider (default: 30s)
	Deadline       time.Duration // whole dispatch (default: none)
	Logger         *slog.Logger
}

// NewDispatcher returns a Dispatcher over cfg.Providers. A positive Deadline
// caps the sum of all attempts so an exhausted dispatch still returns in time
// to write its response.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		providers:      append([]Provider(nil), cfg.Providers...),
		client:         client,
		attemptTimeout: timeout,
		deadline:       cfg.Deadline,
		logger:         logger,
	}
}

// Providers returns the provider names in dispatch order.
func (d *Dispatcher) Providers() []string {
	names := make([]string, len(d.providers))
	for i, p := range d.providers {
		names[i] = p.Name()
	}
	return names
}

// Dispatch tries each provider once, in order, and returns the first public
// URL. When every provider fails it returns an errx.Exhausted error wrapping
// *ExhaustedError.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) (Result, error) {
	const op = "upload.dispatcher.Dispatch"

	if len(data) == 0 {
		return Result{}, errx.E(op, errx.Invalid, errors.New("payload is empty"))
	}

	if d.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.deadline)
		defer cancel()
	}

	payload := NewPayload(data)
	failures := make([]Failure, 0, len(d.providers))

	for _, p := range d.providers {
		name := p.Name()
		start := time.Now()

		publicURL, err := d.attempt(ctx, p, payload)
		metrics.UploadAttemptDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.UploadAttemptsTotal.WithLabelValues(name, "success").Inc()
			d.logger.InfoContext(ctx, "upload succeeded",
				"provider", name,
				"bytes", len(data),
				"content_type", payload.ContentType,
			)
			return Result{URL: publicURL, Provider: name}, nil
		}

		metrics.UploadAttemptsTotal.WithLabelValues(name, "failure").Inc()
		d.logger.WarnContext(ctx, "upload provider failed",
			"provider", name,
			"error", err.Error(),
			"duration", time.Since(start),
		)
		failures = append(failures, Failure{Provider: name, Err: err})
	}

	metrics.UploadExhaustedTotal.Inc()
	return Result{}, errx.E(op, errx.Exhausted, &ExhaustedError{Failures: failures})
}

func (d *Dispatcher) attempt(ctx context.Context, p Provider, payload Payload) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	req, err := p.NewRequest(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	raw, err := p.ParseResponse(resp)
	if err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return normalizePublicURL(raw)
}
