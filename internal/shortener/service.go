package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sundayezeilo/upae/internal/errx"
	"github.com/sundayezeilo/upae/internal/keystore"
	"github.com/sundayezeilo/upae/internal/metrics"
	"github.com/sundayezeilo/upae/sluggen"
)

// DefaultMaxAttempts bounds the draws of one allocation.
const DefaultMaxAttempts = 32

// ErrSlugSpaceExhausted is wrapped in the errx.Exhausted error Allocate
// returns when every draw collided.
var ErrSlugSpaceExhausted = errors.New("slug space exhausted")

// Service allocates and resolves short links.
type Service interface {
	// Allocate stores destinationURL under a fresh slug and returns the slug.
	Allocate(ctx context.Context, destinationURL string) (string, error)
	// Resolve maps slug to its destination.
	Resolve(ctx context.Context, slug string) (Resolution, error)
}

type service struct {
	store       keystore.Store
	generator   sluggen.Generator
	maxAttempts int
	logger      *slog.Logger
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	SlugGenerator sluggen.Generator
	MaxAttempts   int // draws per allocation (default: 32)
	Logger        *slog.Logger
}

// NewService creates a new service instance.
func NewService(store keystore.Store, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	gen := config.SlugGenerator
	if gen == nil {
		gen = sluggen.NewWordPair(sluggen.DefaultVocabulary())
	}

	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &service{
		store:       store,
		generator:   gen,
		maxAttempts: attempts,
		logger:      logger,
	}
}

// Allocate draws candidates until one is free, then inserts it. A Conflict on
// insert means a concurrent allocation won the same candidate, so it counts
// as taken and the loop draws again.
func (s *service) Allocate(ctx context.Context, destinationURL string) (string, error) {
	const op = "shortener.service.Allocate"

	if strings.TrimSpace(destinationURL) == "" {
		return "", errx.E(op, errx.Invalid, errors.New("destination url is required"))
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		slug, err := s.generator.Generate()
		if err != nil {
			return "", errx.E(op, errx.Internal, fmt.Errorf("draw slug: %w", err))
		}

		taken, err := s.store.Exists(ctx, slug)
		if err != nil {
			return "", errx.E(op, errx.Internal, err)
		}
		if taken {
			metrics.SlugCollisionsTotal.WithLabelValues("exists").Inc()
			continue
		}

		err = s.store.Insert(ctx, slug, destinationURL)
		if err == nil {
			metrics.SlugDraws.Observe(float64(attempt))
			return slug, nil
		}
		if !errx.Is(err, errx.Conflict) {
			return "", errx.E(op, errx.Internal, err)
		}

		metrics.SlugCollisionsTotal.WithLabelValues("insert").Inc()
		s.logger.DebugContext(ctx, "slug taken on insert, redrawing",
			"slug", slug,
			"attempt", attempt,
		)
	}

	metrics.SlugDraws.Observe(float64(s.maxAttempts))
	return "", errx.E(op, errx.Exhausted,
		fmt.Errorf("%w after %d attempts", ErrSlugSpaceExhausted, s.maxAttempts))
}

// Resolve never fails for a blank slug; it returns RedirectDefault instead.
// Lookup failures of any kind surface as NotFound.
func (s *service) Resolve(ctx context.Context, slug string) (Resolution, error) {
	const op = "shortener.service.Resolve"

	if strings.TrimSpace(slug) == "" {
		return Resolution{Kind: RedirectDefault, Location: DefaultLocation}, nil
	}

	rec, err := s.store.Find(ctx, slug)
	if err != nil {
		if !errx.Is(err, errx.NotFound) {
			s.logger.ErrorContext(ctx, "slug lookup failed",
				"slug", slug,
				"error", err.Error(),
				"operation", errx.OpOf(err),
			)
		}
		return Resolution{}, errx.E(op, errx.NotFound, err)
	}

	return Resolution{Kind: Redirect, Location: rec.DestinationURL}, nil
}
