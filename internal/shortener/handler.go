package shortener

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sundayezeilo/upae/internal/errx"
	"github.com/sundayezeilo/upae/internal/httpx"
)

// NotFoundBody is the plain-text body served for unknown short links.
const NotFoundBody = "This link does not exist or was removed."

// ShortenRequest represents the JSON request body for creating a link.
type ShortenRequest struct {
	LongURL string `json:"longUrl"`
}

// ShortenResponse represents the JSON response for a created link.
type ShortenResponse struct {
	Slug     string `json:"slug"`
	ShortURL string `json:"shortUrl"`
}

// Handler provides HTTP handlers for the link service.
type Handler struct {
	service Service
	logger  *slog.Logger
	baseURL string
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *slog.Logger
	BaseURL string // Base URL for constructing short URLs (e.g., "https://upae.example")
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service: cfg.Service,
		logger:  logger,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// CreateLink handles POST /api/shorten.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logger := h.logger.With(
		"request_id", httpx.GetRequestID(ctx),
		"method", r.Method,
		"path", r.URL.Path,
	)

	req, err := httpx.DecodeJSON[ShortenRequest](r)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request",
			"error", err.Error(),
		)
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	slug, err := h.service.Allocate(ctx, req.LongURL)
	if err != nil {
		h.handleCreateError(ctx, logger, w, err)
		return
	}

	logger.InfoContext(ctx, "link created",
		"slug", slug,
	)

	httpx.WriteJSON(w, http.StatusOK, ShortenResponse{
		Slug:     slug,
		ShortURL: h.shortURL(slug),
	})
}

// ResolveLink handles GET /s/{slug}. A blank slug redirects to the site
// root; an unknown one gets a plain-text 404.
func (h *Handler) ResolveLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logger := h.logger.With(
		"request_id", httpx.GetRequestID(ctx),
		"method", r.Method,
		"path", r.URL.Path,
	)

	slug := slugFromRequest(r)

	res, err := h.service.Resolve(ctx, slug)
	if err != nil {
		if errx.Is(err, errx.NotFound) {
			logger.InfoContext(ctx, "slug not found", "slug", slug)
			httpx.WriteText(w, http.StatusNotFound, NotFoundBody)
			return
		}
		logger.ErrorContext(ctx, "unexpected error resolving link",
			"slug", slug,
			"error", err.Error(),
			"error_kind", errx.KindOf(err),
			"operation", errx.OpOf(err),
		)
		httpx.WriteText(w, http.StatusInternalServerError, "Unable to resolve this link right now.")
		return
	}

	logger.DebugContext(ctx, "slug resolved",
		"slug", slug,
		"outcome", res.Kind.String(),
		"referer", r.Referer(),
	)

	// http.Redirect would rewrite scheme-less destinations as relative paths.
	w.Header().Set("Location", res.Location)
	w.WriteHeader(http.StatusFound)
}

func (h *Handler) shortURL(slug string) string {
	return h.baseURL + "/s/" + slug
}

func (h *Handler) handleCreateError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
	}

	switch {
	case kind == errx.Invalid:
		logger.WarnContext(ctx, "invalid link request", logAttrs...)
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorKindToCode(kind), "longUrl is required", nil)

	case errors.Is(err, ErrSlugSpaceExhausted):
		logger.ErrorContext(ctx, "no free slug found", logAttrs...)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorKindToCode(kind),
			"Could not shorten the link. Please try again.", nil)

	default:
		logger.ErrorContext(ctx, "unexpected error creating link", logAttrs...)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error",
			"Could not shorten the link. Please try again.", nil)
	}
}

// slugFromRequest prefers the router's {slug} param and falls back to the
// text after "/s/" for handlers mounted without chi.
func slugFromRequest(r *http.Request) string {
	if slug := chi.URLParam(r, "slug"); slug != "" {
		if unescaped, err := url.PathUnescape(slug); err == nil {
			return unescaped
		}
		return slug
	}
	return extractSlugFromPath(r.URL.Path)
}

// extractSlugFromPath returns everything after the first "/s/", or "" when
// the path has no slug segment.
// For example, "/s/coxinha-feliz" returns "coxinha-feliz" and "/s" returns "".
func extractSlugFromPath(path string) string {
	_, slug, found := strings.Cut(path, "/s/")
	if !found {
		return ""
	}
	return slug
}
