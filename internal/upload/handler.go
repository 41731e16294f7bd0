package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sundayezeilo/upae/internal/errx"
	"github.com/sundayezeilo/upae/internal/httpx"
)

// DefaultMaxBytes is the decoded payload limit (10 MB).
const DefaultMaxBytes = 10 << 20

// Uploader is what the handler needs from a Dispatcher.
type Uploader interface {
	Dispatch(ctx context.Context, data []byte) (Result, error)
}

// UploadRequest represents the JSON request body of an upload.
type UploadRequest struct {
	Image string `json:"image"`
}

// UploadResponse represents the JSON response of a successful upload.
type UploadResponse struct {
	Image UploadedImage `json:"image"`
}

// UploadedImage carries the public URL of the stored image.
type UploadedImage struct {
	URL string `json:"url"`
}

// Handler serves /api/upload.
type Handler struct {
	uploader Uploader
	logger   *slog.Logger
	maxBytes int64
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Uploader Uploader
	Logger   *slog.Logger
	MaxBytes int64 // decoded payload limit (default: 10 MB)
}

// NewHandler creates a new upload handler. A nil Logger falls back to
// slog.Default.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Handler{uploader: cfg.Uploader, logger: logger, maxBytes: maxBytes}
}

// Upload accepts POST {"image": "<base64>"} and answers {"image": {"url": ...}}.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logger := h.logger.With(
		"request_id", httpx.GetRequestID(ctx),
		"method", r.Method,
		"path", r.URL.Path,
	)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", nil)
		return
	}

	// Base64 inflates by 4/3; leave room for the JSON envelope.
	bodyLimit := int64(base64.StdEncoding.EncodedLen(int(h.maxBytes))) + 4096
	req, err := httpx.DecodeJSONLimit[UploadRequest](r, bodyLimit)
	if err != nil {
		logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	data, err := decodeImage(req.Image)
	if err != nil {
		logger.WarnContext(ctx, "invalid image payload", "error", err.Error())
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	if int64(len(data)) > h.maxBytes {
		logger.WarnContext(ctx, "image too large", "bytes", len(data), "max_bytes", h.maxBytes)
		httpx.WriteError(w, http.StatusBadRequest, "payload_too_large",
			fmt.Sprintf("image exceeds %d bytes", h.maxBytes), nil)
		return
	}

	res, err := h.uploader.Dispatch(ctx, data)
	if err != nil {
		h.handleDispatchError(ctx, logger, w, err)
		return
	}

	logger.InfoContext(ctx, "image uploaded",
		"provider", res.Provider,
		"url", res.URL,
	)
	httpx.WriteJSON(w, http.StatusOK, UploadResponse{Image: UploadedImage{URL: res.URL}})
}

func (h *Handler) handleDispatchError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, err error) {
	kind := errx.KindOf(err)

	switch kind {
	case errx.Invalid:
		logger.WarnContext(ctx, "upload rejected", "error", err.Error())
		httpx.WriteKindError(w, err, err.Error())

	case errx.Exhausted:
		var exhausted *ExhaustedError
		attempts := 0
		if errors.As(err, &exhausted) {
			attempts = len(exhausted.Failures)
		}
		logger.ErrorContext(ctx, "all upload providers failed",
			"error", err.Error(),
			"attempts", attempts,
		)
		httpx.WriteError(w, http.StatusInternalServerError, "upload_failed",
			"All upload services are unavailable. Please try again later.", nil)

	default:
		logger.ErrorContext(ctx, "unexpected upload error",
			"error", err.Error(),
			"error_kind", kind,
			"operation", errx.OpOf(err),
		)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error",
			"Upload failed. Please try again later.", nil)
	}
}

// decodeImage accepts standard base64, with or without padding, optionally
// prefixed by a data: URL header.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("image is required")
	}
	if strings.HasPrefix(s, "data:") {
		_, after, found := strings.Cut(s, ";base64,")
		if !found {
			return nil, errors.New("image data URL must be base64 encoded")
		}
		s = after
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, errors.New("image is not valid base64")
	}
	if len(data) == 0 {
		return nil, errors.New("image is empty")
	}
	return data, nil
}
