// Package upload places binary payloads on third-party media hosts.
//
// A Dispatcher walks an ordered list of Providers and returns the public URL
// from the first one that accepts the payload. Providers are plain values
// that know how to build one request and read one response; the dispatch
// loop holds no provider-specific logic.
package upload

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Provider is one upload target.
type Provider interface {
	// Name identifies the provider in logs, metrics and failures.
	Name() string
	// NewRequest builds the upload request for p, bound to ctx.
	NewRequest(ctx context.Context, p Payload) (*http.Request, error)
	// ParseResponse extracts the public URL from a 2xx response.
	ParseResponse(resp *http.Response) (string, error)
}

// Payload is the content being uploaded plus what providers need to label it.
type Payload struct {
	Data        []byte
	ContentType string
	Filename    string
}

// knownExtensions covers the types browsers commonly upload, so filenames do
// not depend on the host's mime tables.
var knownExtensions = map[string]string{
	"image/png":                ".png",
	"image/jpeg":               ".jpg",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
	"image/bmp":                ".bmp",
	"image/x-icon":             ".ico",
	"video/mp4":                ".mp4",
	"video/webm":               ".webm",
	"video/avi":                ".avi",
	"audio/mpeg":               ".mp3",
	"audio/wave":               ".wav",
	"application/pdf":          ".pdf",
	"application/zip":          ".zip",
	"application/octet-stream": ".bin",
	"text/plain":               ".txt",
}

// NewPayload sniffs the content type of data and names it upload<ext>.
func NewPayload(data []byte) Payload {
	contentType := http.DetectContentType(data)
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "application/octet-stream"
	}
	return Payload{
		Data:        data,
		ContentType: mediaType,
		Filename:    "upload" + extensionFor(mediaType),
	}
}

func extensionFor(mediaType string) string {
	if ext, ok := knownExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// ResourceType groups a media type the way media hosts do: image, video or raw.
func ResourceType(mediaType string) string {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return "image"
	case strings.HasPrefix(mediaType, "video/"):
		return "video"
	default:
		return "raw"
	}
}

// ErrInvalidPublicURL is returned when a provider answers with something that
// is not an absolute http(s) URL.
var ErrInvalidPublicURL = errors.New("provider returned an invalid public url")

// normalizePublicURL trims raw and requires an absolute http(s) URL.
func normalizePublicURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPublicURL, truncate(trimmed, 120))
	}
	return trimmed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
