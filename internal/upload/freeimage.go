package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// FreeImageEndpoint is the freeimage.host upload API.
const FreeImageEndpoint = "https://freeimage.host/api/1/upload"

// FreeImage uploads to freeimage.host with an API key.
type FreeImage struct {
	endpoint string
	apiKey   string
}

// NewFreeImage returns the provider. An empty endpoint means FreeImageEndpoint.
func NewFreeImage(endpoint, apiKey string) *FreeImage {
	if endpoint == "" {
		endpoint = FreeImageEndpoint
	}
	return &FreeImage{endpoint: endpoint, apiKey: apiKey}
}

func (f *FreeImage) Name() string { return "freeimage" }

func (f *FreeImage) NewRequest(ctx context.Context, p Payload) (*http.Request, error) {
	return newMultipartRequest(ctx, f.endpoint,
		[]formField{{"key", f.apiKey}, {"action", "upload"}},
		"source", p,
		[]formField{{"format", "json"}},
	)
}

type freeImageResponse struct {
	Image struct {
		URL string `json:"url"`
	} `json:"image"`
}

func (f *FreeImage) ParseResponse(resp *http.Response) (string, error) {
	body, err := readLimited(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out freeImageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Image.URL == "" {
		return "", errors.New("response has no image.url")
	}
	return out.Image.URL, nil
}
