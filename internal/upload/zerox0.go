package upload

import (
	"context"
	"fmt"
	"net/http"
)

// ZeroX0Endpoint is the 0x0.st null pointer upload endpoint.
const ZeroX0Endpoint = "https://0x0.st"

// ZeroX0 uploads to 0x0.st, which answers with the URL as plain text.
type ZeroX0 struct {
	endpoint string
}

// NewZeroX0 returns the provider. An empty endpoint means ZeroX0Endpoint.
func NewZeroX0(endpoint string) *ZeroX0 {
	if endpoint == "" {
		endpoint = ZeroX0Endpoint
	}
	return &ZeroX0{endpoint: endpoint}
}

func (z *ZeroX0) Name() string { return "0x0" }

func (z *ZeroX0) NewRequest(ctx context.Context, p Payload) (*http.Request, error) {
	return newMultipartRequest(ctx, z.endpoint, nil, "file", p, nil)
}

func (z *ZeroX0) ParseResponse(resp *http.Response) (string, error) {
	body, err := readLimited(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(body), nil
}
