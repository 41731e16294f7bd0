package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2/api"

	"github.com/sundayezeilo/upae/internal/idgen"
)

// CloudinaryBaseURL is the Cloudinary upload API root.
const CloudinaryBaseURL = "https://api.cloudinary.com"

// Cloudinary performs signed server-side uploads to one Cloudinary cloud.
type Cloudinary struct {
	baseURL   string
	cloudName string
	apiKey    string
	apiSecret string

	ids idgen.Generator
	now func() time.Time
}

// CloudinaryConfig holds the account credentials.
type CloudinaryConfig struct {
	BaseURL   string // default CloudinaryBaseURL
	CloudName string
	APIKey    string
	APISecret string

	IDGenerator idgen.Generator // file names (default: UUID v7)
}

// NewCloudinary returns a Cloudinary provider for one cloud.
func NewCloudinary(cfg CloudinaryConfig) *Cloudinary {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = CloudinaryBaseURL
	}
	return &Cloudinary{
		baseURL:   base,
		cloudName: cfg.CloudName,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		ids:       idgen.OrDefault(cfg.IDGenerator),
		now:       time.Now,
	}
}

func (c *Cloudinary) Name() string { return "cloudinary" }

// NewRequest signs timestamp, use_filename and unique_filename. With
// unique_filename=false Cloudinary keeps the uploaded name as the public id,
// so each upload gets its own name instead of the shared upload<ext>.
func (c *Cloudinary) NewRequest(ctx context.Context, p Payload) (*http.Request, error) {
	id, err := c.ids.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate file name: %w", err)
	}
	p.Filename = "upload-" + id.String() + extensionFor(p.ContentType)

	params := map[string]string{
		"timestamp":       strconv.FormatInt(c.now().Unix(), 10),
		"use_filename":    "true",
		"unique_filename": "false",
	}
	signature, err := SignParams(params, c.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1_1/%s/%s/upload", c.baseURL, c.cloudName, ResourceType(p.ContentType))
	return newMultipartRequest(ctx, endpoint, nil, "file", p, []formField{
		{"api_key", c.apiKey},
		{"timestamp", params["timestamp"]},
		{"signature", signature},
		{"use_filename", params["use_filename"]},
		{"unique_filename", params["unique_filename"]},
	})
}

type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Cloudinary) ParseResponse(resp *http.Response) (string, error) {
	body, err := readLimited(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out cloudinaryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("cloudinary: %s", out.Error.Message)
	}
	if out.SecureURL == "" {
		return "", errors.New("response has no secure_url")
	}
	return out.SecureURL, nil
}

// SignParams computes a Cloudinary request signature with the SDK's signer:
// the hex SHA-1 of the key-sorted "k=v" pairs joined by "&", followed by the
// API secret. Empty values are left out of the signature.
func SignParams(params map[string]string, apiSecret string) (string, error) {
	if apiSecret == "" {
		return "", errors.New("api secret is required")
	}
	values := make(url.Values, len(params))
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	return api.SignParameters(values, apiSecret)
}
