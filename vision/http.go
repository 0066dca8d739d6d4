package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/errdefs"
)

// HTTPClient talks to the vision provider over its JSON HTTP API.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient builds a provider client for endpoint. A zero timeout
// defaults to 30 seconds.
func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type annotateRequest struct {
	ImageBase64 string   `json:"image_base64"`
	Features    []string `json:"features"`
}

type annotateResponse struct {
	Objects []types.Detection `json:"objects"`
	Labels  []types.Label     `json:"labels"`
	Faces   []types.Face      `json:"faces"`
	Colors  []types.ColorInfo `json:"dominant_colors"`
	Errors  map[string]string `json:"feature_errors"`
}

func (c *HTTPClient) Annotate(ctx context.Context, imageData []byte, features []Feature) (*Bundle, error) {
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = string(f)
	}
	payload, err := json.Marshal(annotateRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(imageData),
		Features:    names,
	})
	if err != nil {
		return nil, errdefs.VisionService(errors.Wrap(err, "encoding annotate request"), false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/annotate", bytes.NewReader(payload))
	if err != nil {
		return nil, errdefs.VisionService(err, false)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errdefs.VisionService(errors.Wrap(err, "calling vision provider"), true)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, errdefs.VisionService(errors.Wrap(err, "reading vision response"), true)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 1
		if v, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && v > 0 {
			retryAfter = v
		}
		return nil, errdefs.RateLimit(errors.New("vision provider rate limited"), retryAfter)
	case resp.StatusCode >= 500:
		return nil, errdefs.VisionService(errors.Errorf("vision provider returned %d: %s", resp.StatusCode, body), true)
	case resp.StatusCode >= 400:
		return nil, errdefs.VisionService(errors.Errorf("vision provider rejected request with %d: %s", resp.StatusCode, body), false)
	}

	var out annotateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errdefs.VisionService(errors.Wrap(err, "decoding vision response"), true)
	}
	bundle := &Bundle{
		Objects: out.Objects,
		Labels:  out.Labels,
		Faces:   out.Faces,
		Colors:  out.Colors,
	}
	if len(out.Errors) > 0 {
		bundle.Errors = make(map[Feature]error, len(out.Errors))
		for f, msg := range out.Errors {
			bundle.Errors[Feature(f)] = errors.New(msg)
		}
	}
	return bundle, nil
}
