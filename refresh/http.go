package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultPath is the refresh endpoint relative to the API base URL.
const DefaultPath = "/api/auth/refresh"

// maxResponseBody caps how much of a refresh response is read.
const maxResponseBody = 64 << 10

// HTTPRefresher calls the remote refresh endpoint with the refresh token as
// bearer credential. It must not be routed through an authenticated
// transport.
type HTTPRefresher struct {
	endpoint string
	path     string
	client   *http.Client
}

// HTTPOption configures an HTTPRefresher.
type HTTPOption func(*HTTPRefresher)

// WithHTTPClient sets the client used for refresh calls.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(r *HTTPRefresher) {
		r.client = client
	}
}

// WithPath overrides DefaultPath.
func WithPath(path string) HTTPOption {
	return func(r *HTTPRefresher) {
		r.path = path
	}
}

// NewHTTPRefresher creates a refresher for the API at baseURL.
func NewHTTPRefresher(baseURL string, opts ...HTTPOption) *HTTPRefresher {
	r := &HTTPRefresher{
		path:   DefaultPath,
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.endpoint = joinURL(strings.TrimRight(baseURL, "/"), r.path)
	return r
}

// Endpoint returns the URL refresh calls are sent to.
func (r *HTTPRefresher) Endpoint() string {
	return r.endpoint
}

type refreshResponse struct {
	AccessToken      string `json:"access_token"`
	AccessTokenCamel string `json:"accessToken"`
}

// Refresh implements Refresher. Any non-2xx status is a failure.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	(&oauth2.Token{AccessToken: refreshToken, TokenType: "Bearer"}).SetAuthHeader(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	var body refreshResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding refresh response: %w", err)
	}
	if body.AccessToken != "" {
		return body.AccessToken, nil
	}
	if body.AccessTokenCamel != "" {
		return body.AccessTokenCamel, nil
	}
	return "", ErrEmptyAccessToken
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
