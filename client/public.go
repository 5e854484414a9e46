package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	loginPath  = "/api/auth/login"
	logoutPath = "/api/auth/logout"
)

// Public is a client for anonymous endpoints. It never attaches or
// inspects credentials.
type Public struct {
	baseURL *url.URL
	http    *http.Client
	logger  zerolog.Logger
}

// PublicOption configures a Public client.
type PublicOption func(*publicOptions)

type publicOptions struct {
	base    http.RoundTripper
	timeout time.Duration
	logger  zerolog.Logger
}

// WithPublicTransport sets the underlying transport.
func WithPublicTransport(rt http.RoundTripper) PublicOption {
	return func(o *publicOptions) {
		o.base = rt
	}
}

// WithPublicTimeout sets the per-call timeout.
func WithPublicTimeout(d time.Duration) PublicOption {
	return func(o *publicOptions) {
		o.timeout = d
	}
}

// WithPublicLogger sets the logger.
func WithPublicLogger(logger zerolog.Logger) PublicOption {
	return func(o *publicOptions) {
		o.logger = logger
	}
}

// NewPublic creates a client for the API at baseURL.
func NewPublic(baseURL string, opts ...PublicOption) (*Public, error) {
	u, err := ParseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	o := publicOptions{base: http.DefaultTransport, timeout: DefaultTimeout, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Public{
		baseURL: u,
		http: &http.Client{
			Transport: &publicTransport{base: o.base, baseURL: u},
			Timeout:   o.timeout,
		},
		logger: o.logger.With().Str("component", "public_client").Logger(),
	}, nil
}

// ParseBaseURL validates an API base URL.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q: missing host", raw)
	}
	return u, nil
}

// Client returns the underlying *http.Client. Relative request URLs are
// resolved against the base URL.
func (p *Public) Client() *http.Client {
	return p.http
}

// Login exchanges credentials for a token pair. The caller stores the
// result, typically with session.TokenStore.Set.
func (p *Public) Login(ctx context.Context, username, password string) (*oauth2.Token, error) {
	payload, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %w", ErrLoginRejected, readAPIError(resp))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readAPIError(resp)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding login response: %w", err)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("login response carried no access token")
	}
	tok := &oauth2.Token{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		TokenType:    body.TokenType,
	}
	if body.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	p.logger.Debug().Str("username", username).Msg("login succeeded")
	return tok, nil
}

// Logout tells the server to revoke refreshToken. It is best-effort: the
// local session must be cleared regardless of the outcome.
func (p *Public) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, logoutPath, http.NoBody)
	if err != nil {
		return err
	}
	(&oauth2.Token{AccessToken: refreshToken, TokenType: "Bearer"}).SetAuthHeader(req)

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

// publicTransport resolves relative URLs and asks for JSON.
type publicTransport struct {
	base    http.RoundTripper
	baseURL *url.URL
}

func (t *publicTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL = t.baseURL.ResolveReference(req.URL)
	out.Host = ""
	if out.Header.Get("Accept") == "" {
		out.Header.Set("Accept", "application/json")
	}
	return t.base.RoundTrip(out)
}
