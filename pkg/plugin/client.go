package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ideamans/plugingate/pkg/shared/logging"
)

// StatusResponse is the body of GET /session-status.
type StatusResponse struct {
	Authenticated bool     `json:"authenticated"`
	Token         string   `json:"token,omitempty"`
	UserProfile   *Profile `json:"userProfile,omitempty"`
	UserInfo      *Profile `json:"userInfo,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Profile prefers userProfile and falls back to the legacy userInfo key.
func (r *StatusResponse) Profile() *Profile {
	if r.UserProfile != nil {
		return r.UserProfile
	}
	return r.UserInfo
}

// BackendClient is the plugin's view of the backend.
type BackendClient interface {
	SessionStatus(ctx context.Context, sessionID string) (*StatusResponse, error)
	Logout(ctx context.Context, token string) error
}

// ClientConfig configures HTTPClient.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration // per attempt; default 10s
	// RetryMax is the number of retries per request. The default of 0
	// keeps polling fail-fast.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// HTTPClient calls the backend over HTTP.
type HTTPClient struct {
	baseURL string
	client  *retryablehttp.Client
}

func NewHTTPClient(cfg ClientConfig, logger logging.Logger) (*HTTPClient, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("plugin: invalid backend url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := retryablehttp.NewClient()
	c.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		c.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		c.RetryWaitMax = cfg.RetryWaitMax
	}
	c.HTTPClient.Timeout = cfg.Timeout
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = retryLogger{logger.WithModule("http")}

	return &HTTPClient{baseURL: strings.TrimSuffix(cfg.BaseURL, "/"), client: c}, nil
}

// LoginURL is the page the user opens in a browser to log in.
func (c *HTTPClient) LoginURL(sessionID string) string {
	return c.baseURL + "/auth/google?session=" + url.QueryEscape(sessionID)
}

// SessionStatus fails on transport errors and non-2xx responses.
func (c *HTTPClient) SessionStatus(ctx context.Context, sessionID string) (*StatusResponse, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/session-status?session="+url.QueryEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError("session status", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("session status: unexpected status %d", resp.StatusCode)
	}

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("session status: decode: %w", err)
	}
	return &status, nil
}

// Logout revokes token on the backend.
func (c *HTTPClient) Logout(ctx context.Context, token string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError("logout", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("logout: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// transportError drops the request URL from err.
func transportError(op string, err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", op, ue.Err)
	}
	return fmt.Errorf("%s: request failed", op)
}

// retryLogger strips query strings from logged URLs; they carry session ids.
type retryLogger struct {
	logger logging.Logger
}

func (l retryLogger) Debug(msg string, kv ...interface{}) { l.logger.Debug(msg, redactURLs(kv)...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.logger.Info(msg, redactURLs(kv)...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.logger.Warn(msg, redactURLs(kv)...) }
func (l retryLogger) Error(msg string, kv ...interface{}) { l.logger.Error(msg, redactURLs(kv)...) }

func redactURLs(kv []interface{}) []interface{} {
	out := make([]interface{}, len(kv))
	for i, v := range kv {
		switch u := v.(type) {
		case *url.URL:
			out[i] = u.Scheme + "://" + u.Host + u.Path
		case error:
			var ue *url.Error
			if errors.As(u, &ue) {
				out[i] = ue.Err
				continue
			}
			out[i] = u
		case string:
			if before, _, found := strings.Cut(u, "?"); found && strings.Contains(before, "://") {
				out[i] = before
				continue
			}
			out[i] = u
		default:
			out[i] = v
		}
	}
	return out
}
