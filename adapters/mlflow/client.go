package mlflow

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mltrack/internal"
	"mltrack/internal/config"
	"mltrack/internal/errors"
)

const apiPrefix = "/api/2.0/mlflow"

// Client talks to an MLflow-compatible tracking server over its REST API.
// It implements ports.TrackingStore and ports.ModelRegistry, and doubles as
// the authenticated, retrying transport for the artifact proxy.
type Client struct {
	baseURL     string
	http        *http.Client
	username    string
	password    string
	token       string
	maxRetries  int
	backoffBase time.Duration
	logger      *internal.Logger
}

// NewClient creates a client for an http(s) tracking URI
func NewClient(cfg config.TrackingConfig) (*Client, error) {
	u, err := url.Parse(cfg.URI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.ConfigInvalid("tracking URI must be an http(s) URL: " + cfg.URI)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	backoff := cfg.BackoffBase
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.URI, "/"),
		http:        &http.Client{Timeout: cfg.Timeout, Transport: transport},
		username:    cfg.Username,
		password:    cfg.Password,
		token:       cfg.Token,
		maxRetries:  cfg.MaxRetries,
		backoffBase: backoff,
		logger:      internal.DefaultLogger.With("mlflow"),
	}, nil
}

// BaseURL returns the server root the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do sends req with credentials attached, retrying transport failures and
// retryable statuses with exponential backoff. Requests with a body must set
// GetBody to be retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.Body != nil && req.Body != http.NoBody {
			if req.GetBody == nil {
				return nil, lastErr
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, errors.Wrap(err, "failed to rewind request body")
			}
			req.Body = body
		}

		resp, err := c.http.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case retryable(resp.StatusCode) && attempt < c.maxRetries:
			lastErr = fmt.Errorf("%s %s: HTTP %d", req.Method, req.URL.Path, resp.StatusCode)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		default:
			return resp, nil
		}

		if attempt >= c.maxRetries {
			return nil, lastErr
		}
		wait := c.backoffBase << attempt
		c.logger.Debug("retrying %s %s in %s: %v", req.Method, req.URL.Path, wait, lastErr)
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(wait):
		}
	}
}

// call performs one REST API request. in is sent as the JSON body for POST
// and ignored for GET; out receives the decoded response when non-nil.
func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, in, out interface{}) error {
	target := c.baseURL + apiPrefix + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	// bytes.Reader bodies get GetBody set by net/http, so retries can rewind.
	var body io.Reader
	if in != nil && method != http.MethodGet {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.ExternalServiceError("tracking server", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.ExternalServiceError("tracking server", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(endpoint, resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.ExternalServiceError("tracking server", fmt.Errorf("decode %s response: %w", endpoint, err))
	}
	return nil
}

func decodeError(endpoint string, status int, body []byte) error {
	var apiErr struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.ErrorCode != "" {
		return errors.New(apiErr.ErrorCode, apiErr.Message)
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Unauthorized(fmt.Sprintf("%s: HTTP %d", endpoint, status))
	case http.StatusNotFound:
		return errors.NotFound("endpoint " + endpoint)
	}
	return errors.ExternalServiceError("tracking server",
		fmt.Errorf("%s: HTTP %d: %s", endpoint, status, strings.TrimSpace(string(body))))
}
