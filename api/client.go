// Package api is the REST client for the backend endpoints the session
// lifecycle consumes: system settings, presence, and logout recording.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/tidwall/gjson"

	"github.com/vinayprograms/sessionkit/errors"
	"github.com/vinayprograms/sessionkit/telemetry"
)

// Endpoint paths relative to the base URL.
const (
	PathSettings       = "settings/system"
	PathPublicSettings = "settings/system/public"
	PathHeartbeat      = "users/heartbeat"
	PathOffline        = "users/offline"
	PathLogout         = "users/logout"
)

// maxBody caps how much of a response body is read.
const maxBody = 1 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. "https://example.com/api/".
	BaseURL string

	// Timeout bounds each request. Default: 10s
	Timeout time.Duration

	// HTTPClient overrides the pooled default client.
	HTTPClient *http.Client

	// Tracer records request spans. Default: the global tracer.
	Tracer *telemetry.Tracer
}

// Settings is the subset of system settings the session lifecycle reads.
type Settings struct {
	// SessionTimeout is the inactivity timeout in minutes as sent by the
	// server. Range checking is the caller's concern.
	SessionTimeout int
}

// Client calls the backend API.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	tracer  *telemetry.Tracer
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "api base url required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parse api base url")
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	c := &Client{
		base:    base,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		tracer:  cfg.Tracer,
	}
	if c.http == nil {
		c.http = cleanhttp.DefaultPooledClient()
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.tracer == nil {
		c.tracer = telemetry.GetTracer()
	}
	return c, nil
}

// FetchSettings reads the system settings. An empty token uses the public
// endpoint.
func (c *Client) FetchSettings(ctx context.Context, token string) (Settings, error) {
	path := PathSettings
	if token == "" {
		path = PathPublicSettings
	}

	body, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return Settings{}, err
	}
	return parseSettings(body)
}

// Heartbeat reports that the user is online.
func (c *Client) Heartbeat(ctx context.Context, token string) error {
	_, err := c.do(ctx, http.MethodPost, PathHeartbeat, token, nil)
	return err
}

// MarkOffline reports that the user went offline.
func (c *Client) MarkOffline(ctx context.Context, token string) error {
	_, err := c.do(ctx, http.MethodPost, PathOffline, token, nil)
	return err
}

// RecordLogout records a logout with an optional reason.
func (c *Client) RecordLogout(ctx context.Context, token, reason string) error {
	var payload any
	if reason != "" {
		payload = map[string]string{"reason": reason}
	}
	_, err := c.do(ctx, http.MethodPost, PathLogout, token, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path, token string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.StartRequestSpan(ctx, method, path)
	status := 0
	var err error
	defer func() { c.tracer.EndRequestSpan(span, status, err) }()

	var reqBody io.Reader
	if payload != nil {
		data, merr := json.Marshal(payload)
		if merr != nil {
			err = errors.Wrap(merr, "encode request body")
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reqBody)
	if err != nil {
		err = errors.Wrap(err, "build request")
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	telemetry.Inject(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		err = errors.Wrap(err, method+" "+path)
		return nil, err
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		err = errors.Wrap(err, "read response body")
		return nil, err
	}

	if err = statusError(method, path, resp.StatusCode); err != nil {
		return nil, err
	}
	return body, nil
}

// statusError maps a non-2xx status to a coded error.
func statusError(method, path string, status int) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var code errors.ErrorCode
	switch {
	case status == http.StatusUnauthorized:
		code = errors.ErrCodeUnauthorized
	case status == http.StatusForbidden:
		code = errors.ErrCodeForbidden
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		code = errors.ErrCodeUnavailable
	default:
		code = errors.ErrCodeRejected
	}
	return errors.New(code, fmt.Sprintf("%s %s returned %d", method, path, status),
		errors.WithMetadata("status", strconv.Itoa(status)))
}

func parseSettings(body []byte) (Settings, error) {
	if !gjson.ValidBytes(body) {
		return Settings{}, errors.New(errors.ErrCodeInvalidInput, "settings response is not JSON")
	}

	if ok := gjson.GetBytes(body, "success"); ok.Exists() && !ok.Bool() {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = "settings request unsuccessful"
		}
		return Settings{}, errors.New(errors.ErrCodeRejected, msg)
	}

	v := gjson.GetBytes(body, "data.sessionTimeout")
	if v.Type != gjson.Number {
		return Settings{}, errors.New(errors.ErrCodeInvalidInput, "sessionTimeout missing or not a number",
			errors.WithMetadata("raw", v.Raw))
	}
	if v.Num != float64(int64(v.Num)) {
		return Settings{}, errors.New(errors.ErrCodeInvalidInput, "sessionTimeout is not an integer",
			errors.WithMetadata("raw", v.Raw))
	}
	return Settings{SessionTimeout: int(v.Int())}, nil
}
