// Package jubelio relays stock levels to the Jubelio ERP webhook.
package jubelio

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"warehouse-backend/internal/config"
	"warehouse-backend/internal/metrics"

	"github.com/go-resty/resty/v2"
)

const requestTimeout = 15 * time.Second

var (
	ErrNotConfigured = errors.New("jubelio relay is not configured")
	ErrUnreachable   = errors.New("jubelio is unreachable")
)

// Client posts JSON documents to the configured webhook.
type Client struct {
	http *resty.Client
	url  string
}

// Result is the ERP's answer, passed back to the caller unchanged.
type Result struct {
	Status      int
	ContentType string
	Body        []byte
	Reason      string // error message of a non-2xx answer, when the ERP sent one
}

// OK reports a 2xx answer.
func (r *Result) OK() bool {
	return r.Status >= http.StatusOK && r.Status < http.StatusMultipleChoices
}

// apiError is the error body the webhook returns on 4xx/5xx.
type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e *apiError) String() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// NewClient returns nil when the relay has no target.
// The ERP endpoint uses a certificate that does not verify, so TLS
// verification is disabled for this client only.
func NewClient(cfg config.JubelioConfig) *Client {
	if !cfg.Enabled() {
		return nil
	}
	rc := resty.New().
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}).
		SetHeader("Authorization", "Bearer "+cfg.Token).
		SetHeader("x-mirror-token", cfg.MirrorToken).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(requestTimeout)
	return &Client{http: rc, url: cfg.WebhookURL}
}

// Push sends body to the webhook. Only transport failures are errors; an ERP
// rejection comes back as a Result with its status.
func (c *Client) Push(ctx context.Context, body []byte) (*Result, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}

	apiErr := new(apiError)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetError(apiErr).
		Post(c.url)
	if err != nil {
		metrics.JubelioPushes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	res := &Result{
		Status:      resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
	}
	if res.OK() {
		metrics.JubelioPushes.WithLabelValues("ok").Inc()
	} else {
		res.Reason = apiErr.String()
		metrics.JubelioPushes.WithLabelValues("rejected").Inc()
	}
	return res, nil
}

// describe renders a non-2xx answer for logs.
func describe(res *Result) string {
	if res.Reason != "" {
		return fmt.Sprintf("status %d: %s", res.Status, res.Reason)
	}
	return fmt.Sprintf("status %d: %s", res.Status, truncate(string(res.Body), 300))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
