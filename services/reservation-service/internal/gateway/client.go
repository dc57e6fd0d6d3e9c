// Package gateway is a thin client for the Midtrans Core API. It holds no
// business logic and never retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	SandboxBaseURL    = "https://api.sandbox.midtrans.com"
	ProductionBaseURL = "https://api.midtrans.com"

	maxResponseBytes = 1 << 20
)

// Error wraps every failed gateway call: transport errors, timeouts, non-2xx
// replies and upstream status codes that signal failure.
type Error struct {
	Op           string
	HTTPStatus   int
	UpstreamCode string
	Message      string
	Payload      []byte
	Err          error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gateway %s failed", e.Op)
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, ": http %d", e.HTTPStatus)
	}
	if e.UpstreamCode != "" {
		fmt.Fprintf(&b, ": upstream %s", e.UpstreamCode)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

type Config struct {
	BaseURL   string
	ServerKey string
	Timeout   time.Duration
	// HTTPClient overrides the instrumented default, mostly for tests.
	HTTPClient *http.Client
}

type Client struct {
	baseURL   string
	serverKey string
	http      *http.Client
	metrics   *metrics.Metrics
}

func NewClient(cfg Config, m *metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		serverKey: cfg.ServerKey,
		http:      hc,
		metrics:   m,
	}
}

// Charge submits a payment. Only upstream 200 and 201 count as success.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (Response, error) {
	return c.do(ctx, "charge", http.MethodPost, "/v2/charge", req, func(r Response) bool {
		return r.StatusCode == "200" || r.StatusCode == "201"
	})
}

func (c *Client) GetStatus(ctx context.Context, orderID string) (Response, error) {
	return c.orderCall(ctx, "status", http.MethodGet, orderID)
}

func (c *Client) Cancel(ctx context.Context, orderID string) (Response, error) {
	return c.orderCall(ctx, "cancel", http.MethodPost, orderID)
}

func (c *Client) Approve(ctx context.Context, orderID string) (Response, error) {
	return c.orderCall(ctx, "approve", http.MethodPost, orderID)
}

func (c *Client) Deny(ctx context.Context, orderID string) (Response, error) {
	return c.orderCall(ctx, "deny", http.MethodPost, orderID)
}

func (c *Client) Expire(ctx context.Context, orderID string) (Response, error) {
	return c.orderCall(ctx, "expire", http.MethodPost, orderID)
}

func (c *Client) orderCall(ctx context.Context, op, method, orderID string) (Response, error) {
	if strings.TrimSpace(orderID) == "" {
		return Response{}, c.fail(op, &Error{Op: op, Err: errors.New("order id is required")})
	}
	return c.do(ctx, op, method, "/v2/"+url.PathEscape(orderID)+"/"+op, nil, reportsStatus)
}

// reportsStatus accepts upstream codes below 400, and error codes whose body
// still carries a transaction status (an expired transaction answers 407).
func reportsStatus(r Response) bool {
	code, _ := strconv.Atoi(r.StatusCode)
	return code < 400 || r.TransactionStatus != ""
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, accept func(Response) bool) (Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Response{}, c.fail(op, &Error{Op: op, Err: err})
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Response{}, c.fail(op, &Error{Op: op, Err: err})
	}
	req.SetBasicAuth(c.serverKey, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return Response{}, c.fail(op, &Error{Op: op, Err: err})
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return Response{}, c.fail(op, &Error{Op: op, HTTPStatus: res.StatusCode, Err: err})
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		gerr := &Error{Op: op, HTTPStatus: res.StatusCode, Payload: payload}
		var partial Response
		if json.Unmarshal(payload, &partial) == nil {
			gerr.UpstreamCode = partial.StatusCode
			gerr.Message = partial.StatusMessage
		}
		return Response{}, c.fail(op, gerr)
	}

	var out Response
	if err := json.Unmarshal(payload, &out); err != nil {
		return Response{}, c.fail(op, &Error{Op: op, HTTPStatus: res.StatusCode, Payload: payload, Err: err})
	}
	// The API answers HTTP 200 with its own status_code in the body.
	if !accept(out) {
		return Response{}, c.fail(op, &Error{
			Op:           op,
			HTTPStatus:   res.StatusCode,
			UpstreamCode: out.StatusCode,
			Message:      out.StatusMessage,
			Payload:      payload,
		})
	}
	c.metrics.Gateway(op, "ok")
	return out, nil
}

func (c *Client) fail(op string, err *Error) error {
	c.metrics.Gateway(op, "error")
	return err
}
