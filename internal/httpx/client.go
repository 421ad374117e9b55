package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"

	clierr "github.com/privatekey7/evm-farmer-pro/internal/errors"
)

type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "evm-farmer/1.0",
	}
}

// Do performs the request with transport-level retries and returns the
// response status and body. Non-2xx statuses are returned to the caller
// rather than mapped to errors, so service error payloads stay readable.
func (c *Client) Do(ctx context.Context, req *http.Request) (int, []byte, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return 0, nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return 0, nil, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.StatusCode, nil, clierr.Wrap(clierr.CodeUnavailable, "read service response", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = clierr.New(clierr.CodeRateLimited, "service rate limited request")
			if attempt < c.retries {
				continue
			}
			return resp.StatusCode, buf, lastErr
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = clierr.New(clierr.CodeUnavailable, fmt.Sprintf("service unavailable (status %d)", resp.StatusCode))
			if attempt < c.retries {
				continue
			}
			return resp.StatusCode, buf, lastErr
		}

		return resp.StatusCode, buf, nil
	}

	if lastErr != nil {
		return 0, nil, lastErr
	}
	return 0, nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

// DoJSON performs the request and decodes a 2xx JSON response into out.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) error {
	status, buf, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return clierr.New(clierr.CodeAuth, "service authentication failed")
	}
	if status < 200 || status >= 300 {
		return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("service returned unexpected status %d", status))
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return clierr.New(clierr.CodeUnavailable, "service returned empty response")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "decode service JSON", err)
	}
	return nil
}

func NewJSONRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return req, nil
}

// IsTransient reports whether err looks like a connection reset, DNS
// failure, timeout or upstream overload that is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if clierr.HasCode(err, clierr.CodeRateLimited) {
		return true
	}
	if clierr.HasCode(err, clierr.CodeUnavailable) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUnavailable, "service timeout", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "service request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
