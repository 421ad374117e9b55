package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/privatekey7/evm-farmer-pro/internal/httpx"
)

const (
	DefaultBaseURL = "https://api.relay.link"

	quoteAttempts = 3
	quoteBackoff  = 2 * time.Second

	priceTTL = 5 * time.Minute
)

// Client is the routing service API client.
type Client struct {
	baseURL string
	apiKey  string
	source  string
	http    *httpx.Client
	prices  *gocache.Cache

	// sleep is swapped in tests to skip retry waits.
	sleep func(time.Duration)
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		source:  "evm_farmer_pro",
		http:    httpx.New(30*time.Second, 0),
		prices:  gocache.New(priceTTL, 10*time.Minute),
		sleep:   time.Sleep,
	}
}

// Quote requests a route. Transport failures and 5xx responses are
// retried a few times with a growing pause; business rejections come
// back as *RouteError immediately and are never retried.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	req.Source = c.source
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("relay: encode quote request: %w", err)
	}
	return c.postQuote(ctx, c.baseURL+"/quote", body)
}

// MultiInputQuote routes several origin balances into one destination.
func (c *Client) MultiInputQuote(ctx context.Context, req MultiInputRequest) (*Quote, error) {
	req.Source = c.source
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("relay: encode multi-input request: %w", err)
	}
	return c.postQuote(ctx, c.baseURL+"/swap/multi-input", body)
}

func (c *Client) postQuote(ctx context.Context, endpoint string, body []byte) (*Quote, error) {
	var lastErr error
	for attempt := 1; attempt <= quoteAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-sleepCh(c.sleep, quoteBackoff*time.Duration(attempt-1)):
			}
		}

		req, err := httpx.NewJSONRequest(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return nil, err
		}
		c.auth(req)

		status, respBody, err := c.http.Do(ctx, req)
		if err != nil {
			lastErr = err
			if httpx.IsTransient(err) && attempt < quoteAttempts {
				continue
			}
			return nil, err
		}

		if status >= 500 {
			lastErr = fmt.Errorf("relay: service error (status %d)", status)
			if attempt < quoteAttempts {
				continue
			}
			return nil, lastErr
		}

		if status < 200 || status >= 300 {
			return nil, routeErrorFrom(status, respBody)
		}

		var quote Quote
		if err := json.Unmarshal(respBody, &quote); err != nil {
			return nil, fmt.Errorf("relay: decode quote: %w", err)
		}
		if err := quote.Validate(); err != nil {
			return nil, err
		}
		return &quote, nil
	}
	return nil, lastErr
}

// StatusResponse is one poll of a cross-chain request.
type StatusResponse struct {
	Status     string   `json:"status"`
	TxHashes   []string `json:"txHashes"`
	InTxHashes []string `json:"inTxHashes"`
	Details    string   `json:"details"`
}

// Terminal reports whether the request reached a final state.
func (s *StatusResponse) Terminal() bool {
	switch s.Status {
	case "success", "failure", "refund":
		return true
	}
	return false
}

func (s *StatusResponse) Succeeded() bool { return s.Status == "success" }

// ExecutionStatus polls the service for the state of a cross-chain
// request.
func (c *Client) ExecutionStatus(ctx context.Context, requestID string) (*StatusResponse, error) {
	endpoint := c.baseURL + "/intents/status/v2?requestId=" + url.QueryEscape(requestID)
	req, err := httpx.NewJSONRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.auth(req)

	var out StatusResponse
	if err := c.http.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NotifyIndexed tells the service a transaction landed so indexing
// starts sooner. Best effort: callers ignore the returned error.
func (c *Client) NotifyIndexed(ctx context.Context, txHash string, chainID int64) error {
	payload, err := json.Marshal(map[string]string{
		"txHash":  txHash,
		"chainId": strconv.FormatInt(chainID, 10),
	})
	if err != nil {
		return err
	}
	req, err := httpx.NewJSONRequest(ctx, http.MethodPost, c.baseURL+"/transactions/index", payload)
	if err != nil {
		return err
	}
	c.auth(req)
	_, _, err = c.http.Do(ctx, req)
	return err
}

// SubmitSignature posts a produced signature back to the endpoint a
// signature step named.
func (c *Client) SubmitSignature(ctx context.Context, step *SignStep, signature string) error {
	if step.PostEndpoint == "" {
		return nil
	}
	body := map[string]any{}
	for k, v := range step.PostBody {
		body[k] = v
	}
	body["signature"] = signature
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("relay: encode signature payload: %w", err)
	}
	req, err := httpx.NewJSONRequest(ctx, http.MethodPost, c.baseURL+step.PostEndpoint, payload)
	if err != nil {
		return err
	}
	c.auth(req)
	status, _, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("relay: signature rejected (status %d)", status)
	}
	return nil
}

// TokenPrice returns the USD price of a token, cached briefly so the
// fee optimizer does not hammer the endpoint per token.
func (c *Client) TokenPrice(ctx context.Context, address string, chainID int64) (float64, error) {
	key := strconv.FormatInt(chainID, 10) + ":" + address
	if v, ok := c.prices.Get(key); ok {
		return v.(float64), nil
	}

	endpoint := fmt.Sprintf("%s/currencies/token/price?address=%s&chainId=%d",
		c.baseURL, url.QueryEscape(address), chainID)
	req, err := httpx.NewJSONRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	c.auth(req)

	var out struct {
		Price float64 `json:"price"`
	}
	if err := c.http.DoJSON(ctx, req, &out); err != nil {
		return 0, err
	}
	if out.Price <= 0 {
		return 0, fmt.Errorf("relay: no price for %s on chain %d", address, chainID)
	}
	c.prices.Set(key, out.Price, gocache.DefaultExpiration)
	return out.Price, nil
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func routeErrorFrom(status int, body []byte) error {
	var payload struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)
	if payload.ErrorCode != "" || payload.Message != "" {
		return &RouteError{Code: payload.ErrorCode, Message: payload.Message, Status: status}
	}
	return fmt.Errorf("relay: unexpected status %d", status)
}

// sleepCh adapts an injected sleep func to a select-able channel so
// retry waits stay cancellable.
func sleepCh(sleep func(time.Duration), d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		sleep(d)
		close(ch)
	}()
	return ch
}
