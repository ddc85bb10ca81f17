package mockrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultReadyTimeout bounds WaitReady when no timeout is given.
const DefaultReadyTimeout = 15 * time.Second

// readyRetry is the pause between readiness checks.
const readyRetry = 300 * time.Millisecond

// ErrNotReady is returned by WaitReady when the service never answered.
var ErrNotReady = errors.New("RPC server not ready")

// Client calls the RPC service.
type Client struct {
	URL string

	// Authorization is sent as the Authorization header when set.
	Authorization string

	HTTP *http.Client
}

// NewClient returns a client for the endpoint url.
func NewClient(url string) *Client {
	return &Client{URL: url, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// Result is a decoded reply together with its HTTP status.
type Result struct {
	Status int
	Result json.RawMessage
	Error  string
}

// Call invokes method. Non-2xx replies are not errors: Status and Error
// carry what the service said. params may be nil.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (*Result, error) {
	body, err := json.Marshal(struct {
		Method string      `json:"method"`
		Params interface{} `json:"params"`
	}{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return c.post(ctx, body)
}

// CallRaw posts body as is, for exercising malformed requests.
func (c *Client) CallRaw(ctx context.Context, body []byte) (*Result, error) {
	return c.post(ctx, body)
}

func (c *Client) post(ctx context.Context, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Authorization != "" {
		req.Header.Set("Authorization", c.Authorization)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", c.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return &Result{Status: resp.StatusCode, Error: string(bytes.TrimSpace(data))}, nil
	}
	return &Result{Status: resp.StatusCode, Result: decoded.Result, Error: decoded.Error}, nil
}

// WaitReady polls url with a ping until the service answers with anything
// below 500 or timeout elapses.
func WaitReady(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &Client{URL: url, HTTP: &http.Client{Timeout: 2 * time.Second}}
	defer client.HTTP.CloseIdleConnections()
	var lastErr error
	for {
		res, err := client.Call(ctx, "ping", []interface{}{})
		if err == nil && res.Status < http.StatusInternalServerError {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("status %d", res.Status)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w at %s: %v", ErrNotReady, url, lastErr)
		case <-time.After(readyRetry):
		}
	}
}
