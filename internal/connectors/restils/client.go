package restils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/open-sspm/open-ils/internal/ils"
)

const maxRetries = 3

const maxRetryAfter = 30 * time.Second

const maxBodyBytes = 8 << 20

// Client talks to a catalog exposing the operation surface over JSON:
// POST <base>/ops/<operation> with named arguments, answered by
// {"result": ...} or {"error": "..."}.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Capabilities fetches the operation names the service implements.
func (c *Client) Capabilities(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, c.BaseURL+"/capabilities", nil)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, v := range gjson.GetBytes(body, "operations").Array() {
		names = append(names, v.String())
	}
	return names, nil
}

// Call invokes op and returns the "result" member of the response.
func (c *Client) Call(ctx context.Context, op ils.Operation, args map[string]any) (gjson.Result, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("encode %s arguments: %w", op, err)
	}
	body, err := c.do(ctx, http.MethodPost, c.BaseURL+"/ops/"+string(op), payload)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%s: response is not JSON", op)
	}
	return gjson.GetBytes(body, "result"), nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var resp *http.Response
	var body []byte
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		if c.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.Token)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("User-Agent", "open-ils")

		resp, err = c.HTTP.Do(req)
		if err != nil {
			if attempt < maxRetries && shouldRetryError(ctx, err) {
				if err := sleepWithContext(ctx, backoffDelay(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}
		if attempt < maxRetries && shouldRetryStatus(resp) {
			if err := sleepWithContext(ctx, retryDelay(resp, attempt)); err != nil {
				return nil, err
			}
			continue
		}
		return nil, formatAPIError(method, url, resp, body)
	}
	return nil, formatAPIError(method, url, resp, body)
}

func formatAPIError(method, url string, resp *http.Response, body []byte) error {
	if resp == nil {
		return fmt.Errorf("%s %s failed after retries", method, url)
	}
	var err error
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusNotImplemented:
		err = ils.ErrUnsupported
	default:
		err = errors.New(resp.Status)
	}
	if msg := strings.TrimSpace(gjson.GetBytes(body, "error").String()); msg != "" {
		return fmt.Errorf("%s %s: %w: %s", method, url, err, msg)
	}
	return fmt.Errorf("%s %s: %w", method, url, err)
}

func shouldRetryStatus(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func shouldRetryError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func retryDelay(resp *http.Response, attempt int) time.Duration {
	if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return min(time.Duration(secs)*time.Second, maxRetryAfter)
		}
	}
	return backoffDelay(attempt)
}

func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		return 0
	}
	d := 200 * time.Millisecond
	for range attempt {
		d *= 2
		if d >= 5*time.Second {
			return 5 * time.Second
		}
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
