package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const maxResponseBytes = 32 << 20

// Client is the HTTP transport shared by provider dialects.
// Responses are returned as parsed gjson documents.
type Client struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	authorize  func(*http.Request)
}

// NewClient creates a client for one provider.
// authorize sets the provider's credentials on each request.
func NewClient(provider, baseURL string, httpClient *http.Client, authorize func(*http.Request)) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if authorize == nil {
		authorize = func(*http.Request) {}
	}
	return &Client{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		authorize:  authorize,
	}
}

// BaseURL returns the configured API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PostJSON sends body to path and parses the JSON reply
func (c *Client) PostJSON(ctx context.Context, path string, body []byte) (gjson.Result, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// GetJSON fetches path and parses the JSON reply
func (c *Client) GetJSON(ctx context.Context, path string) (gjson.Result, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, NewProviderError(c.provider, "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	c.authorize(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, NewProviderError(c.provider, "TIMEOUT", "Request cancelled", 0, true, ctx.Err())
		}
		return gjson.Result{}, NewProviderError(c.provider, "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, NewProviderError(c.provider, "READ_ERROR", "Failed to read response", httpResp.StatusCode, true, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return gjson.Result{}, c.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	if !gjson.ValidBytes(respBody) {
		return gjson.Result{}, NewProviderError(c.provider, "INVALID_RESPONSE", "Response is not valid JSON", httpResp.StatusCode, false, nil)
	}

	return gjson.ParseBytes(respBody), nil
}

// Download fetches a binary resource such as the input image
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", NewProviderError(c.provider, "REQUEST_ERROR", "Failed to create download request", 0, false, err)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", NewProviderError(c.provider, "DOWNLOAD_ERROR", "Failed to download input image", 0, true, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, "", NewProviderError(c.provider, "IMAGE_URL_INACCESSIBLE",
			fmt.Sprintf("Input image returned HTTP %d", httpResp.StatusCode), httpResp.StatusCode, false, nil)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", NewProviderError(c.provider, "DOWNLOAD_ERROR", "Failed to read input image", 0, true, err)
	}

	contentType := httpResp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(data)
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}

	return data, contentType, nil
}

// handleErrorResponse maps an upstream error reply to a ProviderError
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	doc := gjson.ParseBytes(body)
	message := firstString(doc, "error.message", "error", "msg", "message", "detail")
	if message == "" {
		message = fmt.Sprintf("HTTP %d", statusCode)
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewProviderError(c.provider, "AUTH_ERROR", message, statusCode, false, nil)
	case statusCode == http.StatusPaymentRequired:
		return NewProviderError(c.provider, "INSUFFICIENT_QUOTA", message, statusCode, false, nil)
	case statusCode == http.StatusTooManyRequests:
		return NewProviderError(c.provider, "RATE_LIMIT", message, statusCode, true, nil)
	case statusCode >= 500:
		return NewProviderError(c.provider, "SERVER_ERROR", message, statusCode, true, nil)
	default:
		return NewProviderError(c.provider, "BAD_REQUEST", message, statusCode, false, nil)
	}
}

// firstString returns the first non-empty string among paths
func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// PollTask calls check every interval until it reports done, fails, or ctx ends
func PollTask(ctx context.Context, interval time.Duration, check func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
