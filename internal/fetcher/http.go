package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "datafeed/1.0"
	maxResponseBytes = 4 << 20
)

// restClient performs rate limited JSON GET requests for one source.
type restClient struct {
	source    string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

func newRESTClient(source string, opts HTTPOptions) *restClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), 1)
	}

	return &restClient{
		source:    source,
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		userAgent: ua,
	}
}

func (c *restClient) getJSON(ctx context.Context, endpoint string, header http.Header, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: wait for rate limiter: %w", c.source, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.source, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request: %w", c.source, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.source, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w (HTTP 429)", c.source, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(c.source, resp.StatusCode, payload)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.source, err)
	}
	return nil
}

func parseHTTPError(source string, status int, payload []byte) error {
	var apiErr struct {
		Message     string `json:"message"`
		Msg         string `json:"msg"`
		Description string `json:"description"`
		Status      struct {
			ErrorMessage string `json:"error_message"`
		} `json:"status"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		for _, msg := range []string{apiErr.Message, apiErr.Msg, apiErr.Description, apiErr.Status.ErrorMessage} {
			if msg != "" {
				return fmt.Errorf("%s: %w %d: %s", source, ErrUnexpectedStatus, status, msg)
			}
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s: %w %d: %s", source, ErrUnexpectedStatus, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s: %w %d", source, ErrUnexpectedStatus, status)
}
