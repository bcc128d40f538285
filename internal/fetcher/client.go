package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"spacewatch/internal/metrics"
	"spacewatch/internal/version"
)

const maxBodyBytes = 8 << 20

// httpSource performs breaker-guarded, time-bounded JSON GETs.
type httpSource struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

func newHTTPSource(timeout time.Duration, userAgent string, logger zerolog.Logger) *httpSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	return &httpSource{
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		userAgent: userAgent,
		logger:    logger,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

func (h *httpSource) breaker(source string) *gobreaker.CircuitBreaker[[]byte] {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.breakers[source]
	if !ok {
		cb = newBreaker(source, h.logger)
		h.breakers[source] = cb
	}
	return cb
}

// getJSON fetches url through the named source's breaker and decodes into out.
func (h *httpSource) getJSON(ctx context.Context, source, url string, out any) error {
	body, err := h.breaker(source).Execute(func() ([]byte, error) {
		return h.get(ctx, url)
	})
	metrics.UpstreamRequests.WithLabelValues(source, outcomeLabel(err)).Inc()
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", source, err)
	}
	return nil
}

func (h *httpSource) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.userAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error.Message != "" {
			return fmt.Errorf("upstream error (%d): %s", status, apiErr.Error.Message)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("upstream error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 && len(payload) < 512 {
		return fmt.Errorf("upstream error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("upstream error (%d)", status)
}
