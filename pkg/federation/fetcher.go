package federation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Fetcher downloads remote entries and module chunks with retry and
// exponential backoff.
type Fetcher struct {
	client  *http.Client
	logger  *zap.Logger
	metrics *Metrics

	// Retry configuration
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	jitterFactor float64

	maxBody int64
}

// NewFetcher creates a fetcher. A nil client uses http.DefaultClient.
func NewFetcher(client *http.Client, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Fetcher{
		client:       client,
		logger:       logger,
		maxRetries:   3,
		baseDelay:    100 * time.Millisecond,
		maxDelay:     2 * time.Second,
		jitterFactor: 0.2,
		maxBody:      1 << 20,
	}
}

// ConfigureRetry sets retry parameters. maxRetries counts total attempts.
func (f *Fetcher) ConfigureRetry(maxRetries int, baseDelay, maxDelay time.Duration) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	f.maxRetries = maxRetries
	f.baseDelay = baseDelay
	f.maxDelay = maxDelay
}

// SetMaxBody caps the accepted response size in bytes.
func (f *Fetcher) SetMaxBody(n int64) {
	if n > 0 {
		f.maxBody = n
	}
}

// Fetch GETs url and returns the body, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < f.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		body, err := f.get(ctx, url)
		if err == nil {
			return body, nil
		}
		if !f.isRetryableError(ctx, err) {
			return nil, err
		}
		lastErr = err

		f.logger.Debug("Fetch failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < f.maxRetries-1 {
			if f.metrics != nil {
				f.metrics.RetryAttempts.Inc()
			}
			select {
			case <-time.After(f.calculateBackoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("all %d attempts failed: %w", f.maxRetries, lastErr)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}

var errBodyTooLarge = errors.New("response exceeds size limit")

// calculateBackoff returns baseDelay * 2^attempt capped at maxDelay, with jitter.
func (f *Fetcher) calculateBackoff(attempt int) time.Duration {
	delay := float64(f.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(f.maxDelay) {
		delay = float64(f.maxDelay)
	}

	jitter := delay * f.jitterFactor * (2*rand.Float64() - 1)
	delay += jitter

	if delay < 0 {
		delay = float64(f.baseDelay)
	}
	return time.Duration(delay)
}

// isRetryableError decides whether another attempt could succeed.
func (f *Fetcher) isRetryableError(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, errBodyTooLarge) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	// Transport errors (refused, reset, DNS) are worth another attempt.
	return true
}
