package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"MaterialsMonitor/internal/domain"
)

const userAgent = "MaterialsMonitor/1.0"

// maxResponseBytes caps upstream response bodies.
const maxResponseBytes = 8 << 20

// RateLimit bounds request rates against one upstream.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// client is the shared HTTP layer for all adapters: token-bucket rate
// limiting per feed, consistent headers, and FetchError classification.
type client struct {
	http *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newClient(httpClient *http.Client) *client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &client{http: httpClient, limiters: map[string]*rate.Limiter{}}
}

func (c *client) limiter(feedID string, limit RateLimit) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[feedID]; ok {
		return lim
	}
	rps := limit.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := limit.Burst
	if burst <= 0 {
		burst = 5
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	c.limiters[feedID] = lim
	return lim
}

// get fetches one URL on behalf of a feed. Transport, auth, and non-2xx
// failures come back as *domain.FetchError (retryable next run).
func (c *client) get(ctx context.Context, feedID, url, authToken string, limit RateLimit, accept string) ([]byte, error) {
	if err := c.limiter(feedID, limit).Wait(ctx); err != nil {
		return nil, &domain.FetchError{SourceID: feedID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.FetchError{SourceID: feedID, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.FetchError{SourceID: feedID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FetchError{
			SourceID: feedID,
			Err:      fmt.Errorf("upstream returned %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.FetchError{SourceID: feedID, Err: err}
	}
	return body, nil
}

// hashPayload is the RawDocument content hash.
func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
