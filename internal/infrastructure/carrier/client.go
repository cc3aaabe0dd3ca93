// Package carrier implements one ports.CarrierAdapter per supported carrier.
// Adapters perform exactly one request per Fetch and never retry; throttling
// and timeouts are reported as domain errors for the scheduler to act on.
package carrier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

const (
	maxPayloadBytes = 4 << 20
	userAgent       = "tracking-sync/1.0"
)

// Config is the connection setting of one carrier.
type Config struct {
	Carrier  domain.Carrier
	Endpoint string
	APIKey   string
	Enabled  bool
}

// requester issues one HTTP request and classifies the outcome.
type requester struct {
	carrier domain.Carrier
	client  *http.Client
	now     func() time.Time
}

func newRequester(carrier domain.Carrier, client *http.Client) requester {
	if client == nil {
		client = http.DefaultClient
	}
	return requester{carrier: carrier, client: client, now: time.Now}
}

func (r requester) do(ctx context.Context, req *http.Request) ([]byte, error) {
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%s adapter: %w", r.carrier, domain.ErrTimeout)
		}
		return nil, fmt.Errorf("%s adapter: request: %w", r.carrier, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%s adapter: %w", r.carrier, domain.ErrTimeout)
		}
		return nil, fmt.Errorf("%s adapter: read body: %w", r.carrier, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.AdapterRateLimitError{
			Carrier:    r.carrier,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), r.now()),
		}
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s adapter: %w", r.carrier, domain.ErrTrackingNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%s adapter: unexpected status %d: %s", r.carrier, resp.StatusCode, snippet(body))
	}
	return body, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// parseRetryAfter accepts both forms allowed by RFC 9110: delay-seconds and
// an HTTP-date. Unknown values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func parseError(carrier domain.Carrier, reason string, err error) error {
	return &domain.AdapterParseError{Carrier: carrier, Reason: reason, Err: err}
}
