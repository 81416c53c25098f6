package evm

import (
	"net/http"

	"golang.org/x/time/rate"
)

// limitedTransport rate limits an http.RoundTripper. Public RPC nodes throttle
// aggressively; one batch is one request, whatever its size.
type limitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func newLimitedTransport(next http.RoundTripper, rps, burst int) *limitedTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &limitedTransport{next: next, limiter: rate.NewLimiter(limit, max(burst, 1))}
}

// RoundTrip waits for a token, or gives up when the request context would
// expire first.
func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
