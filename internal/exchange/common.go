package exchange

import (
	"context"
	"net/http"

	"spotarb/internal/models"
	"spotarb/pkg/ratelimit"
	"spotarb/pkg/retry"
)

// syntheticOffset is the fixed spread applied when a venue's top-of-book
// message carries no explicit bid/ask, only a last-trade price — the
// source uses ±0.01% (§4.1).
const syntheticOffset = 0.0001

// synthesizeQuote derives bid/ask symmetrically around last when the
// venue omits explicit best bid/ask.
func synthesizeQuote(last float64) (bid, ask float64) {
	return last * (1 - syntheticOffset), last * (1 + syntheticOffset)
}

// batchSymbols splits symbols into chunks no larger than size, for
// per-connection subscription batching (§4.1 observes 50-200
// symbols/connection depending on venue).
func batchSymbols(symbols []string, size int) [][]string {
	if size <= 0 {
		size = 100
	}
	var batches [][]string
	for size < len(symbols) {
		symbols, batches = symbols[size:], append(batches, symbols[:size:size])
	}
	if len(symbols) > 0 {
		batches = append(batches, symbols)
	}
	return batches
}

// sendQuote delivers q on ch, respecting ctx cancellation so a stream
// shutdown never leaves a publishing goroutine blocked forever. The
// detection path never drops quotes (§9), so this never selects a
// default/drop branch.
func sendQuote(ctx context.Context, ch chan<- *models.Quote, q *models.Quote) {
	select {
	case ch <- q:
	case <-ctx.Done():
	}
}

// quoteChanBuffer sizes every adapter's outbound quote channel. Generous
// enough to absorb a burst across a batch of symbols without the
// publishing goroutine blocking on a slow consumer under normal load;
// sustained back-pressure is a Router/Detection problem, not something
// the adapter papers over by dropping.
const quoteChanBuffer = 4096

// feeCache is the per-adapter taker/maker fee cache every venue keeps,
// refreshed lazily and read by the Detection Engine's FeeProvider seam
// without blocking the hot path on a REST round trip per quote (§4.1,
// §9 "shared exchange fee dictionary... become per-adapter caches").
type feeCache struct {
	fees map[string]models.FeeSchedule
}

func newFeeCache() *feeCache {
	return &feeCache{fees: make(map[string]models.FeeSchedule)}
}

func (c *feeCache) get(symbol string) (models.FeeSchedule, bool) {
	fs, ok := c.fees[symbol]
	return fs, ok
}

func (c *feeCache) put(fs models.FeeSchedule) {
	c.fees[fs.Symbol] = fs
}

// venueLimiter builds the per-venue token bucket gating REST calls and
// subscription batches (§4.1 "small inter-batch delay to respect rate
// caps"; SPEC_FULL §2.2). Rates match pkg/ratelimit's own doc comment on
// the observed per-venue limits.
func venueLimiter(rate, burst float64) *ratelimit.RateLimiter {
	return ratelimit.NewRateLimiter(rate, burst)
}

// doHTTPWithRetry gates req on limiter, then executes it via client with
// transient-network retry (§7 "Transient network: retry with backoff;
// never fatal to the process"). Only dial/TLS/timeout failures that never
// reached the venue are retried; a response that round-tripped — even
// one carrying a venue error code in its body — is returned as-is for the
// caller to classify, never retried here. req.GetBody (set automatically
// by http.NewRequestWithContext for string/bytes/nil bodies, which is all
// six adapters ever pass) is used to rebuild the body before each
// attempt, since the first attempt already drains it.
func doHTTPWithRetry(ctx context.Context, client *http.Client, limiter *ratelimit.RateLimiter, req *http.Request) (*http.Response, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var resp *http.Response
	err := retry.Do(ctx, func() error {
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return retry.Permanent(err)
			}
			req.Body = body
		}
		r, doErr := client.Do(req)
		if doErr != nil {
			return doErr
		}
		resp = r
		return nil
	}, retry.NetworkConfig())
	if err != nil {
		return nil, err
	}
	return resp, nil
}
