// Package quotes implements the Quote Router: a stateless fan-out that
// hands every venue quote to the Detection Engine synchronously, and
// separately batches it for persistence.
package quotes

import (
	"sync"
	"time"

	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

// Detector receives each routed quote synchronously. Implementations must
// not perform I/O inline — OnQuote runs on the adapter's read goroutine.
type Detector interface {
	OnQuote(q *models.Quote)
}

// Persister flushes a batch of quotes to durable storage.
type Persister interface {
	InsertQuotesBatch(quotes []models.Quote) error
}

type bufferKey struct {
	Venue  string
	Symbol string
}

// Router fans out incoming quotes to the Detection Engine and maintains a
// bounded, time-gated buffer for batched persistence. It holds no state
// about symbols or venues beyond what is needed to gate and batch writes;
// all detection state lives in the Detection Engine.
type Router struct {
	detector  Detector
	persister Persister

	minInterval   time.Duration // per-(venue,symbol) minimum gap between persisted quotes
	batchSize     int
	batchInterval time.Duration

	mu        sync.Mutex
	buffer    []models.Quote
	lastWrite map[bufferKey]time.Time
	lastFlush time.Time

	logger *utils.Logger
}

// NewRouter builds a Router. minInterval, batchSize and batchInterval come
// from persistence config (batch_size, batch_interval_seconds).
func NewRouter(detector Detector, persister Persister, minInterval time.Duration, batchSize int, batchInterval time.Duration) *Router {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Router{
		detector:      detector,
		persister:     persister,
		minInterval:   minInterval,
		batchSize:     batchSize,
		batchInterval: batchInterval,
		lastWrite:     make(map[bufferKey]time.Time),
		lastFlush:     time.Now(),
		logger:        utils.L().WithComponent("quote_router"),
	}
}

// Route hands q to the Detection Engine synchronously and, subject to the
// per-(venue,symbol) minimum interval, appends it to the persistence
// buffer. A full batch or an elapsed flush interval triggers an immediate
// flush, which runs inline in flushLocked: the calling goroutine waits
// for the bulk insert. A failed flush is logged and the batch dropped
// rather than retried (§7).
func (r *Router) Route(q *models.Quote) {
	if r.detector != nil {
		r.detector.OnQuote(q)
	}
	r.bufferForPersistence(q)
}

func (r *Router) bufferForPersistence(q *models.Quote) {
	key := bufferKey{Venue: q.Venue, Symbol: q.Symbol.String()}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.lastWrite[key]; ok && now.Sub(last) < r.minInterval {
		return
	}
	r.lastWrite[key] = now
	r.buffer = append(r.buffer, *q)

	if len(r.buffer) >= r.batchSize || now.Sub(r.lastFlush) >= r.batchInterval {
		r.flushLocked()
	}
}

// flushLocked must be called with mu held.
func (r *Router) flushLocked() {
	r.lastFlush = time.Now()
	if len(r.buffer) == 0 {
		return
	}
	batch := r.buffer
	r.buffer = nil

	if r.persister == nil {
		return
	}
	if err := r.persister.InsertQuotesBatch(batch); err != nil {
		r.logger.Warn("quote batch flush failed, batch dropped",
			utils.Err(err), utils.Int("batch_size", len(batch)))
	}
}

// FlushNow forces an immediate flush of any buffered quotes, used on
// graceful shutdown so the last partial batch is not silently lost.
func (r *Router) FlushNow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// BufferedCount returns the number of quotes currently buffered, for
// metrics/health reporting.
func (r *Router) BufferedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}
