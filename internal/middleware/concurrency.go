package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ──────────────────────────────────────────────────────────────
// Semaphore — per-source concurrency limiting
// ──────────────────────────────────────────────────────────────

// Semaphore provides bounded concurrency control per key (ingress source).
// This prevents one noisy webhook source from starving the others' share
// of tracker worker capacity.
type Semaphore struct {
	mu    sync.Mutex
	semas map[string]chan struct{}
	limit int
}

// NewSemaphore creates a new per-key semaphore with the given concurrency limit.
func NewSemaphore(limit int) *Semaphore {
	if limit <= 0 {
		limit = 100
	}
	return &Semaphore{
		semas: make(map[string]chan struct{}),
		limit: limit,
	}
}

// Acquire attempts to acquire a slot for the given key.
// Returns true if acquired, false if the limit is reached before timeout.
// The caller must call Release when done.
func (s *Semaphore) Acquire(key string, timeout time.Duration) bool {
	s.mu.Lock()
	ch, ok := s.semas[key]
	if !ok {
		ch = make(chan struct{}, s.limit)
		s.semas[key] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Release releases a slot for the given key.
func (s *Semaphore) Release(key string) {
	s.mu.Lock()
	ch, ok := s.semas[key]
	s.mu.Unlock()

	if ok {
		select {
		case <-ch:
		default:
		}
	}
}

// ActiveCount returns the number of active requests for a key.
func (s *Semaphore) ActiveCount(key string) int {
	s.mu.Lock()
	ch, ok := s.semas[key]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return len(ch)
}

// ──────────────────────────────────────────────────────────────
// Deduplicator — collapse duplicate webhook deliveries
// ──────────────────────────────────────────────────────────────

// Deduplicator keeps concurrent copies of the same webhook delivery
// (providers retry on anything but a 2xx) from being processed in parallel
// by fingerprinting the delivery ID and collapsing them into a single
// result. An entry is removed on Complete, so a copy arriving after the
// first one finished is processed again.
type Deduplicator struct {
	mu       sync.Mutex
	inflight map[string]*inflightEntry
}

type inflightEntry struct {
	done    chan struct{}
	resp    []byte
	code    int
	headers http.Header
	err     error
}

// NewDeduplicator creates a new request deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		inflight: make(map[string]*inflightEntry),
	}
}

// Fingerprint generates a delivery fingerprint from source and delivery ID.
func Fingerprint(source, deliveryID string) string {
	h := sha256.Sum256([]byte(source + "|" + deliveryID))
	return hex.EncodeToString(h[:16])
}

// TryStart checks if an identical delivery is already in-flight.
// Returns (entry, isNew). If isNew is false, wait on entry.done.
func (d *Deduplicator) TryStart(fingerprint string) (*inflightEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, exists := d.inflight[fingerprint]; exists {
		return entry, false
	}

	entry := &inflightEntry{
		done: make(chan struct{}),
	}
	d.inflight[fingerprint] = entry
	return entry, true
}

// Complete marks a delivery as finished and removes it from tracking.
func (d *Deduplicator) Complete(fingerprint string, resp []byte, code int, headers http.Header, err error) {
	d.mu.Lock()
	entry, exists := d.inflight[fingerprint]
	delete(d.inflight, fingerprint)
	d.mu.Unlock()

	if exists {
		entry.resp = resp
		entry.code = code
		entry.headers = headers
		entry.err = err
		close(entry.done)
	}
}

// InFlightCount returns the number of in-flight deduplicated deliveries.
func (d *Deduplicator) InFlightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// ──────────────────────────────────────────────────────────────
// DeliveryDeduplicator — chi-compatible idempotent-delivery middleware
// ──────────────────────────────────────────────────────────────

// DeliveryDeduplicator wraps a Deduplicator as HTTP middleware: concurrent
// requests carrying the same delivery fingerprint are collapsed into one
// downstream call, with every duplicate replaying the first caller's
// response instead of re-dispatching. A retried delivery that arrives after
// the first one completed is dispatched again.
type DeliveryDeduplicator struct {
	dedup  *Deduplicator
	logger zerolog.Logger
}

// NewDeliveryDeduplicator builds a DeliveryDeduplicator.
func NewDeliveryDeduplicator(logger zerolog.Logger) *DeliveryDeduplicator {
	return &DeliveryDeduplicator{dedup: NewDeduplicator(), logger: logger}
}

// dedupRecorder is a minimal http.ResponseWriter that buffers a response so
// it can be replayed to collapsed duplicate deliveries.
type dedupRecorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newDedupRecorder() *dedupRecorder {
	return &dedupRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *dedupRecorder) Header() http.Header        { return r.header }
func (r *dedupRecorder) Write(b []byte) (int, error) { return r.body.Write(b) }
func (r *dedupRecorder) WriteHeader(code int)        { r.status = code }

// Middleware fingerprints each request on its source and an explicit
// X-Delivery-Id header if the upstream sends one, falling back to a hash of
// the body plus query string. The first delivery for a fingerprint runs
// the handler; duplicates arriving while it is in flight block on its
// response and replay it verbatim. Complete removes the fingerprint, so a
// duplicate arriving after that runs the handler again.
func (d *DeliveryDeduplicator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		deliveryID := r.Header.Get("X-Delivery-Id")
		if deliveryID == "" {
			payload := body
			if r.URL.RawQuery != "" {
				payload = append(append([]byte{}, body...), []byte("|"+r.URL.RawQuery)...)
			}
			sum := sha256.Sum256(payload)
			deliveryID = hex.EncodeToString(sum[:16])
		}
		fp := Fingerprint(extractSourceKey(r), deliveryID)

		entry, isNew := d.dedup.TryStart(fp)
		if !isNew {
			<-entry.done
			d.logger.Debug().Str("fingerprint", fp).Msg("duplicate delivery collapsed, replaying cached response")
			for k, vs := range entry.headers {
				w.Header()[k] = vs
			}
			w.WriteHeader(entry.code)
			_, _ = w.Write(entry.resp)
			return
		}

		rec := newDedupRecorder()
		next.ServeHTTP(rec, r)

		d.dedup.Complete(fp, rec.body.Bytes(), rec.status, rec.header, nil)

		for k, vs := range rec.header {
			w.Header()[k] = vs
		}
		w.WriteHeader(rec.status)
		_, _ = w.Write(rec.body.Bytes())
	})
}

// ──────────────────────────────────────────────────────────────
// AtomicCounter — thread-safe request tracking
// ──────────────────────────────────────────────────────────────

// AtomicCounter provides a thread-safe counter using atomic operations.
type AtomicCounter struct {
	value int64
}

func (c *AtomicCounter) Inc() int64   { return atomic.AddInt64(&c.value, 1) }
func (c *AtomicCounter) Add(n int64) int64 { return atomic.AddInt64(&c.value, n) }
func (c *AtomicCounter) Get() int64   { return atomic.LoadInt64(&c.value) }
func (c *AtomicCounter) Reset() int64 { return atomic.SwapInt64(&c.value, 0) }

// ──────────────────────────────────────────────────────────────
// ConcurrencyGuard — chi-compatible HTTP middleware
// ──────────────────────────────────────────────────────────────

// ConcurrencyGuard bounds how many ingress requests from the same source
// (kol-buy webhook, chat-mention webhook, graduation webhook) may be in
// flight at once, so one misbehaving upstream can't starve the others.
type ConcurrencyGuard struct {
	semaphore *Semaphore
	logger    zerolog.Logger
	timeout   time.Duration
	rejected  AtomicCounter
}

// NewConcurrencyGuard creates a new concurrency guard middleware.
func NewConcurrencyGuard(maxConcurrentPerSource int, timeout time.Duration, logger zerolog.Logger) *ConcurrencyGuard {
	return &ConcurrencyGuard{
		semaphore: NewSemaphore(maxConcurrentPerSource),
		logger:    logger,
		timeout:   timeout,
	}
}

// Middleware returns an http.Handler middleware that enforces per-source
// concurrency limits. If the source exceeds the limit, requests get a 429.
func (cg *ConcurrencyGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceKey := extractSourceKey(r)
		if sourceKey == "" {
			sourceKey = "default"
		}

		if !cg.semaphore.Acquire(sourceKey, cg.timeout) {
			cg.logger.Warn().
				Str("source", sourceKey).
				Int("active", cg.semaphore.ActiveCount(sourceKey)).
				Int64("rejected_total", cg.rejected.Inc()).
				Msg("concurrency limit reached — rejecting request")

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":{"type":"rate_limit","message":"too many concurrent requests for this source"}}`)
			return
		}
		defer cg.semaphore.Release(sourceKey)

		ctx := context.WithValue(r.Context(), concurrencyActiveKey, cg.semaphore.ActiveCount(sourceKey))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Stats returns current concurrency statistics.
func (cg *ConcurrencyGuard) Stats() map[string]int64 {
	return map[string]int64{
		"configured_limit": int64(cg.semaphore.limit),
		"rejected_total":   cg.rejected.Get(),
	}
}

const concurrencyActiveKey contextKey = "concurrency_active"

// extractSourceKey gets the ingress source identifier for concurrency
// bucketing: the X-Sentinel-Source header if present, otherwise the full
// request path (e.g. "/webhooks/kol-buy").
func extractSourceKey(r *http.Request) string {
	if src := r.Header.Get("X-Sentinel-Source"); src != "" {
		return src
	}
	return r.URL.Path
}

// GetConcurrencyActive retrieves the active concurrent request count
// from the request context.
func GetConcurrencyActive(ctx context.Context) int {
	if v, ok := ctx.Value(concurrencyActiveKey).(int); ok {
		return v
	}
	return 0
}
