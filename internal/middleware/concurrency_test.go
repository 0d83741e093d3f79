package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDeliveryDeduplicatorCollapsesConcurrentDuplicates(t *testing.T) {
	log := zerolog.New(io.Discard)
	dd := NewDeliveryDeduplicator(log)

	var calls int64
	release := make(chan struct{})
	handler := dd.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		<-release
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))

	const n = 5
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/webhooks/kol-buy", nil)
			req.Header.Set("X-Delivery-Id", "same-delivery")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			results[i] = rec.Code
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected handler invoked once, got %d", got)
	}
	for i, code := range results {
		if code != http.StatusOK {
			t.Errorf("result %d: expected 200, got %d", i, code)
		}
	}
}

func TestDeliveryDeduplicatorDistinctFingerprintsNotCollapsed(t *testing.T) {
	log := zerolog.New(io.Discard)
	dd := NewDeliveryDeduplicator(log)

	var calls int64
	handler := dd.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))

	for _, id := range []string{"a", "b"} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/kol-buy", nil)
		req.Header.Set("X-Delivery-Id", id)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("expected handler invoked twice for distinct deliveries, got %d", got)
	}
}

func TestConcurrencyGuardRejectsOverLimitAndCountsRejections(t *testing.T) {
	log := zerolog.New(io.Discard)
	cg := NewConcurrencyGuard(1, 10*time.Millisecond, log)

	block := make(chan struct{})
	handler := cg.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))

	go func() {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/kol-buy", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}()
	time.Sleep(5 * time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/kol-buy", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	close(block)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 when over limit, got %d", rec.Code)
	}
	if got := cg.Stats()["rejected_total"]; got != 1 {
		t.Errorf("expected rejected_total 1, got %d", got)
	}
}

func TestAtomicCounter(t *testing.T) {
	var c AtomicCounter
	c.Inc()
	c.Add(4)
	if got := c.Get(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := c.Reset(); got != 5 {
		t.Fatalf("expected Reset to return prior value 5, got %d", got)
	}
	if got := c.Get(); got != 0 {
		t.Fatalf("expected 0 after reset, got %d", got)
	}
}
