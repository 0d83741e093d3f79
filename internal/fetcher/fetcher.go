// Package fetcher implements the Token Metadata Fetcher (§4.A): a
// stateless façade over one or more remote metadata providers that
// produces a Snapshot for a token mint, with partial-failure degradation,
// concurrent-call coalescing, and outbound rate limiting.
package fetcher

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/solwatch/sentinel/internal/apperrors"
	"github.com/solwatch/sentinel/internal/model"
)

// Provider is a single remote metadata source. Implementations must never
// return an error for ordinary field-level gaps — only for conditions
// that make the whole call unusable (see Fetcher.fetchOne).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, token string, includeHolders bool) (*model.Snapshot, error)
}

// Fetcher coalesces concurrent calls for the same token into one outbound
// request (singleflight, per §4.A: "sub-second window"), rate-limits
// outbound calls with a shared token bucket (§5), and degrades to a
// partial snapshot rather than propagating provider errors.
type Fetcher struct {
	providers []Provider
	limiter   *rate.Limiter
	timeout   time.Duration

	group singleflight.Group
}

// New builds a Fetcher over the given providers. rps/burst configure the
// shared outbound rate limiter; timeout bounds every provider call.
func New(providers []Provider, rps float64, burst int, timeout time.Duration) *Fetcher {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &Fetcher{
		providers: providers,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		timeout:   timeout,
	}
}

// FetchSnapshot returns a Snapshot for the token, coalescing concurrent
// calls for the same token key (§4.A). On total provider failure it
// returns a synthetic zero-quality, stale Snapshot rather than an error.
func (f *Fetcher) FetchSnapshot(ctx context.Context, token string, includeHolders bool) (*model.Snapshot, error) {
	key := token
	if includeHolders {
		key += "|holders"
	}

	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		return f.fetchOne(ctx, token, includeHolders)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Snapshot), nil
}

func (f *Fetcher) fetchOne(ctx context.Context, token string, includeHolders bool) (*model.Snapshot, error) {
	if len(f.providers) == 0 {
		return staleSnapshot(token), nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Wrap(token, apperrors.ErrTransientFetch)
	}

	var best *model.Snapshot
	anyResponded := false

	for _, p := range f.providers {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		snap, err := p.Fetch(callCtx, token, includeHolders)
		cancel()

		if err != nil {
			// Timeout/transient failure degrades to "field missing" —
			// never propagated as an exception (§4.A).
			continue
		}
		anyResponded = true
		if best == nil || snap.Quality > best.Quality {
			best = snap
		}
	}

	if !anyResponded || best == nil {
		return staleSnapshot(token), nil
	}

	best.FetchedAt = time.Now()
	return best, nil
}

func staleSnapshot(token string) *model.Snapshot {
	return &model.Snapshot{
		Token:     token,
		FetchedAt: time.Now(),
		Quality:   0,
		Stale:     true,
	}
}
