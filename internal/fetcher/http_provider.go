package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/solwatch/sentinel/internal/model"
)

// HTTPProvider adapts a single REST metadata provider (DEX aggregator,
// chain indexer) to the Provider interface.
type HTTPProvider struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewHTTPProvider builds an HTTPProvider against the given base URL.
func NewHTTPProvider(name, baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

// providerPayload mirrors the wire shape returned by the metadata provider.
// Fields are pointers where the provider may omit them — a nil field never
// fails the call; a nil numeric market field or bundle_size lowers the
// computed quality score.
type providerPayload struct {
	Symbol *string `json:"symbol"`

	PriceUSD     *float64 `json:"price_usd"`
	MarketCapUSD *float64 `json:"market_cap_usd"`

	LiquidityUSD *float64 `json:"liquidity_usd"`
	BaseReserve  *float64 `json:"base_reserve"`
	QuoteReserve *float64 `json:"quote_reserve"`

	Volume1h  *float64 `json:"volume_1h"`
	Volume6h  *float64 `json:"volume_6h"`
	Volume24h *float64 `json:"volume_24h"`

	Buys1h   *int `json:"buys_1h"`
	Sells1h  *int `json:"sells_1h"`
	Buys6h   *int `json:"buys_6h"`
	Sells6h  *int `json:"sells_6h"`
	Buys24h  *int `json:"buys_24h"`
	Sells24h *int `json:"sells_24h"`

	UniqueBuyerEstimate *int `json:"unique_buyer_estimate"`

	BondingCurvePct *float64 `json:"bonding_curve_pct"`
	Velocity        *float64 `json:"bonding_curve_velocity_pct_per_min"`
	Graduated       *bool    `json:"graduated"`

	HolderCount *int `json:"holder_count"`
	Top1Pct     *float64 `json:"top1_pct"`
	Top5Pct     *float64 `json:"top5_pct"`
	Top10Pct    *float64 `json:"top10_pct"`

	Website  *bool `json:"social_website"`
	Twitter  *bool `json:"social_twitter"`
	Telegram *bool `json:"social_telegram"`
	Discord  *bool `json:"social_discord"`
	Boosted  *bool `json:"boosted"`

	LPRemoved  *bool    `json:"rug_lp_removed"`
	Honeypot   *bool    `json:"rug_honeypot"`
	DevSold    *bool    `json:"rug_dev_sold"`
	DevSoldPct *float64 `json:"rug_dev_sold_pct"`
	RugScore   *float64 `json:"rug_score"`

	BundleDetected *bool `json:"bundle_detected"`
	BundleSize     *int  `json:"bundle_size"`

	PriceChange1hPct *float64 `json:"price_change_1h_pct"`
}

// Fetch calls the provider's REST endpoint and translates its payload into
// a Snapshot, computing a quality score from how many fields were present.
func (p *HTTPProvider) Fetch(ctx context.Context, token string, includeHolders bool) (*model.Snapshot, error) {
	u := fmt.Sprintf("%s/v1/tokens/%s/metrics?include_holders=%t", p.baseURL, url.PathEscape(token), includeHolders)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", p.name, resp.StatusCode)
	}

	var payload providerPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}

	return payload.toSnapshot(token, includeHolders), nil
}

func (payload providerPayload) toSnapshot(token string, includeHolders bool) *model.Snapshot {
	snap := &model.Snapshot{Token: token}
	if payload.Symbol != nil {
		snap.Symbol = *payload.Symbol
	}
	populated, total := 0, 0

	f := func(dst *float64, src *float64) {
		total++
		if src != nil {
			*dst = *src
			populated++
		}
	}
	i := func(dst *int, src *int) {
		total++
		if src != nil {
			*dst = *src
			populated++
		}
	}
	f(&snap.PriceUSD, payload.PriceUSD)
	f(&snap.MarketCapUSD, payload.MarketCapUSD)
	f(&snap.LiquidityUSD, payload.LiquidityUSD)
	f(&snap.BaseReserve, payload.BaseReserve)
	f(&snap.QuoteReserve, payload.QuoteReserve)
	f(&snap.Volume1h, payload.Volume1h)
	f(&snap.Volume6h, payload.Volume6h)
	f(&snap.Volume24h, payload.Volume24h)
	i(&snap.Buys1h, payload.Buys1h)
	i(&snap.Sells1h, payload.Sells1h)
	i(&snap.Buys6h, payload.Buys6h)
	i(&snap.Sells6h, payload.Sells6h)
	i(&snap.Buys24h, payload.Buys24h)
	i(&snap.Sells24h, payload.Sells24h)
	i(&snap.UniqueBuyerEstimate, payload.UniqueBuyerEstimate)
	f(&snap.BondingCurvePct, payload.BondingCurvePct)
	f(&snap.Velocity, payload.Velocity)
	i(&snap.HolderCount, payload.HolderCount)
	f(&snap.PriceChange1hPct, payload.PriceChange1hPct)
	f(&snap.RugRisk.DevSoldPct, payload.DevSoldPct)
	f(&snap.RugRisk.RugScore, payload.RugScore)

	if payload.Graduated != nil {
		snap.Graduated = *payload.Graduated
	}
	if payload.Website != nil {
		snap.Social.Website = *payload.Website
	}
	if payload.Twitter != nil {
		snap.Social.Twitter = *payload.Twitter
	}
	if payload.Telegram != nil {
		snap.Social.Telegram = *payload.Telegram
	}
	if payload.Discord != nil {
		snap.Social.Discord = *payload.Discord
	}
	if payload.Boosted != nil {
		snap.Boosted = *payload.Boosted
	}
	if payload.LPRemoved != nil {
		snap.RugRisk.LPRemoved = *payload.LPRemoved
	}
	if payload.Honeypot != nil {
		snap.RugRisk.Honeypot = *payload.Honeypot
	}
	if payload.DevSold != nil {
		snap.RugRisk.DevSold = *payload.DevSold
	}
	if payload.BundleDetected != nil {
		snap.Bundle.Detected = *payload.BundleDetected
	}
	if payload.BundleSize != nil {
		snap.Bundle.Size = *payload.BundleSize
		populated++
	}
	total++

	if includeHolders && payload.Top10Pct != nil {
		snap.Holders.Populated = true
		if payload.Top1Pct != nil {
			snap.Holders.Top1Pct = *payload.Top1Pct
		}
		if payload.Top5Pct != nil {
			snap.Holders.Top5Pct = *payload.Top5Pct
		}
		snap.Holders.Top10Pct = *payload.Top10Pct
	}

	if total == 0 {
		snap.Quality = 0
	} else {
		snap.Quality = (populated * 100) / total
	}
	return snap
}
