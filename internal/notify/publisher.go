// Package notify implements the outbound notification publisher (§6): a
// fire-and-forget call to a downstream channel with retry/backoff on
// delivery failure.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/solwatch/sentinel/internal/apperrors"
	"github.com/solwatch/sentinel/internal/model"
)

// Payload is the structured body sent to the notification sink.
type Payload struct {
	Token         string         `json:"token"`
	Symbol        string         `json:"symbol"`
	Conviction    int            `json:"conviction"`
	Breakdown     map[string]int `json:"breakdown"`
	TriggerSource model.TriggerSource `json:"trigger_source"`
	TopEvidence   []string       `json:"top_evidence"`
	ExplorerLinks []string       `json:"explorer_links"`
	EmittedAt     time.Time      `json:"emitted_at"`
}

// Publisher delivers a signal payload to the downstream notification
// channel.
type Publisher interface {
	Publish(ctx context.Context, payload Payload) error
}

// HTTPPublisher posts the payload to a configured webhook URL, retrying
// with exponential backoff on failure (§6: "retried up to 3 times").
type HTTPPublisher struct {
	url        string
	client     *http.Client
	maxRetries int
	logger     zerolog.Logger
}

// NewHTTPPublisher builds an HTTPPublisher targeting the given URL.
func NewHTTPPublisher(url string, timeout time.Duration, maxRetries int, logger zerolog.Logger) *HTTPPublisher {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &HTTPPublisher{
		url:        url,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     logger.With().Str("component", "notify_publisher").Logger(),
	}
}

// Publish attempts delivery, retrying with exponential backoff
// (1s, 2s, 4s, ...) up to maxRetries. A permanent failure is returned as
// apperrors.ErrPublishFailure — the caller (tracker) marks the signal
// record accordingly but the token state remains EMITTED regardless.
func (p *HTTPPublisher) Publish(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperrors.Wrap(payload.Token, apperrors.ErrPublishFailure)
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			p.logger.Warn().Err(err).Str("token", payload.Token).Int("attempt", attempt+1).Msg("publish attempt failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("publisher returned status %d", resp.StatusCode)
		p.logger.Warn().Str("token", payload.Token).Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("publish attempt rejected")
	}

	p.logger.Error().Err(lastErr).Str("token", payload.Token).Msg("publish permanently failed after retries")
	return apperrors.Wrap(payload.Token, apperrors.ErrPublishFailure)
}
