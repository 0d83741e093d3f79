// Package ingress implements the Ingress Adapters (§4.E): chi HTTP
// handlers that parse an inbound transport, validate token-address
// shape, and dispatch a uniform internal event to the tracker, whose
// Dispatch refuses ignored tokens with an error the handlers absorb.
// Each handler is a thin translation layer — all
// lifecycle and scoring logic lives in internal/tracker.
package ingress

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/solwatch/sentinel/internal/apperrors"
	"github.com/solwatch/sentinel/internal/middleware"
	"github.com/solwatch/sentinel/internal/model"
)

// Handlers bundles the webhook and status endpoints. dispatch is
// typically tracker.Tracker.Dispatch adapted to this signature — kept as
// a plain func type rather than an interface import to avoid a cycle
// with the tracker's status reporting and keep the adapters trivially
// testable with a fake.
type Handlers struct {
	dispatch  func(r *http.Request, event interface{}) error
	evidence  func(token string) (mentions, groups int)
	status    StatusProvider
	logger    zerolog.Logger
}

// StatusProvider supplies the data behind GET /status.
type StatusProvider interface {
	Status() StatusView
}

// StatusView is the JSON shape returned by GET /status.
type StatusView struct {
	Active       int            `json:"active"`
	Cooling      int            `json:"cooling"`
	EmittedToday int            `json:"emitted_today"`
	CacheSizes   map[string]int `json:"cache_sizes"`
	MedianScore  float64        `json:"median_score_last_50"`
}

// New builds Handlers. dispatch is typically tracker.Tracker.Dispatch
// adapted to the simpler signature used here; evidence reports a
// token's cumulative mention/group counts in the chat-mention TTL window
// for the chat-mention webhook's response body (§6).
func New(
	dispatch func(r *http.Request, event interface{}) error,
	evidence func(token string) (mentions, groups int),
	status StatusProvider,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		dispatch: dispatch,
		evidence: evidence,
		status:   status,
		logger:   logger.With().Str("component", "ingress").Logger(),
	}
}

type kolBuyPayload struct {
	Wallet      string  `json:"wallet"`
	Token       string  `json:"token"`
	Kind        string  `json:"kind"`
	Timestamp   int64   `json:"ts"`
	USDNotional float64 `json:"notional_usd"`
}

// KOLBuy handles POST /webhooks/kol-buy — body is an array of transaction
// summaries (§6). Always responds 200/success to satisfy the upstream
// delivery contract, absorbing InvalidInput/IgnoredToken per §7.
func (h *Handlers) KOLBuy(w http.ResponseWriter, r *http.Request) {
	var batch []kolBuyPayload
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.logger.Debug().Err(err).Msg("kol-buy payload decode failed, absorbed")
		writeSuccess(w)
		return
	}

	for _, tx := range batch {
		if !validMint(tx.Token) || tx.Wallet == "" {
			continue
		}
		kind := model.TxBuy
		if tx.Kind == "sell" || tx.Kind == "SELL" {
			kind = model.TxSell
		}
		ts := time.Unix(tx.Timestamp, 0)
		if tx.Timestamp == 0 {
			ts = time.Now()
		}

		event := model.KOLBuyEvent{
			Token:       tx.Token,
			Wallet:      tx.Wallet,
			Kind:        kind,
			Timestamp:   ts,
			USDNotional: tx.USDNotional,
		}
		if err := h.dispatch(r, event); err != nil {
			h.logAbsorbed(r, tx.Token, err)
		}
	}
	writeSuccess(w)
}

// ChatMention handles GET /webhooks/chat-mention?token=&group=&text=.
func (h *Handlers) ChatMention(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	group := r.URL.Query().Get("group")
	text := r.URL.Query().Get("text")

	if !validMint(token) || group == "" {
		h.logger.Debug().Str("token", token).Msg("chat-mention rejected: invalid mint or missing group")
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "received", "token": token})
		return
	}

	event := model.ChatMentionEvent{
		Token:     token,
		Group:     group,
		Text:      text,
		Timestamp: time.Now(),
	}
	if err := h.dispatch(r, event); err != nil {
		h.logAbsorbed(r, token, err)
	}

	mentions, groups := 0, 0
	if h.evidence != nil {
		mentions, groups = h.evidence(token)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "received",
		"token":    token,
		"mentions": mentions,
		"groups":   groups,
	})
}

type graduationPayload struct {
	Token     string `json:"token"`
	Timestamp int64  `json:"ts"`
}

// Graduation handles POST /webhooks/graduation — same shape as KOL buy,
// marks a token post-graduation (§6: "switches thresholds").
func (h *Handlers) Graduation(w http.ResponseWriter, r *http.Request) {
	var batch []graduationPayload
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.logger.Debug().Err(err).Msg("graduation payload decode failed, absorbed")
		writeSuccess(w)
		return
	}

	for _, g := range batch {
		if !validMint(g.Token) {
			continue
		}
		ts := time.Unix(g.Timestamp, 0)
		if g.Timestamp == 0 {
			ts = time.Now()
		}
		event := model.GraduationEvent{Token: g.Token, Timestamp: ts}
		if err := h.dispatch(r, event); err != nil {
			h.logAbsorbed(r, g.Token, err)
		}
	}
	writeSuccess(w)
}

// Status handles GET /status.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

func (h *Handlers) logAbsorbed(r *http.Request, token string, err error) {
	switch {
	case apperrors.IsKind(err, apperrors.ErrIgnoredToken):
		h.logger.Debug().Str("token", token).Msg("ignored token, absorbed at ingress")
	case apperrors.IsKind(err, apperrors.ErrInvalidInput):
		h.logger.Debug().Str("token", token).Msg("invalid input, absorbed at ingress")
	default:
		h.logger.Warn().Err(err).Str("token", token).
			Int("concurrency_active", middleware.GetConcurrencyActive(r.Context())).
			Msg("dispatch failed")
	}
}

func validMint(token string) bool {
	if len(token) < 32 || len(token) > 44 {
		return false
	}
	_, err := solana.PublicKeyFromBase58(token)
	return err == nil
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
