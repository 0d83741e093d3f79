package ingress

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/solwatch/sentinel/internal/apperrors"
	"github.com/solwatch/sentinel/internal/model"
)

const validMintA = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

type fakeStatus struct{}

func (fakeStatus) Status() StatusView { return StatusView{Active: 2, Cooling: 1} }

func newTestHandlers(dispatch func(r *http.Request, event interface{}) error) *Handlers {
	log := zerolog.New(io.Discard)
	evidenceFn := func(token string) (int, int) { return 3, 2 }
	return New(dispatch, evidenceFn, fakeStatus{}, log)
}

func TestKOLBuyValidEventDispatched(t *testing.T) {
	var got []interface{}
	h := newTestHandlers(func(r *http.Request, event interface{}) error {
		got = append(got, event)
		return nil
	})

	body, _ := json.Marshal([]map[string]interface{}{
		{"wallet": "wallet1", "token": validMintA, "kind": "buy", "ts": 1700000000},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/kol-buy", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	h.KOLBuy(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", len(got))
	}
	ev, ok := got[0].(model.KOLBuyEvent)
	if !ok || ev.Token != validMintA || ev.Wallet != "wallet1" {
		t.Fatalf("unexpected event: %#v", got[0])
	}
}

func TestKOLBuyFiltersInvalidMint(t *testing.T) {
	var got []interface{}
	h := newTestHandlers(func(r *http.Request, event interface{}) error {
		got = append(got, event)
		return nil
	})

	body, _ := json.Marshal([]map[string]interface{}{
		{"wallet": "wallet1", "token": "not-a-mint", "kind": "buy"},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/kol-buy", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	h.KOLBuy(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 even for invalid mint, got %d", rw.Code)
	}
	if len(got) != 0 {
		t.Fatalf("expected invalid mint to be filtered before dispatch, got %d events", len(got))
	}
}

func TestKOLBuyMalformedBodyAbsorbed(t *testing.T) {
	h := newTestHandlers(func(r *http.Request, event interface{}) error { return nil })

	req := httptest.NewRequest(http.MethodPost, "/webhooks/kol-buy", bytes.NewReader([]byte("not json")))
	rw := httptest.NewRecorder()
	h.KOLBuy(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 for malformed body, got %d", rw.Code)
	}
	var resp map[string]string
	_ = json.Unmarshal(rw.Body.Bytes(), &resp)
	if resp["status"] != "success" {
		t.Fatalf("expected status success, got %v", resp)
	}
}

func TestChatMentionReturnsEvidenceCounts(t *testing.T) {
	h := newTestHandlers(func(r *http.Request, event interface{}) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/webhooks/chat-mention?token="+validMintA+"&group=g1&text=buy+now", nil)
	rw := httptest.NewRecorder()
	h.ChatMention(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp map[string]interface{}
	_ = json.Unmarshal(rw.Body.Bytes(), &resp)
	if resp["status"] != "received" {
		t.Fatalf("expected status received, got %v", resp)
	}
	if resp["mentions"].(float64) != 3 || resp["groups"].(float64) != 2 {
		t.Fatalf("expected evidence counts (3,2), got %v", resp)
	}
}

func TestChatMentionMissingGroupStillReturns200(t *testing.T) {
	h := newTestHandlers(func(r *http.Request, event interface{}) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/webhooks/chat-mention?token="+validMintA, nil)
	rw := httptest.NewRecorder()
	h.ChatMention(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 even without a group, got %d", rw.Code)
	}
}

func TestGraduationDispatchesValidEntries(t *testing.T) {
	var got []interface{}
	h := newTestHandlers(func(r *http.Request, event interface{}) error {
		got = append(got, event)
		return nil
	})

	body, _ := json.Marshal([]map[string]interface{}{{"token": validMintA, "ts": 1700000000}})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/graduation", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	h.Graduation(rw, req)

	if rw.Code != http.StatusOK || len(got) != 1 {
		t.Fatalf("expected 200 and 1 dispatched event, got %d code, %d events", rw.Code, len(got))
	}
	if _, ok := got[0].(model.GraduationEvent); !ok {
		t.Fatalf("expected a GraduationEvent, got %#v", got[0])
	}
}

func TestStatusHandlerReturnsProviderView(t *testing.T) {
	h := newTestHandlers(func(r *http.Request, event interface{}) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rw := httptest.NewRecorder()
	h.Status(rw, req)

	var view StatusView
	_ = json.Unmarshal(rw.Body.Bytes(), &view)
	if view.Active != 2 || view.Cooling != 1 {
		t.Fatalf("expected status view from provider, got %#v", view)
	}
}

func TestDispatchErrorsAreAbsorbed(t *testing.T) {
	h := newTestHandlers(func(r *http.Request, event interface{}) error {
		return apperrors.Wrap("tok", apperrors.ErrIgnoredToken)
	})

	body, _ := json.Marshal([]map[string]interface{}{{"wallet": "w1", "token": validMintA, "kind": "buy"}})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/kol-buy", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	h.KOLBuy(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 even when dispatch returns ErrIgnoredToken, got %d", rw.Code)
	}
}
