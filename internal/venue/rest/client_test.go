package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mv-hedge-bot/internal/config"
	"mv-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	t.Setenv("TEST_VENUE_KEY", "secret")
	client, err := New(config.VenueConfig{
		Name:          "alpha",
		BaseURL:       serverURL,
		Timeout:       5 * time.Second,
		APIKeyEnv:     "TEST_VENUE_KEY",
		PriceDecimals: 2,
		SizeDecimals:  4,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientQuote(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		if r.URL.Path != "/api/v1/ticker" || r.URL.Query().Get("symbol") != "BTC-USDT" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"bid":64990.5,"ask":65010.5}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	quote, err := client.Quote(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Bid != 64990.5 || quote.Ask != 65010.5 {
		t.Fatalf("unexpected quote: %#v", quote)
	}
	if gotKey != "secret" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
}

func TestClientQuoteUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Quote(context.Background(), "BTC-USDT")
	if !errors.Is(err, venue.ErrQuoteUnavailable) {
		t.Fatalf("expected quote unavailable, got %v", err)
	}
}

func TestClientMarketOrderRejectionKeepsReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"filled":false,"reason":"stop price too close to market"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.PlaceMarketOrder(context.Background(), venue.MarketOrder{
		Symbol: "BTC-USDT", Side: venue.Long, USDSize: 100, Leverage: 3,
	})
	var rejected *venue.OrderRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected rejection error, got %v", err)
	}
	if rejected.Venue != "alpha" || rejected.Reason != "stop price too close to market" {
		t.Fatalf("unexpected rejection: %#v", rejected)
	}
}

func TestClientMarketOrderRejectionFromErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"reason":"insufficient margin"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.PlaceMarketOrder(context.Background(), venue.MarketOrder{
		Symbol: "BTC-USDT", Side: venue.Short, USDSize: 100,
	})
	var rejected *venue.OrderRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected rejection error, got %v", err)
	}
	if rejected.Reason != "insufficient margin" {
		t.Fatalf("unexpected reason: %q", rejected.Reason)
	}
}

func TestClientClosePositionSendsReduceOnly(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/positions/close" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"closed":true,"close_price":63050,"pnl_percent":-3}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.ClosePosition(context.Background(), venue.CloseRequest{
		Symbol:       "BTC-USDT",
		Side:         venue.Long,
		SizeOverride: 0.01,
		LimitPrice:   63050,
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !result.Closed || result.ClosePrice != 63050 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if gotBody["reduce_only"] != true {
		t.Fatalf("expected reduce_only close, got %#v", gotBody)
	}
	if gotBody["size"] != 0.01 {
		t.Fatalf("expected size override forwarded, got %#v", gotBody["size"])
	}
}

func TestClientRequiresAPIKeyWhenConfigured(t *testing.T) {
	t.Setenv("TEST_VENUE_KEY", "")
	_, err := New(config.VenueConfig{
		Name:      "alpha",
		BaseURL:   "http://localhost",
		APIKeyEnv: "TEST_VENUE_KEY",
	}, zap.NewNop())
	if err == nil {
		t.Fatalf("expected error for missing api key")
	}
}
