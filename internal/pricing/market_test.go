package pricing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/camarigor/minerdash/internal/config"
)

// fakeMarket serves CoinGecko and WhatToMine lookalike endpoints.
type fakeMarket struct {
	failPrices atomic.Bool
	failDiff   atomic.Int32 // WhatToMine id that returns 500
	failLogos  atomic.Bool
	priceCalls atomic.Int32
}

func (f *fakeMarket) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/simple/price", func(w http.ResponseWriter, r *http.Request) {
		f.priceCalls.Add(1)
		if f.failPrices.Load() {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		if r.URL.Query().Get("vs_currencies") != "gbp" {
			http.Error(w, "bad fiat", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"bitcoin":{"gbp":51234.5},"bitcoin-cash":{"gbp":310.2},"digibyte":{"gbp":0.0071}}`)
	})
	mux.HandleFunc("/api/v3/coins/markets", func(w http.ResponseWriter, r *http.Request) {
		if f.failLogos.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[{"id":"bitcoin","image":"https://img/btc.png"},{"id":"digibyte","image":"https://img/dgb.png"}]`)
	})
	mux.HandleFunc("/wtm/coins/", func(w http.ResponseWriter, r *http.Request) {
		var id int32
		fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/wtm/coins/"), "%d.json", &id)
		if id == f.failDiff.Load() {
			http.Error(w, "oops", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"id":%d,"difficulty":%d}`, id, int(id)*1000000)
	})
	return mux
}

func setupMarket(t *testing.T) (*Market, *Logos, *fakeMarket) {
	t.Helper()

	fake := &fakeMarket{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig().Market
	cfg.CoinGeckoURL = srv.URL + "/api/v3"
	cfg.WhatToMineURL = srv.URL + "/wtm"
	cfg.TimeoutSeconds = 2
	return NewMarket(cfg), NewLogos(cfg), fake
}

func TestMarketRefresh(t *testing.T) {
	m, _, _ := setupMarket(t)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	v := m.View()
	if v.LastOK == nil || v.LastErr != "" {
		t.Errorf("last ok = %v, err = %q", v.LastOK, v.LastErr)
	}
	btc := v.Quotes["BTC"]
	if btc.Price == nil || *btc.Price != 51234.5 {
		t.Errorf("BTC price = %v", btc.Price)
	}
	if btc.Difficulty == nil || *btc.Difficulty != 1e6 {
		t.Errorf("BTC difficulty = %v", btc.Difficulty)
	}
	// fractal-bitcoin is missing from the price response
	if v.Quotes["FB"].Price != nil {
		t.Errorf("FB price should be unknown")
	}
	if d := v.Quotes["FB"].Difficulty; d == nil || *d != 431e6 {
		t.Errorf("FB difficulty = %v", d)
	}
}

func TestMarketKeepsPreviousValuesOnFailure(t *testing.T) {
	m, _, fake := setupMarket(t)
	m.Refresh(context.Background())

	fake.failPrices.Store(true)
	fake.failDiff.Store(193)
	err := m.Refresh(context.Background())
	if err == nil {
		t.Fatalf("expected an error")
	}

	v := m.View()
	if v.LastErr == "" || len(v.LastErr) > maxErrLen {
		t.Errorf("last err = %q", v.LastErr)
	}
	if p := v.Quotes["BTC"].Price; p == nil || *p != 51234.5 {
		t.Errorf("BTC price lost after failure: %v", p)
	}
	if d := v.Quotes["BCH"].Difficulty; d == nil || *d != 193e6 {
		t.Errorf("BCH difficulty lost after failure: %v", d)
	}
}

func TestMarketLastOKOnlyOnFullSuccess(t *testing.T) {
	m, _, fake := setupMarket(t)

	clock := time.Unix(1700000000, 0)
	m.now = func() time.Time { return clock }
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// prices still succeed, one difficulty fails
	clock = clock.Add(time.Minute)
	fake.failDiff.Store(113)
	if err := m.Refresh(context.Background()); err == nil {
		t.Fatalf("expected an error")
	}
	v := m.View()
	if v.LastOK == nil || *v.LastOK != 1700000000 {
		t.Errorf("last ok moved on partial failure: %v", v.LastOK)
	}
	if v.LastErr == "" {
		t.Errorf("last err should be set")
	}

	clock = clock.Add(time.Minute)
	fake.failDiff.Store(0)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	v = m.View()
	if v.LastOK == nil || *v.LastOK != 1700000120 || v.LastErr != "" {
		t.Errorf("last ok = %v, err = %q", v.LastOK, v.LastErr)
	}
}

func TestLogosRefresh(t *testing.T) {
	_, l, fake := setupMarket(t)

	if !l.Missing() {
		t.Fatalf("empty cache should report missing logos")
	}
	if err := l.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	v := l.View()
	if v.Logos["BTC"] != "https://img/btc.png" || v.Logos["DGB"] != "https://img/dgb.png" {
		t.Errorf("logos = %v", v.Logos)
	}
	if !l.Missing() {
		t.Errorf("BCH and FB are still missing")
	}

	fake.failLogos.Store(true)
	if err := l.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	v = l.View()
	if v.Logos["BTC"] == "" {
		t.Errorf("failed refresh dropped cached logos")
	}
	if v.LastErr == "" || v.LastOK == nil {
		t.Errorf("last ok = %v, err = %q", v.LastOK, v.LastErr)
	}
}

func TestFallbackLogos(t *testing.T) {
	fb := FallbackLogos()
	for _, sym := range CoinOrder() {
		if len(fb[sym]) == 0 {
			t.Errorf("no fallback logo for %s", sym)
		}
	}
	if got := CoinOrder(); strings.Join(got, ",") != "BTC,BCH,FB,DGB" {
		t.Errorf("coin order = %v", got)
	}
}
