package pricing

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/camarigor/minerdash/internal/config"
	"github.com/camarigor/minerdash/internal/metrics"
)

const maxErrLen = 200

// Quote is the cached market data for one coin. Nil means never fetched.
type Quote struct {
	Price      *float64
	Difficulty *float64
}

// MarketView is a consistent copy of the coin-market group.
type MarketView struct {
	Fiat    string
	Quotes  map[string]Quote
	LastOK  *int64
	LastErr string
}

// Market caches coin prices and network difficulties. A failed request keeps
// the previously cached value for that coin.
type Market struct {
	client        *http.Client
	coinGeckoURL  string
	whatToMineURL string
	fiat          string
	now           func() time.Time

	mu      sync.RWMutex
	quotes  map[string]Quote
	lastOK  *int64
	lastErr string
}

// NewMarket creates a market cache from configuration
func NewMarket(cfg config.MarketConfig) *Market {
	timeout := config.Seconds(cfg.TimeoutSeconds)
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Market{
		client:        &http.Client{Timeout: timeout},
		coinGeckoURL:  cfg.CoinGeckoURL,
		whatToMineURL: cfg.WhatToMineURL,
		fiat:          cfg.FiatCurrency,
		now:           time.Now,
		quotes:        make(map[string]Quote),
	}
}

// Refresh fetches all prices in one CoinGecko call and one WhatToMine page per
// coin. It returns the joined errors; whatever succeeded is cached regardless,
// but the last-ok time only moves when every request succeeded.
func (m *Market) Refresh(ctx context.Context) error {
	ids := make([]string, 0, len(SupportedCoins))
	for _, c := range SupportedCoins {
		ids = append(ids, c.CoinGeckoID)
	}

	var errs []error

	prices, err := fetchSimplePrice(ctx, m.client, m.coinGeckoURL, ids, m.fiat)
	if err != nil {
		metrics.MarketErrors.WithLabelValues("coingecko_price").Inc()
		errs = append(errs, err)
	}

	diffs := make(map[string]float64, len(SupportedCoins))
	for _, c := range SupportedCoins {
		d, err := fetchDifficulty(ctx, m.client, m.whatToMineURL, c.WhatToMineID)
		if err != nil {
			metrics.MarketErrors.WithLabelValues("whattomine").Inc()
			errs = append(errs, err)
			continue
		}
		diffs[c.Symbol] = d
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range SupportedCoins {
		q := m.quotes[c.Symbol]
		if p, ok := prices[c.CoinGeckoID]; ok {
			q.Price = &p
		}
		if d, ok := diffs[c.Symbol]; ok {
			q.Difficulty = &d
		}
		m.quotes[c.Symbol] = q
	}

	joined := errors.Join(errs...)
	if joined != nil {
		m.lastErr = truncate(joined.Error(), maxErrLen)
		return joined
	}
	ts := m.now().Unix()
	m.lastOK = &ts
	m.lastErr = ""
	return nil
}

// View returns a copy of the cached quotes
func (m *Market) View() MarketView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := MarketView{Fiat: m.fiat, Quotes: make(map[string]Quote, len(m.quotes)), LastErr: m.lastErr}
	for sym, q := range m.quotes {
		v.Quotes[sym] = q
	}
	if m.lastOK != nil {
		ts := *m.lastOK
		v.LastOK = &ts
	}
	return v
}

// LogoView is a consistent copy of the coin-logo group.
type LogoView struct {
	Logos   map[string]string
	LastOK  *int64
	LastErr string
}

// Logos caches coin logo URLs from CoinGecko's markets endpoint.
type Logos struct {
	client       *http.Client
	coinGeckoURL string
	fiat         string
	now          func() time.Time

	mu      sync.RWMutex
	logos   map[string]string
	lastOK  *int64
	lastErr string
}

// NewLogos creates a logo cache from configuration
func NewLogos(cfg config.MarketConfig) *Logos {
	timeout := config.Seconds(cfg.TimeoutSeconds)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Logos{
		client:       &http.Client{Timeout: timeout},
		coinGeckoURL: cfg.CoinGeckoURL,
		fiat:         cfg.FiatCurrency,
		now:          time.Now,
		logos:        make(map[string]string),
	}
}

// Refresh updates every logo present in the response and keeps the rest
func (l *Logos) Refresh(ctx context.Context) error {
	ids := make([]string, 0, len(SupportedCoins))
	for _, c := range SupportedCoins {
		ids = append(ids, c.CoinGeckoID)
	}

	images, err := fetchMarketImages(ctx, l.client, l.coinGeckoURL, ids, l.fiat)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		metrics.MarketErrors.WithLabelValues("coingecko_logos").Inc()
		l.lastErr = truncate(err.Error(), maxErrLen)
		return err
	}
	for _, c := range SupportedCoins {
		if img, ok := images[c.CoinGeckoID]; ok {
			l.logos[c.Symbol] = img
		}
	}
	ts := l.now().Unix()
	l.lastOK = &ts
	l.lastErr = ""
	return nil
}

// Missing reports whether any supported coin has no logo yet
func (l *Logos) Missing() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range SupportedCoins {
		if l.logos[c.Symbol] == "" {
			return true
		}
	}
	return false
}

// View returns a copy of the cached logos
func (l *Logos) View() LogoView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v := LogoView{Logos: make(map[string]string, len(l.logos)), LastErr: l.lastErr}
	for sym, u := range l.logos {
		v.Logos[sym] = u
	}
	if l.lastOK != nil {
		ts := *l.lastOK
		v.LastOK = &ts
	}
	return v
}

// Service drives both caches from one loop.
type Service struct {
	Market *Market
	Logos  *Logos

	interval     time.Duration
	logoInterval time.Duration
}

// NewService creates the market and logo caches
func NewService(cfg config.MarketConfig) *Service {
	return &Service{
		Market:       NewMarket(cfg),
		Logos:        NewLogos(cfg),
		interval:     config.Seconds(cfg.RefreshSeconds),
		logoInterval: config.Seconds(cfg.LogoRefreshSeconds),
	}
}

// Run refreshes market data every interval and logos when any are missing
// or every logoInterval, until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	interval := s.interval
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastLogo time.Time
	for {
		if s.Logos.Missing() || time.Since(lastLogo) >= s.logoInterval {
			if err := s.Logos.Refresh(ctx); err != nil {
				log.Printf("Coin logo refresh failed: %v", err)
			}
			lastLogo = time.Now()
		}

		if err := s.Market.Refresh(ctx); err != nil {
			log.Printf("Coin market refresh incomplete: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
