package api

import (
	"time"

	"github.com/camarigor/minerdash/internal/collector"
	"github.com/camarigor/minerdash/internal/config"
	"github.com/camarigor/minerdash/internal/format"
	"github.com/camarigor/minerdash/internal/pricing"
	"github.com/camarigor/minerdash/internal/state"
)

// feedTimeLayout is the "updated" stamp shown in the client header (UTC).
const feedTimeLayout = "02-01-2006 15:04:05"

// Feed is the single document the presentation client renders.
type Feed struct {
	Miners         []MinerRow `json:"miners"`
	RefreshSeconds int        `json:"refresh_seconds"`
	Updated        string     `json:"updated"`

	Coins          map[string]CoinRow `json:"coins"`
	CoinOrder      []string           `json:"coin_order"`
	FiatCurrency   string             `json:"fiat_currency"`
	CoinLastOKUnix *int64             `json:"coin_last_ok_unix"`
	CoinLastErr    *string            `json:"coin_last_err"`

	CoinLogos           map[string]string   `json:"coin_logos"`
	CoinLogoFallbacks   map[string][]string `json:"coin_logo_fallbacks"`
	CoinLogosLastOKUnix *int64              `json:"coin_logos_last_ok_unix"`
	CoinLogosLastErr    *string             `json:"coin_logos_last_err"`

	LastAnyBlockTS *int64           `json:"last_any_block_ts"`
	LastBlockPopup *collector.Popup `json:"last_block_popup"`

	PrevWeekBestName *string `json:"prev_week_best_name"`
	PrevWeekBestStr  *string `json:"prev_week_best_str"`
	MOTWName         *string `json:"motw_name"`
	MOTWStr          *string `json:"motw_str"`

	StaleYellowSeconds int     `json:"stale_yellow_seconds"`
	StaleRedSeconds    int     `json:"stale_red_seconds"`
	TempWarnC          float64 `json:"temp_warn_c"`
	TempHotC           float64 `json:"temp_hot_c"`
	MinerPageSeconds   int     `json:"miner_page_seconds"`
	MinersPerPage      int     `json:"miners_per_page"`
}

// MinerRow carries each value both formatted and raw.
type MinerRow struct {
	Name              string   `json:"name"`
	IP                string   `json:"ip"`
	Model             *string  `json:"model"`
	Online            bool     `json:"online"`
	UptimeSeconds     *int64   `json:"uptime_seconds"`
	Uptime            string   `json:"uptime"`
	Hashrate          string   `json:"hashrate"`
	HashrateRaw       *float64 `json:"hashrate_raw"`
	Temp              string   `json:"temp"`
	ASICTempRaw       *float64 `json:"asic_temp_raw"`
	VRTempRaw         *float64 `json:"vr_temp_raw"`
	FanSpeed          *float64 `json:"fan_speed"`
	SharesAccepted    string   `json:"shares_accepted"`
	SharesAcceptedRaw *int64   `json:"shares_accepted_raw"`
	SharesRejected    string   `json:"shares_rejected"`
	SharesRejectedRaw *int64   `json:"shares_rejected_raw"`
	SessionBest       string   `json:"session_best"`
	SessionBestRaw    *float64 `json:"session_best_raw"`
	BestOverall       string   `json:"best_overall"`
	BestOverallRaw    *float64 `json:"best_overall_raw"`
	Blocks            int64    `json:"blocks"`
	BlocksWeek        int64    `json:"blocks_week"`
	LastSeenUnix      *int64   `json:"last_seen_unix"`
}

// CoinRow is one coin in the market panel. The price keys keep their
// historical gbp names and carry the configured fiat currency.
type CoinRow struct {
	PriceGBP    string   `json:"price_gbp"`
	Diff        string   `json:"diff"`
	PriceGBPRaw *float64 `json:"price_gbp_raw"`
	DiffRaw     *float64 `json:"diff_raw"`
}

// feedBuilder reads each state group under its own lock; the feed is
// therefore consistent per group, not across groups.
type feedBuilder struct {
	cfg       *config.Config
	collector *collector.Collector
	prior     *state.Record[state.WeeklyPriorRecord]
	motw      *state.Record[state.MinerOfWeekRecord]
	market    *pricing.Service
}

func (b *feedBuilder) build(now time.Time) *Feed {
	d := b.cfg.Display
	f := &Feed{
		Miners:             []MinerRow{},
		RefreshSeconds:     b.cfg.Polling.RefreshSeconds,
		Updated:            now.UTC().Format(feedTimeLayout),
		Coins:              make(map[string]CoinRow),
		CoinOrder:          pricing.CoinOrder(),
		FiatCurrency:       b.cfg.Market.FiatCurrency,
		CoinLogos:          map[string]string{},
		CoinLogoFallbacks:  pricing.FallbackLogos(),
		StaleYellowSeconds: d.StaleYellowSeconds,
		StaleRedSeconds:    d.StaleRedSeconds,
		TempWarnC:          d.TempWarnC,
		TempHotC:           d.TempHotC,
		MinerPageSeconds:   d.MinerPageSeconds,
		MinersPerPage:      d.MinersPerPage,
	}

	b.addCoins(f)

	ledger := b.collector.Ledger()
	f.LastAnyBlockTS = ledger.LastAnyBlock()
	f.LastBlockPopup = b.collector.LastPopup()

	if b.prior != nil {
		p := b.prior.Get()
		f.PrevWeekBestName = optString(p.PrevName)
		f.PrevWeekBestStr = optString(p.PrevStr)
	}
	if b.motw != nil {
		m := b.motw.Get()
		f.MOTWName = optString(m.PrevName)
		f.MOTWStr = optString(m.PrevStr)
	}

	_, weekStart := ledger.WeekStart()
	for _, m := range b.collector.Snapshot().Miners {
		f.Miners = append(f.Miners, minerRow(m, weekStart))
	}
	return f
}

func (b *feedBuilder) addCoins(f *Feed) {
	if b.market == nil {
		for _, sym := range f.CoinOrder {
			f.Coins[sym] = CoinRow{PriceGBP: format.Missing, Diff: format.Missing}
		}
		return
	}

	mv := b.market.Market.View()
	for _, sym := range f.CoinOrder {
		q := mv.Quotes[sym]
		row := CoinRow{
			PriceGBP:    format.Fiat(q.Price, mv.Fiat),
			Diff:        format.Missing,
			PriceGBPRaw: q.Price,
			DiffRaw:     q.Difficulty,
		}
		if q.Difficulty != nil {
			row.Diff = format.Difficulty(*q.Difficulty)
		}
		f.Coins[sym] = row
	}
	f.CoinLastOKUnix = mv.LastOK
	f.CoinLastErr = optString(mv.LastErr)

	lv := b.market.Logos.View()
	f.CoinLogos = lv.Logos
	f.CoinLogosLastOKUnix = lv.LastOK
	f.CoinLogosLastErr = optString(lv.LastErr)
}

func minerRow(m collector.MinerState, weekStart map[string]int64) MinerRow {
	row := MinerRow{
		Name:              m.Name,
		IP:                m.IP,
		Model:             optString(m.Model),
		Online:            m.Online,
		UptimeSeconds:     m.UptimeSeconds,
		Uptime:            format.Missing,
		Hashrate:          format.HashrateTHs(m.HashrateTHs),
		HashrateRaw:       m.HashrateTHs,
		Temp:              format.TempPair(m.ASICTemp, m.VRTemp),
		ASICTempRaw:       m.ASICTemp,
		VRTempRaw:         m.VRTemp,
		FanSpeed:          m.FanSpeed,
		SharesAccepted:    format.IntShort(m.SharesAccepted),
		SharesAcceptedRaw: m.SharesAccepted,
		SharesRejected:    "0",
		SharesRejectedRaw: m.SharesRejected,
		SessionBest:       format.Missing,
		BestOverall:       format.Missing,
		BestOverallRaw:    m.BestOverall,
		Blocks:            m.Blocks,
		LastSeenUnix:      m.LastSeenUnix,
	}
	if m.UptimeSeconds != nil {
		row.Uptime = format.Duration(time.Duration(*m.UptimeSeconds) * time.Second)
	}
	if m.SharesRejected != nil {
		row.SharesRejected = format.IntShort(m.SharesRejected)
	}

	// the best tile shows the reset-safe weekly best, falling back to the
	// device's own session best before the first observation
	best := m.WeeklyBest
	if best == nil {
		best = m.SessionBest
	}
	if best != nil {
		row.SessionBest = format.DifficultyAdaptive(*best)
		row.SessionBestRaw = best
	}
	if m.BestOverall != nil {
		row.BestOverall = format.DifficultyAdaptive(*m.BestOverall)
	}

	if wk := m.Blocks - weekStart[m.Name]; wk > 0 {
		row.BlocksWeek = wk
	}
	return row
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
