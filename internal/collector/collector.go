package collector

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camarigor/minerdash/internal/config"
	"github.com/camarigor/minerdash/internal/metrics"
	"github.com/camarigor/minerdash/internal/state"
)

// Poller fetches telemetry for one device.
type Poller interface {
	Fetch(ctx context.Context, ip string) (Telemetry, error)
}

// Notifier is told about every credited block, once per block.
type Notifier interface {
	BlockFound(miner string, at time.Time)
}

// MinerState is one device's row in a published snapshot.
type MinerState struct {
	Name  string
	IP    string
	Model string
	Telemetry

	// WeeklyBest is the reset-safe best difficulty for the current week.
	WeeklyBest   *float64
	Blocks       int64
	LastSeenUnix *int64
}

// Snapshot is the result of one full tick, in configured device order.
type Snapshot struct {
	Miners    []MinerState
	UpdatedAt time.Time
}

// BlockEvent is emitted when the ledger credits new blocks to a miner.
type BlockEvent struct {
	Miner  string
	IP     string
	Delta  int64
	Total  int64
	At     time.Time
	IsTest bool
}

// Popup is the most recent block celebration shown by the client.
type Popup struct {
	Miner  string `json:"miner"`
	TSUnix int64  `json:"ts_unix"`
	IsTest bool   `json:"is_test"`
}

// Collector polls every configured miner on a fixed interval and publishes
// an immutable Snapshot after each pass.
type Collector struct {
	miners   []config.MinerConfig
	client   Poller
	ledger   *state.BlockLedger
	weekly   *state.WeeklyBest
	notifier Notifier
	interval time.Duration
	now      func() time.Time

	snapshot atomic.Pointer[Snapshot]

	seenMu   sync.RWMutex
	lastSeen map[string]int64
	online   map[string]bool

	popupMu sync.Mutex
	popup   *Popup

	// Channels for broadcasting to API WebSocket clients
	SnapshotChan chan *Snapshot
	BlockChan    chan *BlockEvent
}

// NewCollector wires the poller to the block ledger and weekly-best tracker.
// notifier may be nil.
func NewCollector(miners []config.MinerConfig, client Poller, ledger *state.BlockLedger, weekly *state.WeeklyBest, notifier Notifier, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	c := &Collector{
		miners:       append([]config.MinerConfig(nil), miners...),
		client:       client,
		ledger:       ledger,
		weekly:       weekly,
		notifier:     notifier,
		interval:     interval,
		now:          time.Now,
		lastSeen:     make(map[string]int64),
		online:       make(map[string]bool),
		SnapshotChan: make(chan *Snapshot, 10),
		BlockChan:    make(chan *BlockEvent, 10),
	}
	c.snapshot.Store(&Snapshot{UpdatedAt: c.now()})
	return c
}

// Miners returns the configured fleet in display order.
func (c *Collector) Miners() []config.MinerConfig {
	return append([]config.MinerConfig(nil), c.miners...)
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick polls every device once, in order, and publishes the new snapshot.
func (c *Collector) Tick(ctx context.Context) *Snapshot {
	start := time.Now()
	rows := make([]MinerState, 0, len(c.miners))
	onlineCount := 0

	for _, m := range c.miners {
		if ctx.Err() != nil {
			return c.Snapshot()
		}
		row := c.pollOne(ctx, m)
		if row.Online {
			onlineCount++
		}
		rows = append(rows, row)
	}

	snap := &Snapshot{Miners: rows, UpdatedAt: c.now()}
	c.snapshot.Store(snap)

	metrics.MinersOnline.Set(float64(onlineCount))
	metrics.TickDuration.Observe(time.Since(start).Seconds())

	// Broadcast (non-blocking)
	select {
	case c.SnapshotChan <- snap:
	default:
	}
	return snap
}

func (c *Collector) pollOne(ctx context.Context, m config.MinerConfig) MinerState {
	pollStart := time.Now()
	tel, err := c.client.Fetch(ctx, m.IP)
	metrics.PollDuration.WithLabelValues(m.Name).Observe(time.Since(pollStart).Seconds())

	now := c.now()
	c.trackOnline(m, err)
	if err != nil {
		tel = Telemetry{}
		metrics.PollsTotal.WithLabelValues(m.Name, "offline").Inc()
	} else {
		metrics.PollsTotal.WithLabelValues(m.Name, "online").Inc()
		c.seenMu.Lock()
		c.lastSeen[m.Name] = now.Unix()
		c.seenMu.Unlock()
	}

	rec, err := c.ledger.Reconcile(m.Name, tel.BlocksFound, now)
	if err != nil {
		log.Printf("Block ledger save for %s failed: %v", m.Name, err)
	}
	if rec.Reset {
		metrics.CounterResets.WithLabelValues(m.Name).Inc()
		log.Printf("Block counter on %s went backwards, rebaselined", m.Name)
	}
	if rec.Delta > 0 {
		c.creditBlocks(m, rec, now)
	}

	weekly, err := c.weekly.Observe(m.Name, tel.SessionBest)
	if err != nil {
		log.Printf("Weekly best save for %s failed: %v", m.Name, err)
	}

	if tel.HashrateTHs != nil {
		metrics.MinerHashrate.WithLabelValues(m.Name).Set(*tel.HashrateTHs)
	}

	row := MinerState{
		Name:       m.Name,
		IP:         m.IP,
		Model:      m.Model,
		Telemetry:  tel,
		WeeklyBest: weekly,
		Blocks:     rec.Count,
	}
	if ts, ok := c.LastSeen(m.Name); ok {
		row.LastSeenUnix = &ts
	}
	return row
}

func (c *Collector) creditBlocks(m config.MinerConfig, rec state.Reconciliation, now time.Time) {
	metrics.BlocksCredited.WithLabelValues(m.Name).Add(float64(rec.Delta))
	log.Printf("BLOCK FOUND by %s (%s)! +%d, total %d", m.Name, m.IP, rec.Delta, rec.Count)

	if c.notifier != nil {
		for i := int64(0); i < rec.Delta; i++ {
			c.notifier.BlockFound(m.Name, now)
		}
	}

	c.popupMu.Lock()
	c.popup = &Popup{Miner: m.Name, TSUnix: now.Unix()}
	c.popupMu.Unlock()

	ev := &BlockEvent{Miner: m.Name, IP: m.IP, Delta: rec.Delta, Total: rec.Count, At: now}
	select {
	case c.BlockChan <- ev:
	default:
	}
}

// trackOnline logs only online/offline transitions so a dead device does
// not flood the log every tick.
func (c *Collector) trackOnline(m config.MinerConfig, err error) {
	c.seenMu.Lock()
	was, known := c.online[m.Name]
	c.online[m.Name] = err == nil
	c.seenMu.Unlock()

	switch {
	case err != nil && (was || !known):
		log.Printf("Poll %s (%s) failed: %v", m.Name, m.IP, err)
	case err == nil && known && !was:
		log.Printf("Miner %s (%s) is back online", m.Name, m.IP)
	}
}

// Snapshot returns the last published snapshot. It is never nil and must not
// be modified.
func (c *Collector) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// LastSeen is the unix time of the last successful poll of a miner.
func (c *Collector) LastSeen(name string) (int64, bool) {
	c.seenMu.RLock()
	defer c.seenMu.RUnlock()
	ts, ok := c.lastSeen[name]
	return ts, ok
}

// LastPopup returns a copy of the latest block popup, or nil.
func (c *Collector) LastPopup() *Popup {
	c.popupMu.Lock()
	defer c.popupMu.Unlock()
	if c.popup == nil {
		return nil
	}
	p := *c.popup
	return &p
}

// RecordTestPopup stores a test popup without touching block counts.
func (c *Collector) RecordTestPopup(miner string, at time.Time) Popup {
	p := Popup{Miner: miner, TSUnix: at.Unix(), IsTest: true}
	c.popupMu.Lock()
	c.popup = &p
	c.popupMu.Unlock()

	ev := &BlockEvent{Miner: miner, At: at, IsTest: true}
	select {
	case c.BlockChan <- ev:
	default:
	}
	return p
}

// Ledger exposes the block ledger for the rollover scheduler and the feed.
func (c *Collector) Ledger() *state.BlockLedger {
	return c.ledger
}

// Weekly exposes the weekly-best tracker.
func (c *Collector) Weekly() *state.WeeklyBest {
	return c.weekly
}
