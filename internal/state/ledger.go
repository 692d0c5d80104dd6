package state

import (
	"log"
	"sync"
	"time"
)

// Reconciliation describes what one reported counter value did to the ledger.
type Reconciliation struct {
	Count  int64 // cumulative count after reconciling
	Delta  int64 // blocks credited by this observation
	Seeded bool  // first observation, baseline recorded
	Reset  bool  // device counter went backwards
}

// BlockLedger owns the block-counter group: cumulative counts, the last raw
// counter seen per miner and the weekly baseline. Every mutation is persisted
// before the lock is released.
type BlockLedger struct {
	mu    sync.Mutex
	store *Store
	rec   BlocksRecord
	dirty bool
}

// LoadBlockLedger restores blocks.json (or its backup). A missing or
// unreadable pair starts an empty ledger whose week begins now.
func LoadBlockLedger(store *Store, now time.Time) *BlockLedger {
	l := &BlockLedger{store: store, rec: newBlocksRecord(now)}

	loaded := store.Load(KindBlocks, func(data []byte) error {
		rec, err := parseBlocksRecord(data, now)
		if err != nil {
			return err
		}
		l.rec = rec
		return nil
	})
	if !loaded {
		log.Printf("No usable block ledger on disk, starting from zero")
	}

	// an empty baseline on a tagged record means zero for every miner; only
	// the legacy shape is re-baselined, inside parseBlocksRecord
	if l.rec.WeekStartUnix == 0 {
		l.rec.WeekStartUnix = now.Unix()
	}
	if err := l.saveLocked(); err != nil {
		log.Printf("Block ledger save failed: %v", err)
	}
	return l
}

// Reconcile applies one raw counter value reported by a miner. A nil value
// means the device did not report the counter and nothing changes. The
// in-memory result stands even when the returned save error is non-nil; the
// write is retried on the next call.
func (l *BlockLedger) Reconcile(name string, reported *int64, now time.Time) (Reconciliation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := false
	out := Reconciliation{}

	if reported != nil {
		r := *reported
		prev, seen := l.rec.ReportedLast[name]
		switch {
		case !seen:
			l.rec.ReportedLast[name] = r
			if _, ok := l.rec.Counts[name]; !ok {
				l.rec.Counts[name] = 0
			}
			out.Seeded = true
			changed = true
		case r < prev:
			l.rec.ReportedLast[name] = r
			out.Reset = true
			changed = true
		case r > prev:
			delta := r - prev
			l.rec.ReportedLast[name] = r
			l.rec.Counts[name] += delta
			ts := now.Unix()
			l.rec.LastTS[name] = ts
			l.rec.LastAnyTS = &ts
			out.Delta = delta
			changed = true
		}
	}
	out.Count = l.rec.Counts[name]

	if changed || l.dirty {
		return out, l.saveLocked()
	}
	return out, nil
}

// Count returns the cumulative block count for a miner.
func (l *BlockLedger) Count(name string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.Counts[name]
}

// ReportedLast returns the last raw counter seen for a miner.
func (l *BlockLedger) ReportedLast(name string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.rec.ReportedLast[name]
	return v, ok
}

// WeekStart returns the baseline timestamp and a copy of the baseline counts.
func (l *BlockLedger) WeekStart() (int64, map[string]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.WeekStartUnix, copyCounts(l.rec.WeekStartCounts)
}

// LastAnyBlock is the unix time of the most recent credited block on any miner.
func (l *BlockLedger) LastAnyBlock() *int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rec.LastAnyTS == nil {
		return nil
	}
	ts := *l.rec.LastAnyTS
	return &ts
}

// LastBlock is the unix time of the most recent credited block on one miner.
func (l *BlockLedger) LastBlock(name string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts, ok := l.rec.LastTS[name]
	return ts, ok
}

// LastRolloverWeek is the ISO week key of the last completed rollover.
func (l *BlockLedger) LastRolloverWeek() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.LastRolloverWeek
}

// ResetWeek starts a new competition week: the baseline becomes the current
// cumulative counts and weekKey is remembered so the rollover is not repeated.
func (l *BlockLedger) ResetWeek(now time.Time, weekKey string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rec.WeekStartUnix = now.Unix()
	l.rec.WeekStartCounts = copyCounts(l.rec.Counts)
	l.rec.LastRolloverWeek = weekKey
	return l.rec.WeekStartUnix, l.saveLocked()
}

// Flush retries a failed write, if any.
func (l *BlockLedger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return nil
	}
	return l.saveLocked()
}

func (l *BlockLedger) saveLocked() error {
	if err := l.store.Save(KindBlocks, l.rec); err != nil {
		l.dirty = true
		return err
	}
	l.dirty = false
	return nil
}
