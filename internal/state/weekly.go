package state

import (
	"log"
	"sync"
)

// WeeklyBest owns the weekly-current group: the highest session-best
// difficulty each miner reached since the last rollover.
type WeeklyBest struct {
	mu        sync.Mutex
	store     *Store
	weekStart int64
	current   map[string]float64
	dirty     bool
}

// LoadWeeklyBest restores weekly_current.json. A file tagged with a different
// week start belongs to an earlier week and is ignored.
func LoadWeeklyBest(store *Store, weekStart int64) *WeeklyBest {
	w := &WeeklyBest{
		store:     store,
		weekStart: weekStart,
		current:   map[string]float64{},
	}

	store.Load(KindWeeklyCurrent, func(data []byte) error {
		rec, tagged, err := parseWeeklyCurrentRecord(data)
		if err != nil {
			return err
		}
		if tagged && rec.WeekStartUnix != weekStart {
			log.Printf("Discarding weekly best from week starting %d (current week %d)", rec.WeekStartUnix, weekStart)
			return nil
		}
		w.current = rec.Current
		return nil
	})
	return w
}

// Observe folds one session-best sample into the weekly maximum and returns
// the weekly value to display: the stored maximum, or the sample itself when
// nothing is stored yet.
func (w *WeeklyBest) Observe(name string, sample *float64) (*float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	cur, ok := w.current[name]
	if sample != nil && (!ok || *sample > cur) {
		w.current[name] = *sample
		err = w.saveLocked()
	} else if w.dirty {
		err = w.saveLocked()
	}

	if v, ok := w.current[name]; ok {
		return &v, err
	}
	if sample != nil {
		v := *sample
		return &v, err
	}
	return nil, err
}

// Get returns the stored weekly best for a miner.
func (w *WeeklyBest) Get(name string) (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.current[name]
	return v, ok
}

// All returns a copy of every stored weekly best.
func (w *WeeklyBest) All() map[string]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]float64, len(w.current))
	for k, v := range w.current {
		out[k] = v
	}
	return out
}

// WeekStart is the week the stored values belong to.
func (w *WeeklyBest) WeekStart() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.weekStart
}

// Reset empties the map for the week starting at weekStart.
func (w *WeeklyBest) Reset(weekStart int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.weekStart = weekStart
	w.current = map[string]float64{}
	return w.saveLocked()
}

// Flush retries a failed write, if any.
func (w *WeeklyBest) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirty {
		return nil
	}
	return w.saveLocked()
}

func (w *WeeklyBest) saveLocked() error {
	rec := WeeklyCurrentRecord{WeekStartUnix: w.weekStart, Current: w.current}
	if err := w.store.Save(KindWeeklyCurrent, rec); err != nil {
		w.dirty = true
		return err
	}
	w.dirty = false
	return nil
}
