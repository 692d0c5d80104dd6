package competition

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"github.com/camarigor/minerdash/internal/collector"
	"github.com/camarigor/minerdash/internal/config"
	"github.com/camarigor/minerdash/internal/format"
	"github.com/camarigor/minerdash/internal/metrics"
	"github.com/camarigor/minerdash/internal/state"
	"github.com/camarigor/minerdash/internal/storage"
)

// Phase is where the scheduler stands relative to the rollover window.
type Phase int

const (
	Idle Phase = iota
	RolloverDue
	RolloverComplete
)

func (p Phase) String() string {
	switch p {
	case RolloverDue:
		return "due"
	case RolloverComplete:
		return "complete"
	default:
		return "idle"
	}
}

// SnapshotSource provides the most recent fleet snapshot.
type SnapshotSource interface {
	Snapshot() *collector.Snapshot
}

// Restarter reboots a device.
type Restarter interface {
	Restart(ctx context.Context, ip string) error
}

// Archive stores finished weeks. Optional.
type Archive interface {
	InsertWeeklyResult(r *storage.WeeklyResult) error
}

// Outcome describes one completed rollover.
type Outcome struct {
	WeekISO        string    `json:"week_iso"`
	At             time.Time `json:"at"`
	Winner         string    `json:"winner,omitempty"`
	Score          int       `json:"score"`
	Summary        string    `json:"summary,omitempty"`
	BestName       string    `json:"best_name,omitempty"`
	BestValue      float64   `json:"best_value"`
	BestStr        string    `json:"best_str,omitempty"`
	RestartsOK     int       `json:"restarts_ok"`
	RestartsFailed int       `json:"restarts_failed"`
}

// Scheduler closes the competition week once per ISO week inside the
// configured window (Sunday 23:59 local by default).
type Scheduler struct {
	cfg       config.RolloverConfig
	miners    []config.MinerConfig
	baselines map[string]config.ModelBaseline

	source    SnapshotSource
	ledger    *state.BlockLedger
	weekly    *state.WeeklyBest
	prior     *state.Record[state.WeeklyPriorRecord]
	motw      *state.Record[state.MinerOfWeekRecord]
	restarter Restarter
	archive   Archive

	now   func() time.Time
	mu    sync.Mutex
	phase Phase
	last  atomic.Pointer[Outcome]

	// RolloverChan receives each completed rollover (non-blocking)
	RolloverChan chan *Outcome
}

// SchedulerDeps groups the state the scheduler mutates.
type SchedulerDeps struct {
	Source    SnapshotSource
	Ledger    *state.BlockLedger
	Weekly    *state.WeeklyBest
	Prior     *state.Record[state.WeeklyPriorRecord]
	MinerWeek *state.Record[state.MinerOfWeekRecord]
	Restarter Restarter
	Archive   Archive
}

// NewScheduler creates a scheduler. Archive and Restarter may be nil.
func NewScheduler(cfg *config.Config, deps SchedulerDeps) *Scheduler {
	return &Scheduler{
		cfg:          cfg.Rollover,
		miners:       append([]config.MinerConfig(nil), cfg.Miners...),
		baselines:    cfg.ModelBaselines,
		source:       deps.Source,
		ledger:       deps.Ledger,
		weekly:       deps.Weekly,
		prior:        deps.Prior,
		motw:         deps.MinerWeek,
		restarter:    deps.Restarter,
		archive:      deps.Archive,
		now:          time.Now,
		RolloverChan: make(chan *Outcome, 1),
	}
}

// WeekKey formats the ISO week of t as YYYY-Www.
func WeekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// InWindow reports whether t falls inside the rollover window: the
// configured weekday, the configured hour, at or after the configured minute.
func (s *Scheduler) InWindow(t time.Time) bool {
	return int(t.Weekday()) == s.cfg.Weekday && t.Hour() == s.cfg.Hour && t.Minute() >= s.cfg.Minute
}

// NextRollover returns the start of the next window at or after t.
func (s *Scheduler) NextRollover(t time.Time) time.Time {
	days := (s.cfg.Weekday - int(t.Weekday()) + 7) % 7
	next := time.Date(t.Year(), t.Month(), t.Day()+days, s.cfg.Hour, s.cfg.Minute, 0, 0, t.Location())
	if next.Before(t) && !s.InWindow(t) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// Phase returns the phase seen by the last Check.
func (s *Scheduler) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// LastOutcome returns the most recent rollover performed by this process.
func (s *Scheduler) LastOutcome() *Outcome {
	return s.last.Load()
}

// Run checks the window every CheckSeconds until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := config.Seconds(s.cfg.CheckSeconds)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Weekly rollover scheduled for %s", s.NextRollover(s.now()).Format("Mon 2006-01-02 15:04"))

	s.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check evaluates the window and performs the rollover when it is due. The
// last completed week is persisted with the block ledger, so a restart inside
// the window does not roll over twice.
func (s *Scheduler) Check(ctx context.Context) (*Outcome, bool) {
	now := s.now()
	key := WeekKey(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.InWindow(now):
		s.phase = Idle
		return nil, false
	case s.ledger.LastRolloverWeek() == key:
		s.phase = RolloverComplete
		return nil, false
	}

	s.phase = RolloverDue
	out := s.rollover(ctx, now, key)
	s.phase = RolloverComplete
	return out, true
}

func (s *Scheduler) rollover(ctx context.Context, now time.Time, key string) *Outcome {
	log.Printf("Weekly rollover %s starting", key)
	out := &Outcome{WeekISO: key, At: now}

	var miners []collector.MinerState
	if snap := s.source.Snapshot(); snap != nil {
		miners = snap.Miners
	}

	if name, value, ok := LeaderByDifficulty(miners); ok {
		v := value
		out.BestName, out.BestValue, out.BestStr = name, value, format.DifficultyAdaptive(value)
		rec := state.WeeklyPriorRecord{PrevName: name, PrevValue: &v, PrevStr: out.BestStr}
		if err := s.prior.Set(rec); err != nil {
			log.Printf("Saving previous week best failed: %v", err)
		}
	}

	_, startCounts := s.ledger.WeekStart()
	res := Score(miners, startCounts, s.baselines)
	if res.Found {
		out.Winner, out.Score, out.Summary = res.Winner, res.Score, res.Summary
		score := res.Score
		rec := state.MinerOfWeekRecord{PrevName: res.Winner, PrevScore: &score, PrevStr: res.Summary, PrevWeekISO: key}
		if err := s.motw.Set(rec); err != nil {
			log.Printf("Saving miner of the week failed: %v", err)
		}
		log.Printf("%s", res.Summary)
	}

	weekStart, err := s.ledger.ResetWeek(now, key)
	if err != nil {
		log.Printf("Saving new week baseline failed: %v", err)
	}
	if err := s.weekly.Reset(weekStart); err != nil {
		log.Printf("Resetting weekly best failed: %v", err)
	}

	if s.cfg.RestartMiners && s.restarter != nil {
		out.RestartsOK, out.RestartsFailed = s.restartAll(ctx)
	}

	if s.archive != nil {
		err := s.archive.InsertWeeklyResult(&storage.WeeklyResult{
			WeekISO:        out.WeekISO,
			Timestamp:      out.At,
			Winner:         out.Winner,
			Score:          out.Score,
			Summary:        out.Summary,
			BestName:       out.BestName,
			BestValue:      out.BestValue,
			BestStr:        out.BestStr,
			RestartsOK:     out.RestartsOK,
			RestartsFailed: out.RestartsFailed,
		})
		if err != nil {
			log.Printf("Archiving week %s failed: %v", key, err)
		}
	}

	metrics.Rollovers.Inc()
	s.last.Store(out)
	log.Printf("Weekly rollover %s complete (restarts ok=%d failed=%d)", key, out.RestartsOK, out.RestartsFailed)

	select {
	case s.RolloverChan <- out:
	default:
	}
	return out
}

// restartAll asks every configured device to reboot, a few at a time.
// Failures are counted and logged, never retried.
func (s *Scheduler) restartAll(ctx context.Context) (ok, failed int) {
	parallel := s.cfg.RestartParallel
	if parallel <= 0 {
		parallel = 1
	}

	var okCount, failCount atomic.Int32
	swg := sizedwaitgroup.New(parallel)
	for _, m := range s.miners {
		swg.Add()
		go func(m config.MinerConfig) {
			defer swg.Done()
			if err := s.restarter.Restart(ctx, m.IP); err != nil {
				log.Printf("Restart %s (%s) failed: %v", m.Name, m.IP, err)
				failCount.Add(1)
				return
			}
			okCount.Add(1)
		}(m)
	}
	swg.Wait()
	return int(okCount.Load()), int(failCount.Load())
}
