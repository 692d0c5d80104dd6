package competition

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/camarigor/minerdash/internal/collector"
	"github.com/camarigor/minerdash/internal/config"
	"github.com/camarigor/minerdash/internal/state"
	"github.com/camarigor/minerdash/internal/storage"
)

func i64(v int64) *int64 { return &v }

func f64(v float64) *float64 { return &v }

var testBaselines = map[string]config.ModelBaseline{
	"NerdQAxe++": {HashrateTHs: 5.0, SharesPerHour: 40},
}

func TestScoreEmpty(t *testing.T) {
	res := Score(nil, nil, testBaselines)
	if res.Found {
		t.Errorf("empty fleet should have no winner, got %+v", res)
	}
}

func TestScoreSingleBlockWins(t *testing.T) {
	miners := []collector.MinerState{
		{Name: "alpha", Model: "NerdQAxe++", Blocks: 5, WeeklyBest: f64(1000)},
		{Name: "beta", Model: "NerdQAxe++", Blocks: 1, WeeklyBest: f64(1000)},
	}
	// alpha's 5 blocks all predate the week
	start := map[string]int64{"alpha": 5, "beta": 0}

	res := Score(miners, start, testBaselines)
	if !res.Found || res.Winner != "beta" {
		t.Fatalf("winner = %q, want beta", res.Winner)
	}
	// blocks 0.40 + difficulty 0.25
	if res.Score != 65 {
		t.Errorf("score = %d, want 65", res.Score)
	}
	if res.Rows[0].BlocksWeek != 0 || res.Rows[1].BlocksWeek != 1 {
		t.Errorf("blocks this week = %d, %d", res.Rows[0].BlocksWeek, res.Rows[1].BlocksWeek)
	}
}

func TestScoreFullComponents(t *testing.T) {
	tel := collector.Telemetry{
		Online:         true,
		HashrateTHs:    f64(7.5),     // 150% of baseline, clamped to full marks
		SharesAccepted: i64(40 * 84), // 40/h over 84h = 100% of baseline
		UptimeSeconds:  i64(84 * 3600),
	}
	miners := []collector.MinerState{
		{Name: "alpha", Model: "NerdQAxe++", Telemetry: tel, Blocks: 2, WeeklyBest: f64(2e6)},
	}

	res := Score(miners, map[string]int64{}, testBaselines)
	// 0.40 + 0.25 + 0.15*1 + 0.10*(1/1.5) + 0.10*0.5 = 0.9166
	if res.Score != 92 {
		t.Errorf("score = %d, want 92", res.Score)
	}
	want := "🏆 Miner of the Week — alpha — Score 92 — Blocks 2 | Best 2.00M | HR 150% | Shares/hr 100% | Uptime 50%"
	if res.Summary != want {
		t.Errorf("summary =\n%s\nwant\n%s", res.Summary, want)
	}
}

func TestScoreMissingBaseline(t *testing.T) {
	miners := []collector.MinerState{
		{Name: "alpha", Model: "Unknown", Telemetry: collector.Telemetry{HashrateTHs: f64(5)}, WeeklyBest: f64(10)},
	}
	res := Score(miners, nil, testBaselines)
	if res.Rows[0].HashratePct != nil {
		t.Errorf("no baseline should give no hashrate pct")
	}
	if !strings.Contains(res.Summary, "HR — | Shares/hr —") {
		t.Errorf("summary = %s", res.Summary)
	}
}

func TestScoreDeterministicTieBreak(t *testing.T) {
	miners := []collector.MinerState{
		{Name: "zulu", Blocks: 1},
		{Name: "alpha", Blocks: 1},
	}
	for i := 0; i < 5; i++ {
		res := Score(miners, nil, nil)
		if res.Winner != "zulu" {
			t.Fatalf("tie should go to the first configured miner, got %s", res.Winner)
		}
	}
}

func TestLeaderByDifficulty(t *testing.T) {
	miners := []collector.MinerState{
		{Name: "alpha"},
		{Name: "beta", Telemetry: collector.Telemetry{SessionBest: f64(300)}},
		{Name: "gamma", WeeklyBest: f64(300)},
	}
	name, v, ok := LeaderByDifficulty(miners)
	if !ok || name != "beta" || v != 300 {
		t.Errorf("leader = %s %v %v", name, v, ok)
	}
	if _, _, ok := LeaderByDifficulty(miners[:1]); ok {
		t.Errorf("no values should give no leader")
	}
}

type staticSource struct{ snap *collector.Snapshot }

func (s staticSource) Snapshot() *collector.Snapshot { return s.snap }

type recordingRestarter struct {
	mu  sync.Mutex
	ips []string
}

func (r *recordingRestarter) Restart(ctx context.Context, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ips = append(r.ips, ip)
	if ip == "10.0.0.2" {
		return errors.New("timeout")
	}
	return nil
}

type memArchive struct {
	results []*storage.WeeklyResult
}

func (a *memArchive) InsertWeeklyResult(r *storage.WeeklyResult) error {
	a.results = append(a.results, r)
	return nil
}

type schedulerFixture struct {
	sched     *Scheduler
	store     *state.Store
	ledger    *state.BlockLedger
	weekly    *state.WeeklyBest
	prior     *state.Record[state.WeeklyPriorRecord]
	motw      *state.Record[state.MinerOfWeekRecord]
	restarter *recordingRestarter
	archive   *memArchive
}

func newSchedulerFixture(t *testing.T, store *state.Store, now time.Time) *schedulerFixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Miners = []config.MinerConfig{
		{Name: "alpha", IP: "10.0.0.1", Model: "NerdQAxe++"},
		{Name: "beta", IP: "10.0.0.2", Model: "NerdQAxe++"},
	}
	cfg.ModelBaselines = testBaselines

	f := &schedulerFixture{
		store:     store,
		ledger:    state.LoadBlockLedger(store, now.Add(-6*24*time.Hour)),
		prior:     state.LoadRecord[state.WeeklyPriorRecord](store, state.KindWeeklyPrior),
		motw:      state.LoadRecord[state.MinerOfWeekRecord](store, state.KindMinerOfWeek),
		restarter: &recordingRestarter{},
		archive:   &memArchive{},
	}
	ws, _ := f.ledger.WeekStart()
	f.weekly = state.LoadWeeklyBest(store, ws)

	snap := &collector.Snapshot{Miners: []collector.MinerState{
		{Name: "alpha", IP: "10.0.0.1", Model: "NerdQAxe++", Blocks: 1, WeeklyBest: f64(5000)},
		{Name: "beta", IP: "10.0.0.2", Model: "NerdQAxe++", WeeklyBest: f64(9000)},
	}}

	f.sched = NewScheduler(cfg, SchedulerDeps{
		Source:    staticSource{snap},
		Ledger:    f.ledger,
		Weekly:    f.weekly,
		Prior:     f.prior,
		MinerWeek: f.motw,
		Restarter: f.restarter,
		Archive:   f.archive,
	})
	f.sched.now = func() time.Time { return now }
	return f
}

// Sunday 2026-03-08 is in ISO week 10.
var sundayWindow = time.Date(2026, 3, 8, 23, 59, 10, 0, time.Local)

func TestRolloverFiresOncePerWeek(t *testing.T) {
	store, _ := state.NewStore(t.TempDir())
	f := newSchedulerFixture(t, store, sundayWindow)
	f.weekly.Observe("alpha", f64(5000))

	out, fired := f.sched.Check(context.Background())
	if !fired {
		t.Fatalf("rollover should fire inside the window")
	}
	if out.WeekISO != "2026-W10" {
		t.Errorf("week = %s", out.WeekISO)
	}
	if f.sched.Phase() != RolloverComplete {
		t.Errorf("phase = %s", f.sched.Phase())
	}

	if _, fired := f.sched.Check(context.Background()); fired {
		t.Errorf("second check in the same week must not fire")
	}

	prior := f.prior.Get()
	if prior.PrevName != "beta" || prior.PrevStr != "9.00K" {
		t.Errorf("prior week = %+v", prior)
	}
	motw := f.motw.Get()
	if motw.PrevName != "alpha" || motw.PrevWeekISO != "2026-W10" || motw.PrevScore == nil {
		t.Errorf("miner of the week = %+v", motw)
	}

	ws, _ := f.ledger.WeekStart()
	if ws != sundayWindow.Unix() {
		t.Errorf("week start = %d, want %d", ws, sundayWindow.Unix())
	}
	if len(f.weekly.All()) != 0 || f.weekly.WeekStart() != ws {
		t.Errorf("weekly best not reset: %v", f.weekly.All())
	}
	if len(f.restarter.ips) != 2 || out.RestartsOK != 1 || out.RestartsFailed != 1 {
		t.Errorf("restarts = %v ok=%d failed=%d", f.restarter.ips, out.RestartsOK, out.RestartsFailed)
	}
	if len(f.archive.results) != 1 || f.archive.results[0].Winner != "alpha" {
		t.Errorf("archive = %+v", f.archive.results)
	}
}

func TestRolloverGuardSurvivesRestart(t *testing.T) {
	store, _ := state.NewStore(t.TempDir())
	first := newSchedulerFixture(t, store, sundayWindow)
	if _, fired := first.sched.Check(context.Background()); !fired {
		t.Fatalf("first process should fire")
	}

	// a new process starting one second later, still inside the window
	second := newSchedulerFixture(t, store, sundayWindow.Add(time.Second))
	if _, fired := second.sched.Check(context.Background()); fired {
		t.Errorf("restarted process fired the same week again")
	}
	if second.sched.Phase() != RolloverComplete {
		t.Errorf("phase = %s, want complete", second.sched.Phase())
	}
}

func TestRolloverOutsideWindow(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
	}{
		{"sunday before window", time.Date(2026, 3, 8, 23, 58, 59, 0, time.Local)},
		{"monday just after", time.Date(2026, 3, 9, 0, 0, 5, 0, time.Local)},
		{"saturday 23:59", time.Date(2026, 3, 7, 23, 59, 30, 0, time.Local)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := state.NewStore(t.TempDir())
			f := newSchedulerFixture(t, store, tt.now)
			if _, fired := f.sched.Check(context.Background()); fired {
				t.Errorf("fired outside the window")
			}
			if f.sched.Phase() != Idle {
				t.Errorf("phase = %s, want idle", f.sched.Phase())
			}
		})
	}
}

func TestNextRollover(t *testing.T) {
	store, _ := state.NewStore(t.TempDir())
	f := newSchedulerFixture(t, store, sundayWindow)

	wed := time.Date(2026, 3, 4, 12, 0, 0, 0, time.Local)
	want := time.Date(2026, 3, 8, 23, 59, 0, 0, time.Local)
	if got := f.sched.NextRollover(wed); !got.Equal(want) {
		t.Errorf("NextRollover(wed) = %v, want %v", got, want)
	}
	if got := f.sched.NextRollover(sundayWindow); !got.Equal(want) {
		t.Errorf("inside the window NextRollover = %v, want %v", got, want)
	}
}

func TestWeekKey(t *testing.T) {
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Date(2026, 3, 8, 23, 59, 0, 0, time.UTC), "2026-W10"},
		{time.Date(2027, 1, 3, 23, 59, 0, 0, time.UTC), "2026-W53"},
		{time.Date(2026, 1, 4, 23, 59, 0, 0, time.UTC), "2026-W01"},
	}
	for _, tt := range tests {
		if got := WeekKey(tt.t); got != tt.want {
			t.Errorf("WeekKey(%v) = %s, want %s", tt.t, got, tt.want)
		}
	}
}
