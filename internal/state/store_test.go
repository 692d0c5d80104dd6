package state

import (
	"os"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func i64(v int64) *int64 { return &v }

func f64(v float64) *float64 { return &v }

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestSaveWritesBackup(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Save(KindWeeklyPrior, WeeklyPriorRecord{PrevName: "alpha"}); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := store.Save(KindWeeklyPrior, WeeklyPriorRecord{PrevName: "beta"}); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	if _, err := os.Stat(store.Path(KindWeeklyPrior) + ".bak"); err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if _, err := os.Stat(store.Path(KindWeeklyPrior) + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should be gone after rename, stat err = %v", err)
	}

	rec := LoadRecord[WeeklyPriorRecord](store, KindWeeklyPrior)
	if got := rec.Get().PrevName; got != "beta" {
		t.Errorf("PrevName = %q, want beta", got)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	score := 87
	motw := LoadRecord[MinerOfWeekRecord](store, KindMinerOfWeek)
	if motw.Get().PrevName != "" {
		t.Fatalf("fresh record should be empty, got %+v", motw.Get())
	}
	want := MinerOfWeekRecord{PrevName: "alpha", PrevScore: &score, PrevStr: "summary", PrevWeekISO: "2026-W09"}
	if err := motw.Set(want); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got := LoadRecord[MinerOfWeekRecord](store, KindMinerOfWeek).Get()
	if got.PrevName != want.PrevName || got.PrevStr != want.PrevStr || got.PrevWeekISO != want.PrevWeekISO {
		t.Errorf("reloaded %+v, want %+v", got, want)
	}
	if got.PrevScore == nil || *got.PrevScore != 87 {
		t.Errorf("PrevScore = %v, want 87", got.PrevScore)
	}
}

func TestRecordFlushRetriesFailedSave(t *testing.T) {
	store := setupTestStore(t)
	motw := LoadRecord[MinerOfWeekRecord](store, KindMinerOfWeek)

	// a directory where the temp file goes makes the write fail
	blocker := store.Path(KindMinerOfWeek) + ".tmp"
	if err := os.Mkdir(blocker, 0755); err != nil {
		t.Fatal(err)
	}

	score := 71
	if err := motw.Set(MinerOfWeekRecord{PrevName: "alpha", PrevScore: &score}); err == nil {
		t.Fatalf("Set should fail while the temp path is blocked")
	}
	if got := motw.Get().PrevName; got != "alpha" {
		t.Errorf("in-memory value = %q, want alpha", got)
	}
	if err := motw.Flush(); err == nil {
		t.Errorf("Flush should still fail while blocked")
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatal(err)
	}
	if err := motw.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	got := LoadRecord[MinerOfWeekRecord](store, KindMinerOfWeek).Get()
	if got.PrevName != "alpha" || got.PrevScore == nil || *got.PrevScore != 71 {
		t.Errorf("reloaded %+v, want alpha with score 71", got)
	}
	if err := motw.Flush(); err != nil {
		t.Errorf("clean Flush returned %v", err)
	}
}

func TestCorruptPrimaryFallsBackToBackup(t *testing.T) {
	store := setupTestStore(t)

	ledger := LoadBlockLedger(store, t0)
	ledger.Reconcile("alpha", i64(3), t0)
	ledger.Reconcile("alpha", i64(5), t0.Add(time.Minute))
	// the .bak now holds the state before the last write
	ledger.Reconcile("alpha", i64(6), t0.Add(2*time.Minute))

	if err := os.WriteFile(store.Path(KindBlocks), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded := LoadBlockLedger(store, t0.Add(time.Hour))
	if got := reloaded.Count("alpha"); got != 2 {
		t.Errorf("Count from backup = %d, want 2", got)
	}
	if got, _ := reloaded.ReportedLast("alpha"); got != 5 {
		t.Errorf("ReportedLast from backup = %d, want 5", got)
	}
}

func TestBothFilesCorruptStartsEmpty(t *testing.T) {
	store := setupTestStore(t)

	for _, path := range []string{store.Path(KindBlocks), store.Path(KindBlocks) + ".bak"} {
		if err := os.WriteFile(path, []byte("[1,2"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	ledger := LoadBlockLedger(store, t0)
	if got := ledger.Count("alpha"); got != 0 {
		t.Errorf("Count = %d, want 0", got)
	}
	ws, counts := ledger.WeekStart()
	if ws != t0.Unix() {
		t.Errorf("week start = %d, want %d", ws, t0.Unix())
	}
	if len(counts) != 0 {
		t.Errorf("week start counts = %v, want empty", counts)
	}
	if ledger.LastAnyBlock() != nil {
		t.Errorf("LastAnyBlock should be nil")
	}
}

func TestLegacyBlocksUpgrade(t *testing.T) {
	store := setupTestStore(t)

	legacy := `{"alpha": 4, "beta": "2", "gamma": null}`
	if err := os.WriteFile(store.Path(KindBlocks), []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	ledger := LoadBlockLedger(store, t0)

	tests := []struct {
		name string
		want int64
	}{
		{"alpha", 4},
		{"beta", 2},
		{"gamma", 0},
	}
	for _, tt := range tests {
		if got := ledger.Count(tt.name); got != tt.want {
			t.Errorf("Count(%s) = %d, want %d", tt.name, got, tt.want)
		}
	}

	ws, counts := ledger.WeekStart()
	if ws != t0.Unix() {
		t.Errorf("week start = %d, want load time %d", ws, t0.Unix())
	}
	if counts["alpha"] != 4 || counts["beta"] != 2 {
		t.Errorf("week start counts = %v, want seeded from loaded counts", counts)
	}

	// the upgraded shape is written back
	data, err := os.ReadFile(store.Path(KindBlocks))
	if err != nil {
		t.Fatal(err)
	}
	rec, err := parseBlocksRecord(data, t0)
	if err != nil {
		t.Fatalf("rewritten file does not parse: %v", err)
	}
	if rec.WeekStartUnix != t0.Unix() || rec.Counts["alpha"] != 4 {
		t.Errorf("rewritten record = %+v", rec)
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name         string
		reports      []*int64
		wantCount    int64
		wantReported int64
		wantDeltas   []int64
	}{
		{
			name:         "first observation only seeds",
			reports:      []*int64{i64(10)},
			wantCount:    0,
			wantReported: 10,
			wantDeltas:   []int64{0},
		},
		{
			name:         "increase credits the delta",
			reports:      []*int64{i64(1), i64(3)},
			wantCount:    2,
			wantReported: 3,
			wantDeltas:   []int64{0, 2},
		},
		{
			name:         "reset rebaselines without crediting",
			reports:      []*int64{i64(10), i64(7), i64(9)},
			wantCount:    2,
			wantReported: 9,
			wantDeltas:   []int64{0, 0, 2},
		},
		{
			name:         "missing counter changes nothing",
			reports:      []*int64{i64(5), nil, i64(6)},
			wantCount:    1,
			wantReported: 6,
			wantDeltas:   []int64{0, 0, 1},
		},
		{
			name:         "reset to zero then climb",
			reports:      []*int64{i64(3), i64(0), i64(0), i64(1)},
			wantCount:    1,
			wantReported: 1,
			wantDeltas:   []int64{0, 0, 0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := LoadBlockLedger(setupTestStore(t), t0)

			var prev int64
			for i, r := range tt.reports {
				rec, err := ledger.Reconcile("alpha", r, t0.Add(time.Duration(i)*time.Second))
				if err != nil {
					t.Fatalf("Reconcile failed: %v", err)
				}
				if rec.Delta != tt.wantDeltas[i] {
					t.Errorf("step %d: delta = %d, want %d", i, rec.Delta, tt.wantDeltas[i])
				}
				if rec.Count < prev {
					t.Errorf("step %d: count went backwards %d -> %d", i, prev, rec.Count)
				}
				prev = rec.Count
			}

			if got := ledger.Count("alpha"); got != tt.wantCount {
				t.Errorf("Count = %d, want %d", got, tt.wantCount)
			}
			if got, _ := ledger.ReportedLast("alpha"); got != tt.wantReported {
				t.Errorf("ReportedLast = %d, want %d", got, tt.wantReported)
			}
		})
	}
}

func TestReconcilePersistsAcrossRestart(t *testing.T) {
	store := setupTestStore(t)

	ledger := LoadBlockLedger(store, t0)
	ledger.Reconcile("alpha", i64(1), t0)
	ledger.Reconcile("alpha", i64(4), t0.Add(time.Minute))

	reloaded := LoadBlockLedger(store, t0.Add(time.Hour))
	if got := reloaded.Count("alpha"); got != 3 {
		t.Errorf("Count after restart = %d, want 3", got)
	}
	ts, ok := reloaded.LastBlock("alpha")
	if !ok || ts != t0.Add(time.Minute).Unix() {
		t.Errorf("LastBlock = %d, %v", ts, ok)
	}
	if last := reloaded.LastAnyBlock(); last == nil || *last != t0.Add(time.Minute).Unix() {
		t.Errorf("LastAnyBlock = %v", last)
	}

	// the device restarted while we were down
	rec, _ := reloaded.Reconcile("alpha", i64(0), t0.Add(2*time.Hour))
	if !rec.Reset || rec.Count != 3 {
		t.Errorf("after device reset got %+v, want Reset with count 3", rec)
	}
}

func TestWeekBaselineSurvivesRestart(t *testing.T) {
	store := setupTestStore(t)

	ledger := LoadBlockLedger(store, t0)
	ledger.Reconcile("alpha", i64(0), t0)
	ledger.Reconcile("alpha", i64(1), t0.Add(time.Minute))
	ws, before := ledger.WeekStart()
	if len(before) != 0 {
		t.Fatalf("fresh ledger baseline = %v, want empty", before)
	}

	reloaded := LoadBlockLedger(store, t0.Add(time.Hour))
	gotWS, after := reloaded.WeekStart()
	if gotWS != ws {
		t.Errorf("week start = %d after restart, want %d", gotWS, ws)
	}
	if after["alpha"] != 0 {
		t.Errorf("baseline after restart = %v, want alpha=0", after)
	}
	if got := reloaded.Count("alpha") - after["alpha"]; got != 1 {
		t.Errorf("blocks this week after restart = %d, want 1", got)
	}
}

func TestResetWeek(t *testing.T) {
	store := setupTestStore(t)

	ledger := LoadBlockLedger(store, t0)
	ledger.Reconcile("alpha", i64(0), t0)
	ledger.Reconcile("alpha", i64(2), t0)

	later := t0.Add(6 * 24 * time.Hour)
	ws, err := ledger.ResetWeek(later, "2026-W10")
	if err != nil {
		t.Fatalf("ResetWeek failed: %v", err)
	}
	if ws != later.Unix() {
		t.Errorf("week start = %d, want %d", ws, later.Unix())
	}

	reloaded := LoadBlockLedger(store, later.Add(time.Minute))
	if got := reloaded.LastRolloverWeek(); got != "2026-W10" {
		t.Errorf("LastRolloverWeek = %q, want 2026-W10", got)
	}
	_, counts := reloaded.WeekStart()
	if counts["alpha"] != 2 {
		t.Errorf("week start counts = %v, want alpha=2", counts)
	}
}

func TestWeeklyBest(t *testing.T) {
	store := setupTestStore(t)
	week := t0.Unix()

	w := LoadWeeklyBest(store, week)

	got, err := w.Observe("alpha", f64(500))
	if err != nil || got == nil || *got != 500 {
		t.Fatalf("first Observe = %v, %v", got, err)
	}
	// a lower session best after a device restart does not lower the week
	got, _ = w.Observe("alpha", f64(20))
	if *got != 500 {
		t.Errorf("weekly best dropped to %v", *got)
	}
	got, _ = w.Observe("alpha", f64(900))
	if *got != 900 {
		t.Errorf("weekly best = %v, want 900", *got)
	}
	got, _ = w.Observe("alpha", nil)
	if got == nil || *got != 900 {
		t.Errorf("Observe(nil) = %v, want stored 900", got)
	}
	if got, _ := w.Observe("beta", nil); got != nil {
		t.Errorf("unknown miner with no sample = %v, want nil", *got)
	}

	same := LoadWeeklyBest(store, week)
	if v, ok := same.Get("alpha"); !ok || v != 900 {
		t.Errorf("reloaded Get = %v, %v", v, ok)
	}

	stale := LoadWeeklyBest(store, week+604800)
	if len(stale.All()) != 0 {
		t.Errorf("values from a previous week should be discarded, got %v", stale.All())
	}

	if err := w.Reset(week + 604800); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if len(w.All()) != 0 {
		t.Errorf("Reset left %v", w.All())
	}
	if w.WeekStart() != week+604800 {
		t.Errorf("WeekStart = %d", w.WeekStart())
	}
}

func TestParseBlocksRecordLenient(t *testing.T) {
	doc := `{
		"counts": {"alpha": "7", "beta": 2.0},
		"last_ts": {"alpha": "bad"},
		"reported_last": {"alpha": 7},
		"last_any_ts": null,
		"week_start_unix": 1700000000,
		"week_start_counts": {"alpha": 5}
	}`
	rec, err := parseBlocksRecord([]byte(doc), t0)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rec.Counts["alpha"] != 7 || rec.Counts["beta"] != 2 {
		t.Errorf("counts = %v", rec.Counts)
	}
	if _, ok := rec.LastTS["alpha"]; ok {
		t.Errorf("unparseable last_ts should be dropped")
	}
	if rec.LastAnyTS != nil {
		t.Errorf("last_any_ts = %v, want nil", *rec.LastAnyTS)
	}
	if rec.WeekStartUnix != 1700000000 || rec.WeekStartCounts["alpha"] != 5 {
		t.Errorf("week = %d %v", rec.WeekStartUnix, rec.WeekStartCounts)
	}

	if _, err := parseBlocksRecord([]byte(`[1,2,3]`), t0); err == nil {
		t.Errorf("array document should be rejected")
	}
}
