// Package competition scores the weekly Miner of the Week contest and runs
// the Sunday-night rollover that closes each week.
package competition

import (
	"fmt"
	"math"

	"github.com/camarigor/minerdash/internal/collector"
	"github.com/camarigor/minerdash/internal/config"
	"github.com/camarigor/minerdash/internal/format"
)

// Component weights; they sum to 1.
const (
	weightBlocks     = 0.40
	weightDifficulty = 0.25
	weightHashrate   = 0.15
	weightShares     = 0.10
	weightUptime     = 0.10
)

const weekSeconds = 7 * 24 * 3600

// Row is one miner's scoring inputs and result.
type Row struct {
	Name          string   `json:"name"`
	BlocksWeek    int64    `json:"blocks_week"`
	WeeklyBest    float64  `json:"weekly_best"`
	HashratePct   *float64 `json:"hashrate_pct"`
	SharesHourPct *float64 `json:"shares_per_hour_pct"`
	UptimeFrac    float64  `json:"uptime_frac"`
	Score         float64  `json:"score"`
}

// Result is the scorer's verdict. Rows keep the input order.
type Result struct {
	Found   bool   `json:"found"`
	Winner  string `json:"winner,omitempty"`
	Score   int    `json:"score"`
	Summary string `json:"summary,omitempty"`
	Rows    []Row  `json:"rows"`
}

// Score ranks miners for the week. Ties go to the miner listed first.
func Score(miners []collector.MinerState, weekStartCounts map[string]int64, baselines map[string]config.ModelBaseline) Result {
	res := Result{Rows: make([]Row, 0, len(miners))}
	if len(miners) == 0 {
		return res
	}

	var maxBlocks int64
	var maxDiff float64

	for _, m := range miners {
		base, hasBase := baselines[m.Model]

		blocksWeek := m.Blocks - weekStartCounts[m.Name]
		if blocksWeek < 0 {
			blocksWeek = 0
		}

		row := Row{
			Name:       m.Name,
			BlocksWeek: blocksWeek,
			WeeklyBest: weeklyDifficulty(m),
		}

		var uptime float64
		if m.UptimeSeconds != nil {
			uptime = float64(*m.UptimeSeconds)
		}
		if m.HashrateTHs != nil && hasBase {
			row.HashratePct = ratioPct(*m.HashrateTHs, base.HashrateTHs)
		}
		if m.SharesAccepted != nil && uptime > 0 && hasBase {
			sph := float64(*m.SharesAccepted) / (uptime / 3600.0)
			row.SharesHourPct = ratioPct(sph, base.SharesPerHour)
		}
		row.UptimeFrac = clamp(uptime/weekSeconds, 0, 1)

		if row.BlocksWeek > maxBlocks {
			maxBlocks = row.BlocksWeek
		}
		if row.WeeklyBest > maxDiff {
			maxDiff = row.WeeklyBest
		}
		res.Rows = append(res.Rows, row)
	}

	best := -1
	bestScore := -1.0
	for i := range res.Rows {
		r := &res.Rows[i]

		var blocksScore, diffScore, hrScore, sphScore float64
		if maxBlocks > 0 {
			blocksScore = float64(r.BlocksWeek) / float64(maxBlocks)
		}
		if maxDiff > 0 {
			diffScore = r.WeeklyBest / maxDiff
		}
		if r.HashratePct != nil {
			hrScore = clamp(*r.HashratePct/100.0, 0, 1.5) / 1.5
		}
		if r.SharesHourPct != nil {
			sphScore = clamp(*r.SharesHourPct/100.0, 0, 1.5) / 1.5
		}

		r.Score = weightBlocks*blocksScore +
			weightDifficulty*diffScore +
			weightHashrate*hrScore +
			weightShares*sphScore +
			weightUptime*r.UptimeFrac

		if r.Score > bestScore {
			bestScore = r.Score
			best = i
		}
	}

	if best < 0 {
		return res
	}

	w := res.Rows[best]
	res.Found = true
	res.Winner = w.Name
	res.Score = int(math.Round(clamp(bestScore, 0, 1) * 100))
	res.Summary = fmt.Sprintf("🏆 Miner of the Week — %s — Score %d — Blocks %d | Best %s | HR %s | Shares/hr %s | Uptime %d%%",
		w.Name, res.Score, w.BlocksWeek,
		format.DifficultyAdaptive(w.WeeklyBest),
		pctString(w.HashratePct), pctString(w.SharesHourPct),
		int(math.Round(w.UptimeFrac*100)))
	return res
}

// LeaderByDifficulty returns the miner with the highest weekly difficulty.
// Miners without a value are skipped; ties go to the miner listed first.
func LeaderByDifficulty(miners []collector.MinerState) (string, float64, bool) {
	var (
		name  string
		best  float64
		found bool
	)
	for _, m := range miners {
		v := m.WeeklyBest
		if v == nil {
			v = m.SessionBest
		}
		if v == nil {
			continue
		}
		if !found || *v > best {
			name, best, found = m.Name, *v, true
		}
	}
	return name, best, found
}

func weeklyDifficulty(m collector.MinerState) float64 {
	if m.WeeklyBest != nil {
		return *m.WeeklyBest
	}
	if m.SessionBest != nil {
		return *m.SessionBest
	}
	return 0
}

func ratioPct(actual, baseline float64) *float64 {
	if baseline <= 0 {
		return nil
	}
	v := actual / baseline * 100.0
	return &v
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func pctString(v *float64) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%d%%", int(math.Round(*v)))
}
