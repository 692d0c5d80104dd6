package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/camarigor/minerdash/internal/jsonx"
)

// BlocksRecord is the persisted shape of blocks.json.
type BlocksRecord struct {
	Counts           map[string]int64 `json:"counts"`
	LastTS           map[string]int64 `json:"last_ts"`
	LastAnyTS        *int64           `json:"last_any_ts"`
	ReportedLast     map[string]int64 `json:"reported_last"`
	WeekStartCounts  map[string]int64 `json:"week_start_counts"`
	WeekStartUnix    int64            `json:"week_start_unix"`
	LastRolloverWeek string           `json:"last_rollover_week,omitempty"`
}

// WeeklyCurrentRecord is the persisted shape of weekly_current.json.
type WeeklyCurrentRecord struct {
	WeekStartUnix int64              `json:"week_start_unix"`
	Current       map[string]float64 `json:"current"`
}

// WeeklyPriorRecord summarises the best difficulty of the week that just ended.
type WeeklyPriorRecord struct {
	PrevName  string   `json:"prev_name,omitempty"`
	PrevValue *float64 `json:"prev_value"`
	PrevStr   string   `json:"prev_str,omitempty"`
}

// MinerOfWeekRecord is the last weekly competition winner.
type MinerOfWeekRecord struct {
	PrevName    string `json:"prev_name,omitempty"`
	PrevScore   *int   `json:"prev_score"`
	PrevStr     string `json:"prev_str,omitempty"`
	PrevWeekISO string `json:"prev_week_iso,omitempty"`
}

func newBlocksRecord(now time.Time) BlocksRecord {
	return BlocksRecord{
		Counts:          map[string]int64{},
		LastTS:          map[string]int64{},
		ReportedLast:    map[string]int64{},
		WeekStartCounts: map[string]int64{},
		WeekStartUnix:   now.Unix(),
	}
}

// parseBlocksRecord reads the current document shape and the legacy one, a
// bare {"miner": count} object. Values that are not numbers are coerced or
// dropped rather than failing the whole file.
func parseBlocksRecord(data []byte, now time.Time) (BlocksRecord, error) {
	var doc map[string]any
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return BlocksRecord{}, err
	}
	if doc == nil {
		return BlocksRecord{}, fmt.Errorf("blocks document is not an object")
	}

	rec := newBlocksRecord(now)

	counts, ok := doc["counts"].(map[string]any)
	if !ok {
		// legacy shape: every key is a miner name
		for name, v := range doc {
			n, _ := toInt64(v)
			rec.Counts[name] = n
		}
		rec.WeekStartCounts = copyCounts(rec.Counts)
		return rec, nil
	}

	for name, v := range counts {
		n, _ := toInt64(v)
		rec.Counts[name] = n
	}
	if m, ok := doc["last_ts"].(map[string]any); ok {
		for name, v := range m {
			if n, ok := toInt64(v); ok {
				rec.LastTS[name] = n
			}
		}
	}
	if m, ok := doc["reported_last"].(map[string]any); ok {
		for name, v := range m {
			if n, ok := toInt64(v); ok {
				rec.ReportedLast[name] = n
			}
		}
	}
	if n, ok := toInt64(doc["last_any_ts"]); ok {
		rec.LastAnyTS = &n
	}
	if s, ok := doc["last_rollover_week"].(string); ok {
		rec.LastRolloverWeek = s
	}

	wsu, hasWeek := toInt64(doc["week_start_unix"])
	if !hasWeek {
		rec.WeekStartCounts = copyCounts(rec.Counts)
		return rec, nil
	}
	rec.WeekStartUnix = wsu
	if m, ok := doc["week_start_counts"].(map[string]any); ok {
		for name, v := range m {
			n, _ := toInt64(v)
			rec.WeekStartCounts[name] = n
		}
	}
	return rec, nil
}

func parseWeeklyCurrentRecord(data []byte) (WeeklyCurrentRecord, bool, error) {
	var doc map[string]any
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return WeeklyCurrentRecord{}, false, err
	}
	if doc == nil {
		return WeeklyCurrentRecord{}, false, fmt.Errorf("weekly document is not an object")
	}

	rec := WeeklyCurrentRecord{Current: map[string]float64{}}
	wsu, tagged := toInt64(doc["week_start_unix"])
	rec.WeekStartUnix = wsu

	if m, ok := doc["current"].(map[string]any); ok {
		for name, v := range m {
			if f, ok := toFloat64(v); ok {
				rec.Current[name] = f
			}
		}
	}
	return rec, tagged, nil
}

func toInt64(v any) (int64, bool) {
	f, ok := toFloat64(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
