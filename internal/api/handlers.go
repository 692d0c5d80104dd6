package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camarigor/minerdash/internal/alerts"
	"github.com/camarigor/minerdash/internal/competition"
	"github.com/camarigor/minerdash/internal/format"
	"github.com/camarigor/minerdash/internal/jsonx"
	"github.com/camarigor/minerdash/internal/scanner"
	"github.com/camarigor/minerdash/internal/state"
)

// CompetitionResponse is the live standings preview
type CompetitionResponse struct {
	WeekISO          string                  `json:"week_iso"`
	WeekStartUnix    int64                   `json:"week_start_unix"`
	Standings        competition.Result      `json:"standings"`
	LeaderName       string                  `json:"leader_name,omitempty"`
	LeaderStr        string                  `json:"leader_str,omitempty"`
	NextRolloverUnix int64                   `json:"next_rollover_unix"`
	TimeToRollover   string                  `json:"time_to_rollover"`
	Phase            string                  `json:"phase"`
	LastRollover     *competition.Outcome    `json:"last_rollover"`
	MinerOfWeek      state.MinerOfWeekRecord `json:"miner_of_week"`
	PriorWeekBest    state.WeeklyPriorRecord `json:"prior_week_best"`
}

// ScanResponse lists the subnets probed and the devices found
type ScanResponse struct {
	Subnets []string         `json:"subnets"`
	Results []scanner.Device `json:"results"`
}

// handleHealth reports liveness
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]bool{"ok": true})
}

// handleData returns the aggregated dashboard feed
// GET /api/data
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.feed.build(s.now()))
}

// handleCompetition scores the current snapshot as if the week ended now
// GET /api/competition
func (s *Server) handleCompetition(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	coll := s.deps.Collector
	snap := coll.Snapshot()
	weekStart, counts := coll.Ledger().WeekStart()

	resp := CompetitionResponse{
		WeekISO:       competition.WeekKey(now),
		WeekStartUnix: weekStart,
		Standings:     competition.Score(snap.Miners, counts, s.cfg.ModelBaselines),
	}
	if name, v, ok := competition.LeaderByDifficulty(snap.Miners); ok {
		resp.LeaderName = name
		resp.LeaderStr = format.DifficultyAdaptive(v)
	}
	if sched := s.deps.Scheduler; sched != nil {
		next := sched.NextRollover(now)
		resp.NextRolloverUnix = next.Unix()
		resp.TimeToRollover = format.Duration(next.Sub(now))
		resp.Phase = sched.Phase().String()
		resp.LastRollover = sched.LastOutcome()
	}
	if s.deps.MinerWeek != nil {
		resp.MinerOfWeek = s.deps.MinerWeek.Get()
	}
	if s.deps.Prior != nil {
		resp.PriorWeekBest = s.deps.Prior.Get()
	}

	s.jsonResponse(w, resp)
}

// handleMinerHistory returns stored snapshots for one configured miner
// GET /api/miners/{name}/history?hours=24&limit=1000
func (s *Server) handleMinerHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	name := chi.URLParam(r, "name")
	if !s.isConfiguredMiner(name) {
		http.Error(w, "unknown miner", http.StatusNotFound)
		return
	}

	hours := queryInt(r, "hours", 24)
	limit := queryInt(r, "limit", 1000)
	since := s.now().Add(-time.Duration(hours) * time.Hour)

	snapshots, err := s.deps.Storage.GetSnapshots(name, since, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, snapshots)
}

// handleBlocks returns credited blocks, newest first
// GET /api/blocks?days=30&limit=100
func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	days := queryInt(r, "days", 30)
	limit := queryInt(r, "limit", 100)

	blocks, err := s.deps.Storage.GetBlocks(s.now().AddDate(0, 0, -days), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, blocks)
}

// handleWeeks returns archived weekly results, newest first
// GET /api/weeks?limit=52
func (s *Server) handleWeeks(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	results, err := s.deps.Storage.GetWeeklyResults(queryInt(r, "limit", 52))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, results)
}

// handleTestAlert sends a test webhook and raises a test popup
// POST /api/alerts/test {"miner": "optional name"}
func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Miner string `json:"miner"`
	}
	// empty body is fine
	if body, err := io.ReadAll(io.LimitReader(r.Body, 4096)); err == nil && len(body) > 0 {
		if err := jsonx.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}

	miner := strings.TrimSpace(req.Miner)
	if miner == "" {
		miner = "Test Miner"
		if ms := s.deps.Collector.Miners(); len(ms) > 0 {
			miner = ms[0].Name
		}
	}

	now := s.now()
	sent := false
	if err := s.deps.Notifier.Test(miner, now); err == nil {
		sent = true
	} else if !errors.Is(err, alerts.ErrDisabled) {
		log.Printf("Test webhook failed: %v", err)
	}
	popup := s.deps.Collector.RecordTestPopup(miner, now)

	s.jsonResponse(w, map[string]any{
		"success":      true,
		"webhook_sent": sent,
		"popup":        popup,
	})
}

// handleScan probes local subnets, or the one given, for miners. The result
// is informational; the configured fleet is not changed.
// POST /api/scan {"subnet": "optional CIDR"}
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scanner == nil {
		http.Error(w, "scanner not available", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Subnet string `json:"subnet"`
	}
	if body, err := io.ReadAll(io.LimitReader(r.Body, 4096)); err == nil && len(body) > 0 {
		if err := jsonx.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}

	subnets := scanner.DetectSubnets()
	if req.Subnet != "" {
		subnets = []string{req.Subnet}
	}
	if len(subnets) == 0 {
		http.Error(w, "no network interfaces found", http.StatusInternalServerError)
		return
	}

	log.Printf("Scanning subnets: %v", subnets)
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	found := s.deps.Scanner.ScanAll(ctx, subnets)
	if found == nil {
		found = []scanner.Device{}
	}
	log.Printf("Scan complete: found %d miners", len(found))

	s.jsonResponse(w, ScanResponse{Subnets: subnets, Results: found})
}

// handleStatic serves the presentation client
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	root := s.cfg.Server.StaticDir
	index := filepath.Join(root, "index.html")

	path := filepath.Clean("/" + r.URL.Path)
	if path == "/" {
		s.serveFile(w, r, index)
		return
	}

	filePath := filepath.Join(root, filepath.FromSlash(path))
	if info, err := os.Stat(filePath); err != nil || info.IsDir() {
		s.serveFile(w, r, index)
		return
	}

	if strings.HasSuffix(path, ".js") {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	}
	http.ServeFile(w, r, filePath)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "dashboard client not installed", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) requireHistory(w http.ResponseWriter) bool {
	if s.deps.Storage == nil {
		http.Error(w, "history is disabled", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) isConfiguredMiner(name string) bool {
	for _, m := range s.deps.Collector.Miners() {
		if m.Name == name {
			return true
		}
	}
	return false
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

// jsonResponse sends a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	body, err := jsonx.Marshal(data)
	if err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
