package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camarigor/minerdash/internal/alerts"
	"github.com/camarigor/minerdash/internal/cache"
	"github.com/camarigor/minerdash/internal/collector"
	"github.com/camarigor/minerdash/internal/competition"
	"github.com/camarigor/minerdash/internal/config"
	"github.com/camarigor/minerdash/internal/jsonx"
	"github.com/camarigor/minerdash/internal/metrics"
	"github.com/camarigor/minerdash/internal/pricing"
	"github.com/camarigor/minerdash/internal/scanner"
	"github.com/camarigor/minerdash/internal/state"
	"github.com/camarigor/minerdash/internal/storage"
)

// Deps are the components the HTTP surface reads from. Market, Notifier,
// Storage, Mirror and Scanner may be nil.
type Deps struct {
	Collector *collector.Collector
	Scheduler *competition.Scheduler
	Prior     *state.Record[state.WeeklyPriorRecord]
	MinerWeek *state.Record[state.MinerOfWeekRecord]
	Market    *pricing.Service
	Notifier  *alerts.Notifier
	Storage   *storage.SQLiteStorage
	Mirror    *cache.Mirror
	Scanner   *scanner.Scanner
}

// Server represents the HTTP API server
type Server struct {
	cfg  *config.Config
	deps Deps
	feed *feedBuilder
	hub  *WebSocketHub
	now  func() time.Time

	server *http.Server
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:  cfg,
		deps: deps,
		feed: &feedBuilder{
			cfg:       cfg,
			collector: deps.Collector,
			prior:     deps.Prior,
			motw:      deps.MinerWeek,
			market:    deps.Market,
		},
		hub: NewWebSocketHub(),
		now: time.Now,
	}
}

// Router builds the chi router with every route mounted
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(countRequests)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	// legacy path used by older dashboard clients
	r.Get("/data", s.handleData)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(10 * time.Second))
			r.Get("/data", s.handleData)
			r.Get("/competition", s.handleCompetition)
			r.Get("/miners/{name}/history", s.handleMinerHistory)
			r.Get("/blocks", s.handleBlocks)
			r.Get("/weeks", s.handleWeeks)
			r.Post("/alerts/test", s.handleTestAlert)
		})

		r.Post("/scan", s.handleScan)
		r.Get("/ws", s.handleWebSocket)
	})

	r.Get("/*", s.handleStatic)
	return r
}

// Start runs the hub, the event forwarder and the HTTP listener. It returns
// http.ErrServerClosed after Stop.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run()
	go s.forwardEvents(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  config.Seconds(s.cfg.Server.ReadTimeoutSeconds),
		WriteTimeout: config.Seconds(s.cfg.Server.WriteTimeoutSeconds),
	}

	log.Printf("Starting HTTP server on %s", addr)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// forwardEvents fans collector and scheduler events out to websocket
// clients, the history database and the Redis mirror.
func (s *Server) forwardEvents(ctx context.Context) {
	var rollovers chan *competition.Outcome
	if s.deps.Scheduler != nil {
		rollovers = s.deps.Scheduler.RolloverChan
	}

	for {
		select {
		case <-ctx.Done():
			return

		case snap := <-s.deps.Collector.SnapshotChan:
			s.publishSnapshot(ctx, snap)

		case ev := <-s.deps.Collector.BlockChan:
			s.publishBlock(ev)

		case out := <-rollovers:
			log.Printf("Broadcasting rollover for %s", out.WeekISO)
			s.hub.Broadcast(Message{Type: "rollover", Data: out})
		}
	}
}

func (s *Server) publishSnapshot(ctx context.Context, snap *collector.Snapshot) {
	feed := s.feed.build(s.now())
	s.hub.Broadcast(Message{Type: "snapshot", Data: feed})

	if s.deps.Storage != nil {
		for _, m := range snap.Miners {
			if err := s.deps.Storage.InsertSnapshot(toStorageSnapshot(m, snap.UpdatedAt)); err != nil {
				log.Printf("Failed to store snapshot for %s: %v", m.Name, err)
			}
		}
	}

	if s.deps.Mirror != nil {
		data, err := jsonx.Marshal(feed)
		if err != nil {
			log.Printf("Failed to encode feed for Redis: %v", err)
			return
		}
		if err := s.deps.Mirror.Publish(ctx, data); err != nil {
			log.Printf("Redis publish failed: %v", err)
		}
	}
}

func (s *Server) publishBlock(ev *collector.BlockEvent) {
	log.Printf("Broadcasting block event from %s", ev.Miner)
	s.hub.Broadcast(Message{Type: "block", Data: blockMessage{
		Miner:  ev.Miner,
		Delta:  ev.Delta,
		Total:  ev.Total,
		TSUnix: ev.At.Unix(),
		IsTest: ev.IsTest,
	}})

	if ev.IsTest || s.deps.Storage == nil {
		return
	}
	err := s.deps.Storage.InsertBlock(&storage.Block{
		MinerName: ev.Miner,
		MinerIP:   ev.IP,
		Timestamp: ev.At,
		Delta:     ev.Delta,
		Total:     ev.Total,
	})
	if err != nil {
		log.Printf("Failed to store block for %s: %v", ev.Miner, err)
	}
}

type blockMessage struct {
	Miner  string `json:"miner"`
	Delta  int64  `json:"delta"`
	Total  int64  `json:"total"`
	TSUnix int64  `json:"ts_unix"`
	IsTest bool   `json:"is_test"`
}

func toStorageSnapshot(m collector.MinerState, at time.Time) *storage.MinerSnapshot {
	return &storage.MinerSnapshot{
		MinerName:      m.Name,
		MinerIP:        m.IP,
		Timestamp:      at,
		Online:         m.Online,
		HashrateTHs:    derefFloat(m.HashrateTHs),
		ASICTemp:       derefFloat(m.ASICTemp),
		VRTemp:         derefFloat(m.VRTemp),
		FanSpeed:       derefFloat(m.FanSpeed),
		SharesAccepted: derefInt(m.SharesAccepted),
		SharesRejected: derefInt(m.SharesRejected),
		SessionBest:    derefFloat(m.SessionBest),
		WeeklyBest:     derefFloat(m.WeeklyBest),
		BestOverall:    derefFloat(m.BestOverall),
		UptimeSecs:     derefInt(m.UptimeSeconds),
		Blocks:         m.Blocks,
	}
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefInt(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// countRequests records every request by its route pattern
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
