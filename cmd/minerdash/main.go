package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/camarigor/minerdash/internal/alerts"
	"github.com/camarigor/minerdash/internal/api"
	"github.com/camarigor/minerdash/internal/cache"
	"github.com/camarigor/minerdash/internal/collector"
	"github.com/camarigor/minerdash/internal/competition"
	"github.com/camarigor/minerdash/internal/config"
	"github.com/camarigor/minerdash/internal/format"
	"github.com/camarigor/minerdash/internal/pricing"
	"github.com/camarigor/minerdash/internal/scanner"
	"github.com/camarigor/minerdash/internal/state"
	"github.com/camarigor/minerdash/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file (.json or .toml)")
	scanOnly := flag.Bool("scan", false, "scan local subnets for miners, print them and exit")
	subnet := flag.String("subnet", "", "subnet to scan with -scan (default: all local /24s)")
	flag.Parse()

	cfg := loadConfig(*configPath)
	client := collector.NewMinerClient(
		config.Seconds(cfg.Polling.TimeoutSeconds),
		config.Seconds(cfg.Polling.RestartTimeoutSeconds),
	)

	if *scanOnly {
		runScan(client, *subnet)
		return
	}

	log.Println("minerdash starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := state.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open state directory: %v", err)
	}
	now := time.Now()
	ledger := state.LoadBlockLedger(store, now)
	weekStart, _ := ledger.WeekStart()
	weekly := state.LoadWeeklyBest(store, weekStart)
	prior := state.LoadRecord[state.WeeklyPriorRecord](store, state.KindWeeklyPrior)
	motw := state.LoadRecord[state.MinerOfWeekRecord](store, state.KindMinerOfWeek)
	log.Printf("State loaded from %s (week started %s)", cfg.DataDir, time.Unix(weekStart, 0).Format("2006-01-02 15:04"))

	notifier := alerts.NewNotifier(cfg.Alerts)
	if !notifier.Enabled() {
		log.Println("Discord webhook not configured, block notifications disabled")
	}

	coll := collector.NewCollector(cfg.Miners, client, ledger, weekly, notifier, config.Seconds(cfg.Polling.RefreshSeconds))

	var history *storage.SQLiteStorage
	if cfg.History.Enabled {
		history = openHistory(cfg.History.DBPath)
		if history != nil {
			defer history.Close()
			go purgeSnapshots(ctx, history, cfg.History.SnapshotRetentionHours)
		}
	}

	deps := competition.SchedulerDeps{
		Source:    coll,
		Ledger:    ledger,
		Weekly:    weekly,
		Prior:     prior,
		MinerWeek: motw,
	}
	if cfg.Rollover.RestartMiners {
		deps.Restarter = client
	}
	if history != nil {
		deps.Archive = history
	}
	sched := competition.NewScheduler(cfg, deps)

	var market *pricing.Service
	if cfg.Market.Enabled {
		market = pricing.NewService(cfg.Market)
		go market.Run(ctx)
	}

	mirror, err := cache.NewMirror(ctx, cfg.Redis)
	if err != nil {
		log.Printf("Warning: Redis mirror disabled: %v", err)
	}
	defer mirror.Close()

	go coll.Run(ctx)
	go sched.Run(ctx)

	server := api.NewServer(cfg, api.Deps{
		Collector: coll,
		Scheduler: sched,
		Prior:     prior,
		MinerWeek: motw,
		Market:    market,
		Notifier:  notifier,
		Storage:   history,
		Mirror:    mirror,
		Scanner:   scanner.NewScanner(client, 50),
	})
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("minerdash is running with %d miners. Press Ctrl+C to stop.", len(cfg.Miners))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("minerdash shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// every mutation is already on disk; this only retries writes that failed
	if err := ledger.Flush(); err != nil {
		log.Printf("Block ledger flush failed: %v", err)
	}
	if err := weekly.Flush(); err != nil {
		log.Printf("Weekly best flush failed: %v", err)
	}
	if err := prior.Flush(); err != nil {
		log.Printf("Previous week best flush failed: %v", err)
	}
	if err := motw.Flush(); err != nil {
		log.Printf("Miner of the week flush failed: %v", err)
	}

	log.Println("minerdash stopped")
}

// loadConfig reads the config file, writing defaults when it does not exist
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg
	}
	if !os.IsNotExist(err) {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Config file not found at %s, using defaults", path)
	cfg = config.DefaultConfig()
	if saveErr := cfg.Save(path); saveErr != nil {
		log.Printf("Warning: could not save default config: %v", saveErr)
	}
	return cfg
}

func openHistory(dbPath string) *storage.SQLiteStorage {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("Warning: history disabled, cannot create %s: %v", dir, err)
			return nil
		}
	}

	history, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		log.Printf("Warning: history disabled: %v", err)
		return nil
	}
	if err := history.Vacuum(); err != nil {
		log.Printf("Warning: database vacuum failed: %v", err)
	}
	log.Printf("History database initialized at %s", dbPath)
	return history
}

// purgeSnapshots trims old snapshot rows now and then every hour
func purgeSnapshots(ctx context.Context, history *storage.SQLiteStorage, retentionHours int) {
	purge := func() {
		deleted, err := history.PurgeOldSnapshots(retentionHours)
		if err != nil {
			log.Printf("Snapshot purge error: %v", err)
		} else if deleted > 0 {
			log.Printf("Purged %d snapshots older than %d hours", deleted, retentionHours)
		}
	}

	purge()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

func runScan(client *collector.MinerClient, subnet string) {
	subnets := scanner.DetectSubnets()
	if subnet != "" {
		subnets = []string{subnet}
	}
	if len(subnets) == 0 {
		log.Fatal("No network interfaces found to scan")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Printf("Scanning subnets: %v", subnets)
	start := time.Now()
	devices := scanner.NewScanner(client, 50).ScanAll(ctx, subnets)
	log.Printf("Scan complete in %s: found %d miners", format.Duration(time.Since(start)), len(devices))

	for _, d := range devices {
		fmt.Printf("%-15s  %-20s  %-14s  %-8s  %s\n", d.IP, d.Hostname, d.DeviceModel, d.ASICModel, format.HashrateTHs(d.HashrateTHs))
	}
}
