package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gridline-data/apex.replay/internal/api"
	"github.com/gridline-data/apex.replay/internal/config"
	"github.com/gridline-data/apex.replay/internal/db"
	"github.com/gridline-data/apex.replay/internal/replaylog"
	"github.com/gridline-data/apex.replay/internal/session"
	"github.com/gridline-data/apex.replay/internal/telemetry"
)

var (
	devMode     = flag.Bool("dev", false, "Serve synthetic telemetry instead of recorded sessions")
	listen      = flag.String("listen", ":8080", "Listen address")
	configPath  = flag.String("config", "", "Path to JSON tuning config")
	cacheDir    = flag.String("cache-dir", "replay-cache", "Directory for processed session archives")
	dbFile      = flag.String("db", "replay.db", "Path to the sqlite database")
	fixturesDir = flag.String("fixtures", "fixtures", "Directory of recorded raw sessions")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyReplayConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadReplayConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	var provider telemetry.Provider
	if *devMode {
		provider = telemetry.NewSyntheticProvider(time.Now().UnixNano())
	} else {
		provider = telemetry.NewFixtureProvider(*fixturesDir)
	}

	store, err := replaylog.NewStore(*cacheDir)
	if err != nil {
		log.Fatalf("Failed to open replay cache: %v", err)
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	manager := session.NewManager(provider, store, database, cfg)

	pruner := replaylog.NewPruner(store, database,
		time.Duration(cfg.GetCacheTTLHours())*time.Hour)
	if err := pruner.Start(); err != nil {
		log.Fatalf("Failed to start cache pruner: %v", err)
	}
	defer pruner.Stop()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(manager, store, database, cfg).ServeMux()

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
