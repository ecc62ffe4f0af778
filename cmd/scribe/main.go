package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/scribe-sentinel/internal/cache"
	"github.com/raaihank/scribe-sentinel/internal/completion"
	"github.com/raaihank/scribe-sentinel/internal/config"
	"github.com/raaihank/scribe-sentinel/internal/logger"
	"github.com/raaihank/scribe-sentinel/internal/privacy"
	"github.com/raaihank/scribe-sentinel/internal/ratelimit"
	"github.com/raaihank/scribe-sentinel/internal/scribe"
	"github.com/raaihank/scribe-sentinel/internal/server"
	"github.com/raaihank/scribe-sentinel/internal/store"
	"github.com/raaihank/scribe-sentinel/internal/websocket"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("scribe-sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *healthCheck {
		performHealthCheck(cfg.Server.Port)
		return
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting scribe-sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	detector, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		log.Fatal("Failed to create privacy detector", zap.Error(err))
	}

	backend := completion.New(cfg.Completion, nil, log.WithComponent("completion").Logger)
	hub := websocket.NewHub(cfg.WebSocket, log.Logger)
	limiter := ratelimit.New(cfg.RateLimit)

	opts := []scribe.Option{scribe.WithEvents(hub)}
	deps := server.Dependencies{
		Detector: detector,
		Backend:  backend,
		Hub:      hub,
		Limiter:  limiter,
	}

	if cfg.Cache.Enabled {
		noteCache, err := cache.NewNoteCache(cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Fatal("Failed to initialize note cache", zap.Error(err))
		}
		defer noteCache.Close()
		opts = append(opts, scribe.WithCache(noteCache))
		deps.Cache = noteCache
	}

	if cfg.Database.Enabled {
		noteStore, err := store.New(cfg.Database, log.WithComponent("store").Logger)
		if err != nil {
			log.Fatal("Failed to initialize note store", zap.Error(err))
		}
		defer noteStore.Close()
		opts = append(opts, scribe.WithStore(noteStore))
		deps.Notes = noteStore
	}

	deps.Scribe = scribe.NewService(detector, backend, cfg, log.Logger, opts...)

	srv, err := server.New(cfg, log, deps)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	if err := config.Watch(cfg, func(updated *config.Config) {
		if err := log.SetLevel(updated.Logging.Level); err != nil {
			log.Warn("Ignoring invalid log level from config reload", zap.Error(err))
			return
		}
		log.Info("Configuration reloaded", zap.String("log_level", updated.Logging.Level))
	}); err != nil {
		log.Warn("Config watching disabled", zap.Error(err))
	}

	go hub.Run(ctx)
	go limiter.RunCleanup(ctx, 10*time.Minute)
	go publishStatus(ctx, srv, 30*time.Second)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// in-flight generations can take up to the completion timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Completion.Timeout+5*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

func publishStatus(ctx context.Context, srv *server.Server, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			srv.PublishStatus(pingCtx)
			cancel()
		}
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(port int) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
