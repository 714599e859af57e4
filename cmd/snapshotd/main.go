// Command snapshotd runs the periodic controller and the read/control
// HTTP API described in the ingestion subsystem. Its flag parsing,
// -version flag, and graceful-shutdown signal handling follow
// sandwichfarm-nophr's cmd/nophr/main.go.
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

	"github.com/majeggstics/snapshotd/internal/api"
	"github.com/majeggstics/snapshotd/internal/auth"
	"github.com/majeggstics/snapshotd/internal/config"
	"github.com/majeggstics/snapshotd/internal/controller"
	"github.com/majeggstics/snapshotd/internal/decision"
	"github.com/majeggstics/snapshotd/internal/notify"
	"github.com/majeggstics/snapshotd/internal/notify/resend"
	"github.com/majeggstics/snapshotd/internal/ops"
	"github.com/majeggstics/snapshotd/internal/respcache"
	"github.com/majeggstics/snapshotd/internal/storage"
	"github.com/majeggstics/snapshotd/internal/upstream"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("snapshotd %s (%s)\n", version, commit)
		return
	}

	if flag.Arg(0) == "init-config" {
		if err := handleInitConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "init-config failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "snapshotd: %v\n", err)
		os.Exit(1)
	}
}

func handleInitConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	example, err := config.GetExampleConfig()
	if err != nil {
		return err
	}
	return os.WriteFile(path, example, 0644)
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	logger.LogStartup(version, commit, map[string]any{"port": cfg.Server.Port})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(ctx, cfg.Secrets.DatabaseURL, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	cacheRepo := storage.NewCacheRepo(db)
	snapshotRepo := storage.NewSnapshotRepo(db)
	stateRepo := storage.NewStateRepo(db)
	exclusionRepo := storage.NewExclusionRepo(db, time.Duration(cfg.Caching.ExclusionTTLSeconds)*time.Second)
	emailLogRepo := storage.NewEmailLogRepo(db)

	upstreamClient := upstream.New(cfg.Upstream.URL, time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second, cfg.Upstream.MaxRetries)
	engine := decision.New(cfg.Decision)

	sender := resend.New(cfg.Secrets.ResendAPIKey, cfg.Email.FromAddress)
	dispatcher := notify.New(sender, emailLogRepo, cfg.Secrets.NotificationEmail, cfg.Email.Enabled)

	ctrl := controller.New(upstreamClient, exclusionRepo, cacheRepo, stateRepo, snapshotRepo, dispatcher, engine, cfg.Database.BatchSize)

	discordClient := auth.NewDiscordClient(cfg.Secrets.DiscordClientID, cfg.Secrets.DiscordClientSecret)
	exchanger := auth.NewExchanger(discordClient, auth.RoleSet{
		Guild: cfg.Identity.Guild, MajRole: cfg.Identity.MajRole,
		YCRole: cfg.Identity.YCRole, AdminRole: cfg.Identity.AdminRole,
	}, []byte(cfg.Secrets.JWTSecret), cfg.Secrets.SupabaseURL, time.Duration(cfg.Identity.SessionTTLDays)*24*time.Hour)
	verifier := auth.NewVerifier([]byte(cfg.Secrets.JWTSecret))

	var respCache *respcache.Cache
	if cfg.Caching.ResponseCacheEnabled {
		respCache = respcache.New(cfg.Caching.RedisAddr, time.Duration(cfg.Caching.ResponseCacheTTLSec)*time.Second)
		defer respCache.Close()
	}

	server := api.New(cfg.Server, ctrl, cacheRepo, snapshotRepo, exclusionRepo, emailLogRepo, exchanger, verifier, respCache,
		upstreamClient, time.Duration(cfg.Caching.CacheDurationMinutes)*time.Minute, cfg.Database.BatchSize, cfg.Secrets.SecretToken)
	httpServer := api.NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), server, cfg.Server)

	scheduler := controller.NewScheduler(ctrl, time.Duration(cfg.Controller.CronIntervalMinutes)*time.Minute, cfg.Controller.RunOnStart)
	go scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.LogShutdown(sig.String())
	case err := <-errCh:
		logger.Error("http server failed", "error", err)
	}

	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownGraceSec)*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
