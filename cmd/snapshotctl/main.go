// Command snapshotctl is the operator CLI for snapshotd: generating a
// starter config, running a single controller tick out-of-band, and
// deleting a snapshot date without going through the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/majeggstics/snapshotd/internal/config"
	"github.com/majeggstics/snapshotd/internal/controller"
	"github.com/majeggstics/snapshotd/internal/decision"
	"github.com/majeggstics/snapshotd/internal/notify"
	"github.com/majeggstics/snapshotd/internal/notify/resend"
	"github.com/majeggstics/snapshotd/internal/ops"
	"github.com/majeggstics/snapshotd/internal/storage"
	"github.com/majeggstics/snapshotd/internal/upstream"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "config":
		err = runConfigCommand(os.Args[2:])
	case "tick":
		err = runTickCommand(os.Args[2:])
	case "delete-snapshot":
		err = runDeleteSnapshotCommand(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshotctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: snapshotctl <config init|tick --once|delete-snapshot --date=YYYY-MM-DD> [--config=config.yaml]")
}

func runConfigCommand(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	path := fs.String("out", "config.yaml", "path to write the example configuration")
	fs.Parse(args)

	if len(fs.Args()) == 0 || fs.Args()[0] != "init" {
		return fmt.Errorf("expected: config init [--out=path]")
	}
	fs.Parse(fs.Args()[1:])
	if _, err := os.Stat(*path); err == nil {
		return fmt.Errorf("%s already exists", *path)
	}
	example, err := config.GetExampleConfig()
	if err != nil {
		return err
	}
	return os.WriteFile(*path, example, 0644)
}

func runTickCommand(args []string) error {
	fs := flag.NewFlagSet("tick", flag.ExitOnError)
	once := fs.Bool("once", true, "run a single tick and exit")
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	fs.Parse(args)

	if !*once {
		return fmt.Errorf("snapshotctl tick only supports --once")
	}

	ctrl, cleanup, err := buildController(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	return ctrl.Tick(context.Background(), time.Now().UTC())
}

func runDeleteSnapshotCommand(args []string) error {
	fs := flag.NewFlagSet("delete-snapshot", flag.ExitOnError)
	date := fs.String("date", "", "snapshot date to delete, YYYY-MM-DD")
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	fs.Parse(args)

	if *date == "" {
		return fmt.Errorf("--date is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()
	db, err := storage.Open(ctx, cfg.Secrets.DatabaseURL, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	deleted, err := storage.NewSnapshotRepo(db).DeleteSnapshot(ctx, *date)
	if err != nil {
		return err
	}

	fmt.Printf("deleted %d rows for snapshot %s\n", deleted, *date)
	return nil
}

func buildController(configPath string) (*controller.Controller, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	ops.SetDefault(ops.NewLogger(&cfg.Logging))

	ctx := context.Background()
	db, err := storage.Open(ctx, cfg.Secrets.DatabaseURL, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

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

	return ctrl, func() { db.Close() }, nil
}
