package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/adalundhe/vaultd/core/activity"
	"github.com/adalundhe/vaultd/core/config"
	"github.com/adalundhe/vaultd/core/database"
	"github.com/adalundhe/vaultd/core/gitsync"
	"github.com/adalundhe/vaultd/core/locking"
	"github.com/adalundhe/vaultd/core/messaging"
	"github.com/adalundhe/vaultd/core/metadata"
	"github.com/adalundhe/vaultd/core/notify"
	"github.com/adalundhe/vaultd/core/storage"
	"github.com/adalundhe/vaultd/core/vault"
	"github.com/adalundhe/vaultd/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vault daemon",
	Long: `Start the vault daemon: open (or clone) the working copy, start the
change notifier, and serve the REST/WebSocket API until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	dirs := storage.Resolve("vaultd", os.Getenv("VAULTD_DATA_DIR"))

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = dirs.ConfigPath("config.yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Data.Dir != "" {
		dirs = storage.Resolve("vaultd", cfg.Data.Dir)
	}
	if err := dirs.EnsureAll(); err != nil {
		return err
	}

	logger := cfg.Log.NewLogger(os.Stderr)

	// Exactly one daemon per data dir.
	instance, err := database.AcquireInstanceLock(dirs.StatePath("vaultd.pid"))
	if err != nil {
		return err
	}
	defer instance.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Working copy.
	token, err := cfg.Repo.ResolveToken()
	if err != nil {
		return err
	}
	if cfg.Repo.TokenFile == "" && token == "" {
		tokenFile := dirs.ConfigPath("token")
		if _, statErr := os.Stat(tokenFile); statErr == nil {
			cfg.Repo.TokenFile = tokenFile
			if token, err = cfg.Repo.ResolveToken(); err != nil {
				return err
			}
		}
	}

	synchronizer, err := gitsync.New(ctx, gitsync.Config{
		RemoteURL:      cfg.Repo.RemoteURL,
		Branch:         cfg.Repo.Branch,
		Workdir:        cfg.Repo.Workdir,
		TokenUser:      cfg.Repo.TokenUser,
		Token:          token,
		NetworkTimeout: cfg.Repo.NetworkTimeout,
		PushAttempts:   cfg.Repo.PushAttempts,
		RetryBaseDelay: cfg.Repo.RetryBaseDelay,
	}, logger)
	if err != nil {
		return fmt.Errorf("open working copy: %w", err)
	}

	// Local state.
	pool, err := database.Open(dirs.DataPath("vaultd.db"), database.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	index, err := activity.OpenIndex(dirs.DataPath("activity.bleve"))
	if err != nil {
		return fmt.Errorf("open search index: %w", err)
	}
	defer index.Close()

	activityLog, err := activity.Open(ctx, pool, index, logger)
	if err != nil {
		return err
	}
	defer activityLog.Close()

	searcher, err := activity.NewSearcher(activityLog, index)
	if err != nil {
		return err
	}

	messages, err := messaging.Open(ctx, pool, logger)
	if err != nil {
		return err
	}

	// Core services.
	registry := prometheus.NewRegistry()
	meta := metadata.NewStore(synchronizer)
	locks := locking.NewStore(meta, cfg.Repo.AuthorEmail, logger)
	hub := notify.NewHub(cfg.Notify.SubscriberBuffer, logger)
	defer hub.Close()

	var checker *notify.Checker

	service, err := vault.New(vault.Options{
		Repo:         synchronizer,
		Meta:         meta,
		Locks:        locks,
		Activity:     activityLog,
		Messages:     messages,
		Hub:          hub,
		Metrics:      vault.NewMetrics(registry),
		Logger:       logger,
		Kick: func() {
			if checker != nil {
				checker.Kick()
			}
		},
		AuthorEmail:  cfg.Repo.AuthorEmail,
		ExcludeGlobs: cfg.Listing.ExcludeGlobs,
	})
	if err != nil {
		return err
	}

	checker = notify.NewChecker(service, hub, cfg.Notify.Interval, logger)
	go checker.Run(ctx)

	watcher := notify.NewFSWatcher(synchronizer.Workdir(), cfg.Notify.Debounce, checker.Kick, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("filesystem watcher unavailable, relying on periodic checks", "error", err)
	}

	srv := server.New(server.Options{
		Config:   cfg.Server,
		Vault:    service,
		Hub:      hub,
		Checker:  checker,
		Searcher: searcher,
		Registry: registry,
		Logger:   logger,
	})

	logger.Info("vaultd starting",
		"remote", cfg.Repo.RemoteURL,
		"branch", cfg.Repo.Branch,
		"workdir", cfg.Repo.Workdir,
		"addr", cfg.Server.Addr,
	)

	return srv.Run(ctx)
}
