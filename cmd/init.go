package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adalundhe/vaultd/core/config"
	"github.com/adalundhe/vaultd/core/gitsync"
	"github.com/adalundhe/vaultd/core/storage"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap the working copy",
	Long: `Clone the configured remote into the working copy (initializing an
empty remote if needed) and write a starter config file, so "vaultd serve"
starts instantly afterwards.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dirs := storage.Resolve("vaultd", os.Getenv("VAULTD_DATA_DIR"))
	if err := dirs.EnsureAll(); err != nil {
		return err
	}

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = dirs.ConfigPath("config.yaml")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger := cfg.Log.NewLogger(os.Stderr)

	token, err := cfg.Repo.ResolveToken()
	if err != nil {
		return err
	}

	if _, err := gitsync.New(context.Background(), gitsync.Config{
		RemoteURL:      cfg.Repo.RemoteURL,
		Branch:         cfg.Repo.Branch,
		Workdir:        cfg.Repo.Workdir,
		TokenUser:      cfg.Repo.TokenUser,
		Token:          token,
		NetworkTimeout: cfg.Repo.NetworkTimeout,
	}, logger); err != nil {
		return fmt.Errorf("bootstrap working copy: %w", err)
	}

	fmt.Printf("working copy ready at %s (remote %s, branch %s)\n",
		cfg.Repo.Workdir, cfg.Repo.RemoteURL, cfg.Repo.Branch)
	return nil
}
