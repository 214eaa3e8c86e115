// Package cmd provides the vaultd command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vaultd",
	Short: "vaultd - collaborative file check-out/check-in vault over a git remote",
	Long: `vaultd coordinates exclusive editing access to CAD files stored in a
git remote: users check files out, edit, and check them back in; the daemon
serializes conflicting attempts, assigns revision numbers, and pushes change
notifications to every connected client.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to the user config dir)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
