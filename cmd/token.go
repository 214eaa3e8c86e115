package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/adalundhe/vaultd/core/storage"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Store the remote access token",
	Long: `Prompt for the git remote access token without echoing it and store
it under the config directory with owner-only permissions. The daemon picks
it up automatically on the next start.`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	dirs := storage.Resolve("vaultd", os.Getenv("VAULTD_DATA_DIR"))
	if err := storage.EnsureSensitiveDir(dirs.Config); err != nil {
		return err
	}

	fmt.Print("Remote access token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return fmt.Errorf("empty token")
	}

	path := dirs.ConfigPath("token")
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}

	fmt.Printf("token stored at %s\n", path)
	return nil
}
