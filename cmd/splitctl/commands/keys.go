package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/splitfeature/internal/auth"
	"github.com/TimurManjosov/splitfeature/internal/cli"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage tracking API keys",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a tracking API key",
	Long: `Generate a random API key and its bcrypt hash.

Give the key to the caller and put the hash in TRACK_API_KEY on the server.

Example:
  splitctl keys generate --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := auth.GenerateAPIKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		hash, err := auth.HashAPIKey(key)
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}
		return cli.PrintAPIKey(cmd.OutOrStdout(), key, hash, cli.OutputFormat(format))
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd)
}
