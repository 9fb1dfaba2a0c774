package commands

import (
	"github.com/spf13/cobra"

	"github.com/TimurManjosov/splitfeature/internal/cli"
	"github.com/TimurManjosov/splitfeature/internal/client"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "splitctl",
	Short: "CLI for the splitfeature flag service",
	Long: `splitctl talks to a running splitfeature server.

It evaluates flags, sends tracking events, follows provider lifecycle
events and manages its own connection settings.

Examples:
  splitctl evaluate new_checkout --type boolean --key user-1
  splitctl track purchase --key user-1 --value 9.99
  splitctl watch
  splitctl ready --env prod`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the splitfeature API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for tracking")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment from the config file")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}

// newClient builds an API client from flags, environment and config file.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	envCfg, envName, err := cli.GetEnvConfig(env, baseURL, apiKey)
	if err != nil {
		return nil, err
	}
	if verbose {
		cmd.PrintErrf("using %s (env %q)\n", envCfg.BaseURL, envName)
	}
	return client.NewClient(envCfg.BaseURL, envCfg.APIKey), nil
}
