package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/splitfeature/internal/api"
)

const defaultTrafficType = "user"

var (
	trackKey         string
	trackTrafficType string
	trackValue       float64
	trackProps       []string
)

var trackCmd = &cobra.Command{
	Use:   "track <event>",
	Short: "Send a tracking event",
	Long: `Send an event for a targeting key. Needs an API key accepted by the server.
The traffic type defaults to "user".

Examples:
  splitctl track purchase --key user-1 --value 9.99
  splitctl track signup --key acct-7 --traffic-type account --prop plan=pro`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		evalCtx, err := buildContext(trackKey, trackTrafficType, nil)
		if err != nil {
			return err
		}
		props, err := buildContext("", "", trackProps)
		if err != nil {
			return err
		}

		req := api.TrackRequest{Event: args[0], Context: evalCtx}
		if cmd.Flags().Changed("value") {
			v := trackValue
			req.Value = &v
		}
		if len(props) > 0 {
			req.Properties = props
		}

		c, err := newClient(cmd)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		if err := c.Track(cmd.Context(), req); err != nil {
			return fmt.Errorf("failed to track event: %w", err)
		}

		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Tracked %s\n", args[0])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trackCmd)
	trackCmd.Flags().StringVarP(&trackKey, "key", "k", "", "Targeting key")
	trackCmd.Flags().StringVar(&trackTrafficType, "traffic-type", defaultTrafficType, "Traffic type of the key")
	trackCmd.Flags().Float64Var(&trackValue, "value", 0, "Event value")
	trackCmd.Flags().StringArrayVarP(&trackProps, "prop", "p", nil, "Property as key=value (repeatable)")
}
