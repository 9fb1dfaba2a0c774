package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/splitfeature/internal/cli"
	"github.com/TimurManjosov/splitfeature/internal/provider"
)

var (
	evalType        string
	evalDefault     string
	evalKey         string
	evalTrafficType string
	evalAttrs       []string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <flag>",
	Short: "Evaluate a feature flag",
	Long: `Evaluate a flag for a targeting key.

--default is parsed as JSON; for --type string a bare word is accepted too.
--attr takes key=value pairs whose value is parsed as JSON when possible.

Examples:
  splitctl evaluate new_checkout --type boolean --default false --key user-1
  splitctl evaluate banner --key user-1 --attr plan=pro --attr age=31
  splitctl evaluate limits --type object --default '{"max": 5}' --key user-1 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := parseDefault(evalType, evalDefault)
		if err != nil {
			return err
		}
		evalCtx, err := buildContext(evalKey, evalTrafficType, evalAttrs)
		if err != nil {
			return err
		}

		c, err := newClient(cmd)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		res, err := c.Evaluate(cmd.Context(), args[0], evalType, def, evalCtx)
		if err != nil {
			return fmt.Errorf("failed to evaluate flag: %w", err)
		}

		if !quiet {
			if err := cli.PrintEvaluation(cmd.OutOrStdout(), res.Detail, cli.OutputFormat(format)); err != nil {
				return err
			}
		}
		if res.Err != nil {
			return res.Err
		}
		return nil
	},
}

// parseDefault decodes the --default flag for the requested type.
func parseDefault(valueType, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		if valueType == "" || valueType == "string" {
			return raw, nil
		}
		return nil, fmt.Errorf("--default must be valid JSON for type %s: %w", valueType, err)
	}
	return v, nil
}

// buildContext assembles the evaluation context from the command flags.
func buildContext(key, trafficType string, attrs []string) (provider.EvaluationContext, error) {
	evalCtx := provider.EvaluationContext{}
	if key != "" {
		evalCtx[provider.TargetingKey] = key
	}
	if trafficType != "" {
		evalCtx[provider.TrafficType] = trafficType
	}
	for _, a := range attrs {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid attribute %q, expected key=value", a)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		evalCtx[name] = v
	}
	return evalCtx, nil
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVarP(&evalType, "type", "t", "string", "Value type (boolean, string, number, integer, object)")
	evaluateCmd.Flags().StringVarP(&evalDefault, "default", "d", "", "Default value, as JSON")
	evaluateCmd.Flags().StringVarP(&evalKey, "key", "k", "", "Targeting key")
	evaluateCmd.Flags().StringVar(&evalTrafficType, "traffic-type", "", "Traffic type")
	evaluateCmd.Flags().StringArrayVarP(&evalAttrs, "attr", "a", nil, "Attribute as key=value (repeatable)")
}
