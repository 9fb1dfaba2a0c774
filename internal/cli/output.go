package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/splitfeature/internal/client"
	"github.com/TimurManjosov/splitfeature/internal/provider"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// PrintEvaluation outputs one resolution detail in the specified format
func PrintEvaluation(w io.Writer, detail provider.ResolutionDetail[any], format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, detail)
	case FormatYAML:
		return printYAML(w, detail)
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Flag", "Value", "Variant", "Reason", "Error")

		errText := string(detail.ErrorCode)
		if detail.ErrorMessage != "" {
			errText += ": " + detail.ErrorMessage
		}
		if err := table.Append(detail.FlagKey, formatValue(detail.Value), detail.Variant, string(detail.Reason), truncate(errText, 60)); err != nil {
			return err
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintReady outputs the provider readiness in the specified format
func PrintReady(w io.Writer, status *client.ReadyStatus, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, status)
	case FormatYAML:
		return printYAML(w, status)
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Provider", "Status")
		if err := table.Append(status.Provider, string(status.Status)); err != nil {
			return err
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintStreamEvent outputs one event of the provider event stream. Table format
// prints a single line per event so the output can be followed.
func PrintStreamEvent(w io.Writer, ev client.StreamEvent, format OutputFormat) error {
	switch format {
	case FormatJSON:
		_, err := fmt.Fprintf(w, "{\"event\":%q,\"data\":%s}\n", ev.Name, ev.Data)
		return err
	case FormatYAML:
		var data any
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return fmt.Errorf("decode event data: %w", err)
		}
		return printYAML(w, []map[string]any{{"event": ev.Name, "data": data}})
	case FormatTable:
		if ev.Name == "init" {
			var init client.ReadyStatus
			if err := json.Unmarshal(ev.Data, &init); err != nil {
				return fmt.Errorf("decode event data: %w", err)
			}
			_, err := fmt.Fprintf(w, "connected  provider=%s status=%s\n", init.Provider, init.Status)
			return err
		}
		pe, err := ev.Event()
		if err != nil {
			return fmt.Errorf("decode event data: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s  %-32s %s\n", pe.Time.Format("2006-01-02 15:04:05"), pe.Type, pe.Message)
		return err
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintAPIKey outputs a generated key and its bcrypt hash
func PrintAPIKey(w io.Writer, key, hash string, format OutputFormat) error {
	data := struct {
		Key  string `json:"key" yaml:"key"`
		Hash string `json:"hash" yaml:"hash"`
	}{key, hash}

	switch format {
	case FormatJSON:
		return printJSON(w, data)
	case FormatYAML:
		return printYAML(w, data)
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Key", "Hash")
		if err := table.Append(key, hash); err != nil {
			return err
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(w io.Writer, data interface{}) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)

	// round-trip through JSON so the YAML keys follow the json tags
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	return encoder.Encode(generic)
}

func formatValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return truncate(string(b), 40)
	case nil:
		return "null"
	default:
		return fmt.Sprint(v)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
