package commands

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/splitfeature/internal/api"
	"github.com/TimurManjosov/splitfeature/internal/provider"
	"github.com/TimurManjosov/splitfeature/internal/split/splittest"
	"github.com/TimurManjosov/splitfeature/internal/testutil"
)

// runCmd executes the root command with args and returns its stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SPLITFEATURE_BASE_URL", "")
	t.Setenv("SPLITFEATURE_API_KEY", "")

	// reset globals between runs
	baseURL, apiKey, env, format, quiet, verbose = "", "", "", "table", false, false
	evalType, evalDefault, evalKey, evalTrafficType, evalAttrs = "string", "", "", "", nil
	trackKey, trackTrafficType, trackValue, trackProps = "", defaultTrafficType, 0, nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func newServer(t *testing.T, c *splittest.Client) *httptest.Server {
	t.Helper()
	p := testutil.NewTestProvider(t, c)
	srv := api.NewServer(api.Options{Provider: p, TrackKeys: []string{"k1"}, Logger: zerolog.Nop()})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestEvaluateCommand(t *testing.T) {
	ts := newServer(t, splittest.NewReadyClient().SetTreatment("new_checkout", "on", ""))

	out, err := runCmd(t, "evaluate", "new_checkout", "--base-url", ts.URL,
		"--type", "boolean", "--default", "false", "--key", "user-1", "--attr", "age=31", "--format", "json")
	if err != nil {
		t.Fatalf("evaluate returned error: %v", err)
	}

	var got provider.ResolutionDetail[any]
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid output %q: %v", out, err)
	}
	if got.Value != true || got.Variant != "on" {
		t.Errorf("Unexpected detail %+v", got)
	}
}

func TestEvaluateCommand_ResolutionError(t *testing.T) {
	ts := newServer(t, splittest.NewReadyClient())

	out, err := runCmd(t, "evaluate", "missing", "--base-url", ts.URL, "--default", "fallback", "--key", "user-1")
	if err == nil || !strings.Contains(err.Error(), "FLAG_NOT_FOUND") {
		t.Fatalf("Expected FLAG_NOT_FOUND error, got %v", err)
	}
	if !strings.Contains(out, "fallback") {
		t.Errorf("Expected the served default to be printed, got:\n%s", out)
	}
}

func TestTrackCommand(t *testing.T) {
	c := splittest.NewReadyClient()
	ts := newServer(t, c)

	out, err := runCmd(t, "track", "purchase", "--base-url", ts.URL, "--api-key", "k1",
		"--key", "user-1", "--value", "9.5", "--prop", "plan=pro")
	if err != nil {
		t.Fatalf("track returned error: %v", err)
	}
	if out != "Tracked purchase\n" {
		t.Errorf("Unexpected output %q", out)
	}
	tracks := c.Tracks()
	if len(tracks) != 1 || tracks[0].Value == nil || *tracks[0].Value != 9.5 || tracks[0].Properties["plan"] != "pro" {
		t.Fatalf("Unexpected tracks %+v", tracks)
	}
	if tracks[0].Key != "user-1" || tracks[0].TrafficType != "user" {
		t.Errorf("Expected key user-1 with default traffic type user, got %q/%q", tracks[0].Key, tracks[0].TrafficType)
	}

	if _, err := runCmd(t, "track", "signup", "--base-url", ts.URL, "--api-key", "k1",
		"--key", "acct-7", "--traffic-type", "account"); err != nil {
		t.Fatalf("track with traffic type returned error: %v", err)
	}
	if got := c.Tracks(); len(got) != 2 || got[1].TrafficType != "account" {
		t.Errorf("Expected explicit traffic type account, got %+v", got)
	}

	if _, err := runCmd(t, "track", "purchase", "--base-url", ts.URL, "--key", "user-1"); err == nil {
		t.Error("Expected track without an API key to fail")
	}
}

func TestReadyCommand(t *testing.T) {
	ts := newServer(t, splittest.NewReadyClient())

	out, err := runCmd(t, "ready", "--base-url", ts.URL, "--format", "json")
	if err != nil {
		t.Fatalf("ready returned error: %v", err)
	}
	if !strings.Contains(out, `"status": "READY"`) {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestKeysGenerateCommand(t *testing.T) {
	out, err := runCmd(t, "keys", "generate", "--format", "json")
	if err != nil {
		t.Fatalf("keys generate returned error: %v", err)
	}
	var got struct{ Key, Hash string }
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid output %q: %v", out, err)
	}
	if !strings.HasPrefix(got.Key, "sfk_") || !strings.HasPrefix(got.Hash, "$2") {
		t.Errorf("Unexpected key pair %+v", got)
	}
}

func TestConfigCommands(t *testing.T) {
	home := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		out, err := runCmdInHome(t, home, args...)
		if err != nil {
			t.Fatalf("%v returned error: %v", args, err)
		}
		return out
	}

	run("config", "set", "dev.base_url", "http://localhost:9999")
	run("config", "set", "dev.api_key", "secret-key")
	if got := run("config", "get", "dev.base_url"); got != "http://localhost:9999\n" {
		t.Errorf("Unexpected base_url %q", got)
	}
	if got := run("config", "list"); !strings.Contains(got, "api_key: secr***") {
		t.Errorf("Expected masked key in list, got:\n%s", got)
	}
	if _, err := runCmdInHome(t, home, "config", "get", "nodot"); err == nil {
		t.Error("Expected error for malformed key")
	}
}

// runCmdInHome is runCmd with a fixed home directory.
func runCmdInHome(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	baseURL, apiKey, env, format, quiet, verbose = "", "", "", "table", false, false
	t.Setenv("HOME", home)
	t.Setenv("SPLITFEATURE_BASE_URL", "")
	t.Setenv("SPLITFEATURE_API_KEY", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}
