package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/splitfeature/internal/notify"
	"github.com/TimurManjosov/splitfeature/internal/provider"
	"github.com/TimurManjosov/splitfeature/internal/split"
	"github.com/TimurManjosov/splitfeature/internal/split/splittest"
	"github.com/TimurManjosov/splitfeature/internal/telemetry"
	helpers "github.com/TimurManjosov/splitfeature/internal/testutil"
)

// SSEEvent represents a parsed Server-Sent Event
type SSEEvent struct {
	Event string
	Data  map[string]any
}

// parseSSEStream reads SSE events (and ping comments as Event "ping") from a response body
func parseSSEStream(t *testing.T, scanner *bufio.Scanner) <-chan SSEEvent {
	t.Helper()
	events := make(chan SSEEvent, 10)

	go func() {
		defer close(events)
		var currentEvent, currentData string

		for scanner.Scan() {
			line := scanner.Text()

			switch {
			case strings.HasPrefix(line, ": ping"):
				events <- SSEEvent{Event: "ping"}
			case strings.HasPrefix(line, "event:"):
				currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && currentEvent != "":
				var data map[string]any
				if currentData != "" {
					if err := json.Unmarshal([]byte(currentData), &data); err != nil {
						t.Logf("Warning: failed to parse SSE data as JSON: %v", err)
					}
				}
				events <- SSEEvent{Event: currentEvent, Data: data}
				currentEvent, currentData = "", ""
			}
		}
	}()

	return events
}

type sseFixture struct {
	client  *splittest.Client
	server  *httptest.Server
	metrics *prometheus.Registry
	sse     *Server
}

func newSSEFixture(t *testing.T, status split.Status, heartbeat time.Duration) *sseFixture {
	t.Helper()
	c := splittest.NewClient(status)
	p := helpers.NewTestProvider(t, c)

	hub := notify.New[provider.Event](8)
	go hub.Pipe(p.Events())
	t.Cleanup(hub.Close)

	reg := prometheus.NewRegistry()
	srv := NewServer(Options{
		Provider:  p,
		Events:    hub,
		Logger:    zerolog.Nop(),
		Heartbeat: heartbeat,
		Metrics:   telemetry.NewMetrics(reg),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &sseFixture{client: c, server: ts, metrics: reg, sse: srv}
}

func (f *sseFixture) connect(t *testing.T) (*http.Response, <-chan SSEEvent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp, parseSSEStream(t, bufio.NewScanner(resp.Body))
}

func nextSSE(t *testing.T, events <-chan SSEEvent, skipPings bool) SSEEvent {
	t.Helper()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("SSE stream closed")
			}
			if skipPings && ev.Event == "ping" {
				continue
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for SSE event")
			return SSEEvent{}
		}
	}
}

func TestSSE_Headers(t *testing.T) {
	f := newSSEFixture(t, split.Status{IsReady: true}, time.Minute)
	resp, _ := f.connect(t)

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Expected Content-Type 'text/event-stream', got %s", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Expected Cache-Control 'no-cache', got %s", got)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestSSE_InitThenProviderEvents(t *testing.T) {
	f := newSSEFixture(t, split.Status{}, time.Minute)
	_, events := f.connect(t)

	init := nextSSE(t, events, true)
	if init.Event != "init" {
		t.Fatalf("Expected first event to be 'init', got '%s'", init.Event)
	}
	if init.Data["status"] != "NOT_READY" || init.Data["provider"] != "split" {
		t.Errorf("Unexpected init data %v", init.Data)
	}

	f.client.BecomeReady()
	ev := nextSSE(t, events, true)
	if ev.Event != string(provider.EventReady) {
		t.Fatalf("Expected PROVIDER_READY, got %s", ev.Event)
	}
	if ev.Data["type"] != string(provider.EventReady) {
		t.Errorf("Unexpected event data %v", ev.Data)
	}

	f.client.Update()
	if ev := nextSSE(t, events, true); ev.Event != string(provider.EventConfigurationChanged) {
		t.Errorf("Expected PROVIDER_CONFIGURATION_CHANGED, got %s", ev.Event)
	}

	if got := testutil.ToFloat64(f.sse.metrics.SSEClients); got != 1 {
		t.Errorf("Expected 1 connected SSE client, got %v", got)
	}
}

func TestSSE_Heartbeat(t *testing.T) {
	f := newSSEFixture(t, split.Status{IsReady: true}, 20*time.Millisecond)
	_, events := f.connect(t)

	if ev := nextSSE(t, events, false); ev.Event != "init" {
		t.Fatalf("Expected init, got %s", ev.Event)
	}
	for i := 0; i < 5; i++ {
		if ev := nextSSE(t, events, false); ev.Event == "ping" {
			return
		}
	}
	t.Error("Expected to find heartbeat ping in SSE stream")
}

func TestSSE_Disabled(t *testing.T) {
	p := helpers.NewTestProvider(t, splittest.NewReadyClient())
	h := NewServer(Options{Provider: p, Logger: zerolog.Nop()}).Router()

	rr := (&helpers.HTTPRequest{Method: http.MethodGet, Path: "/v1/events"}).Do(t, h)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without an event hub, got %d", rr.Code)
	}
}
