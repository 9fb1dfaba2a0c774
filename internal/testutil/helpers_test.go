package testutil

import (
	"net/http"
	"testing"

	"github.com/TimurManjosov/splitfeature/internal/provider"
	"github.com/TimurManjosov/splitfeature/internal/split/splittest"
)

func TestNewTestProvider(t *testing.T) {
	p := NewTestProvider(t, splittest.NewReadyClient())
	if p.Status() != provider.StateReady {
		t.Errorf("Expected READY provider, got %s", p.Status())
	}
}

func TestHTTPRequest_Do(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" || r.Header.Get("X-Test") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"method":"` + r.Method + `"}`))
	})

	req := &HTTPRequest{
		Method:  http.MethodPost,
		Path:    "/anything",
		Body:    `{}`,
		Headers: map[string]string{"X-Test": "1"},
	}
	rr := req.Do(t, handler)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	got := DecodeJSON[map[string]string](t, rr)
	if got["method"] != http.MethodPost {
		t.Errorf("Expected method POST, got %q", got["method"])
	}
}
