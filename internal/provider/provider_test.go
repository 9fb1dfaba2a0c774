package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/TimurManjosov/splitfeature/internal/split"
	"github.com/TimurManjosov/splitfeature/internal/split/splittest"
)

func newTestProvider(t *testing.T, c *splittest.Client, opts ...Option) (*Provider, *splittest.Factory) {
	t.Helper()
	f := splittest.NewFactory(c, func(string) *splittest.Client { return splittest.NewReadyClient() })
	p, err := New(f, opts...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, f
}

func userCtx() EvaluationContext {
	return EvaluationContext{TargetingKey: "user-key"}
}

func nextEvent(t *testing.T, p *Provider) Event {
	t.Helper()
	select {
	case ev := <-p.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for provider event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, p *Provider) {
	t.Helper()
	select {
	case ev := <-p.Events():
		t.Fatalf("Expected no event, got %s", ev.Type)
	default:
	}
}

func TestNewRequiresFactory(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("Expected error for nil factory")
	}
}

func TestResolveBoolean(t *testing.T) {
	tests := []struct {
		treatment string
		want      bool
	}{
		{"on", true},
		{"true", true},
		{"ON", true},
		{"True", true},
		{"off", false},
		{"false", false},
		{"OFF", false},
		{" on ", true},
	}

	for _, tt := range tests {
		t.Run(tt.treatment, func(t *testing.T) {
			c := splittest.NewReadyClient().SetTreatment("flag", tt.treatment, "")
			p, _ := newTestProvider(t, c)

			got, err := p.ResolveBoolean(context.Background(), "flag", !tt.want, userCtx())
			if err != nil {
				t.Fatalf("ResolveBoolean returned error: %v", err)
			}
			if got.Value != tt.want {
				t.Errorf("Expected value %v, got %v", tt.want, got.Value)
			}
			if got.Variant != tt.treatment {
				t.Errorf("Expected variant %q, got %q", tt.treatment, got.Variant)
			}
			if got.Reason != ReasonTargetingMatch {
				t.Errorf("Expected reason TARGETING_MATCH, got %s", got.Reason)
			}
		})
	}
}

func TestResolveBoolean_InvalidTreatment(t *testing.T) {
	c := splittest.NewReadyClient().SetTreatment("flag", "v2", "")
	p, _ := newTestProvider(t, c)

	got, err := p.ResolveBoolean(context.Background(), "flag", true, userCtx())
	if !errors.Is(err, ErrParse) {
		t.Fatalf("Expected parse error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid boolean value for v2") {
		t.Errorf("Unexpected error message: %v", err)
	}
	if got.Value != true {
		t.Error("Expected default value on failure")
	}
	if got.Reason != ReasonError || got.ErrorCode != ErrorCodeParseError {
		t.Errorf("Expected ERROR/PARSE_ERROR, got %s/%s", got.Reason, got.ErrorCode)
	}
}

func TestResolveBoolean_ConfigMetadata(t *testing.T) {
	c := splittest.NewReadyClient().SetTreatment("my_feature", "on", `{"desc":"this is a test"}`)
	p, _ := newTestProvider(t, c)

	got, err := p.ResolveBoolean(context.Background(), "my_feature", false, userCtx())
	if err != nil {
		t.Fatalf("ResolveBoolean returned error: %v", err)
	}

	want := ResolutionDetail[bool]{
		FlagKey:      "my_feature",
		Value:        true,
		Variant:      "on",
		Reason:       ReasonTargetingMatch,
		FlagMetadata: FlagMetadata{"config": `{"desc":"this is a test"}`},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ResolveBoolean mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_MissingConfigIsEmptyString(t *testing.T) {
	c := splittest.NewReadyClient().SetTreatment("flag", "on", "")
	p, _ := newTestProvider(t, c)

	got, err := p.ResolveString(context.Background(), "flag", "", userCtx())
	if err != nil {
		t.Fatalf("ResolveString returned error: %v", err)
	}
	cfg, ok := got.FlagMetadata["config"]
	if !ok || cfg != "" {
		t.Errorf("Expected config metadata \"\", got %v (present=%v)", cfg, ok)
	}
}

func TestResolveString(t *testing.T) {
	c := splittest.NewReadyClient().SetTreatment("string-flag", "a-string-treatment", "")
	p, _ := newTestProvider(t, c)

	got, err := p.ResolveString(context.Background(), "string-flag", "default", userCtx())
	if err != nil {
		t.Fatalf("ResolveString returned error: %v", err)
	}
	if got.Value != "a-string-treatment" || got.Variant != "a-string-treatment" {
		t.Errorf("Expected value and variant 'a-string-treatment', got %q/%q", got.Value, got.Variant)
	}
	if got.FlagKey != "string-flag" {
		t.Errorf("Expected flag key 'string-flag', got %q", got.FlagKey)
	}
}

func TestResolveNumber(t *testing.T) {
	tests := []struct {
		name      string
		treatment string
		want      float64
		wantErr   bool
	}{
		{"integer", "32", 32, false},
		{"float", "3.14", 3.14, false},
		{"negative", "-7.5", -7.5, false},
		{"padded", " 42 ", 42, false},
		{"exponent", "1e3", 1000, false},
		{"not a number", "abc", 0, true},
		{"numeric prefix", "32abc", 0, true},
		{"nan", "NaN", 0, true},
		{"infinity", "Inf", 0, true},
		{"blank", " ", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := splittest.NewReadyClient().SetTreatment("number-flag", tt.treatment, "")
			p, _ := newTestProvider(t, c)

			got, err := p.ResolveNumber(context.Background(), "number-flag", -1, userCtx())
			if tt.wantErr {
				if !errors.Is(err, ErrParse) {
					t.Fatalf("Expected parse error, got %v", err)
				}
				if got.Value != -1 {
					t.Errorf("Expected default value -1, got %v", got.Value)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveNumber returned error: %v", err)
			}
			if got.Value != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got.Value)
			}
			if got.Variant != tt.treatment {
				t.Errorf("Expected variant %q, got %q", tt.treatment, got.Variant)
			}
		})
	}
}

func TestResolveInt(t *testing.T) {
	c := splittest.NewReadyClient().
		SetTreatment("int-flag", "42", "").
		SetTreatment("float-flag", "4.5", "")
	p, _ := newTestProvider(t, c)

	got, err := p.ResolveInt(context.Background(), "int-flag", 0, userCtx())
	if err != nil {
		t.Fatalf("ResolveInt returned error: %v", err)
	}
	if got.Value != 42 {
		t.Errorf("Expected 42, got %d", got.Value)
	}

	if _, err := p.ResolveInt(context.Background(), "float-flag", 0, userCtx()); !errors.Is(err, ErrParse) {
		t.Errorf("Expected parse error for non-integral value, got %v", err)
	}
}

func TestResolveObject(t *testing.T) {
	tests := []struct {
		name      string
		treatment string
		want      any
		wantErr   bool
	}{
		{"object", `{"key":"value"}`, map[string]any{"key": "value"}, false},
		{"nested", `{"key":"value","nested":{"inner":"data"}}`,
			map[string]any{"key": "value", "nested": map[string]any{"inner": "data"}}, false},
		{"array", `[1,"two"]`, []any{float64(1), "two"}, false},
		{"malformed", `{"key":`, nil, true},
		{"string", `"value"`, nil, true},
		{"number", `12`, nil, true},
		{"null", `null`, nil, true},
		{"plain treatment", `on`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := splittest.NewReadyClient().SetTreatment("object-flag", tt.treatment, "")
			p, _ := newTestProvider(t, c)

			def := map[string]any{"default": true}
			got, err := p.ResolveObject(context.Background(), "object-flag", def, userCtx())
			if tt.wantErr {
				if !errors.Is(err, ErrParse) {
					t.Fatalf("Expected parse error, got %v", err)
				}
				if diff := cmp.Diff(any(def), got.Value); diff != "" {
					t.Errorf("Expected default value on failure (-want +got):\n%s", diff)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveObject returned error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got.Value); diff != "" {
				t.Errorf("ResolveObject mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolve_ControlTreatmentIsFlagNotFound(t *testing.T) {
	c := splittest.NewReadyClient() // every flag resolves to control
	p, _ := newTestProvider(t, c)
	ctx := context.Background()

	var errs []error
	_, err := p.ResolveBoolean(ctx, "non-existent", false, userCtx())
	errs = append(errs, err)
	_, err = p.ResolveString(ctx, "non-existent", "", userCtx())
	errs = append(errs, err)
	_, err = p.ResolveNumber(ctx, "non-existent", 0, userCtx())
	errs = append(errs, err)
	_, err = p.ResolveInt(ctx, "non-existent", 0, userCtx())
	errs = append(errs, err)
	_, err = p.ResolveObject(ctx, "non-existent", nil, userCtx())
	errs = append(errs, err)

	for i, err := range errs {
		if !errors.Is(err, ErrFlagNotFound) {
			t.Errorf("resolver %d: expected FLAG_NOT_FOUND, got %v", i, err)
			continue
		}
		if !strings.Contains(err.Error(), "control") {
			t.Errorf("resolver %d: expected message to mention control, got %q", i, err.Error())
		}
	}
}

func TestResolve_EmptyFlagKey(t *testing.T) {
	c := splittest.NewReadyClient()
	p, _ := newTestProvider(t, c)

	// flag key is validated before the targeting key
	_, err := p.ResolveString(context.Background(), "  ", "", EvaluationContext{})
	if !errors.Is(err, ErrFlagNotFound) {
		t.Fatalf("Expected FLAG_NOT_FOUND, got %v", err)
	}
	if !strings.Contains(err.Error(), "flagKey must be a non-empty string") {
		t.Errorf("Unexpected message: %v", err)
	}
	if len(c.Lookups()) != 0 {
		t.Error("Expected no lookup for an empty flag key")
	}
}

func TestResolve_TargetingKeyMissing(t *testing.T) {
	c := splittest.NewReadyClient().SetTreatment("flag", "on", "")
	p, _ := newTestProvider(t, c)
	ctx := context.Background()
	empty := EvaluationContext{"plan": "pro"}

	var errs []error
	_, err := p.ResolveBoolean(ctx, "flag", false, empty)
	errs = append(errs, err)
	_, err = p.ResolveString(ctx, "flag", "", empty)
	errs = append(errs, err)
	_, err = p.ResolveNumber(ctx, "flag", 0, empty)
	errs = append(errs, err)
	_, err = p.ResolveObject(ctx, "flag", nil, nil)
	errs = append(errs, err)

	for i, err := range errs {
		if !errors.Is(err, ErrTargetingKeyMissing) {
			t.Errorf("resolver %d: expected TARGETING_KEY_MISSING, got %v", i, err)
		}
	}
	if len(c.Lookups()) != 0 {
		t.Error("Expected no lookup without a targeting key")
	}
}

func TestResolve_TargetingKeyOptional(t *testing.T) {
	c := splittest.NewReadyClient().SetTreatment("flag", "on", "")
	p, _ := newTestProvider(t, c, WithRequireTargetingKey(false))

	got, err := p.ResolveBoolean(context.Background(), "flag", false, EvaluationContext{})
	if err != nil {
		t.Fatalf("ResolveBoolean returned error: %v", err)
	}
	if !got.Value {
		t.Error("Expected true")
	}
}

func TestResolve_NotReadyServesDefault(t *testing.T) {
	c := splittest.NewClient(split.Status{}).SetTreatment("flag", "on", "")
	p, _ := newTestProvider(t, c)

	got, err := p.ResolveBoolean(context.Background(), "flag", false, userCtx())
	if err != nil {
		t.Fatalf("Expected no error while not ready, got %v", err)
	}
	if got.Value != false || got.Reason != ReasonDefault {
		t.Errorf("Expected default value with reason DEFAULT, got %v/%s", got.Value, got.Reason)
	}
	if got.Variant != "" || got.ErrorCode != "" {
		t.Errorf("Expected no variant or error code, got %q/%q", got.Variant, got.ErrorCode)
	}
	if len(c.Lookups()) != 0 {
		t.Error("Expected no lookup while not ready")
	}
}

func TestResolve_ReadyFromCacheEvaluates(t *testing.T) {
	c := splittest.NewClient(split.Status{IsReadyFromCache: true}).SetTreatment("flag", "off", "")
	p, _ := newTestProvider(t, c)

	got, err := p.ResolveBoolean(context.Background(), "flag", true, userCtx())
	if err != nil {
		t.Fatalf("ResolveBoolean returned error: %v", err)
	}
	if got.Value != false || got.Reason != ReasonTargetingMatch {
		t.Errorf("Expected false/TARGETING_MATCH, got %v/%s", got.Value, got.Reason)
	}
}

func TestResolve_PassesKeyAndAttributes(t *testing.T) {
	c := splittest.NewReadyClient().SetTreatment("flag", "on", "")
	p, _ := newTestProvider(t, c)

	signup := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	evalCtx := EvaluationContext{
		TargetingKey: "user-key",
		TrafficType:  "account",
		"plan":       "pro",
		"seats":      5,
		"signup":     signup,
	}
	if _, err := p.ResolveBoolean(context.Background(), "flag", false, evalCtx); err != nil {
		t.Fatalf("ResolveBoolean returned error: %v", err)
	}

	lookups := c.Lookups()
	if len(lookups) != 1 {
		t.Fatalf("Expected 1 lookup, got %d", len(lookups))
	}
	want := splittest.LookupCall{
		Key:  "user-key",
		Flag: "flag",
		Attributes: split.Attributes{
			"plan":   "pro",
			"seats":  int64(5),
			"signup": "2024-03-01T12:30:00.000Z",
		},
	}
	if diff := cmp.Diff(want, lookups[0]); diff != "" {
		t.Errorf("Lookup mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_UsesAdoptedKey(t *testing.T) {
	c := splittest.NewReadyClient()
	p, f := newTestProvider(t, c)

	if err := p.Init(context.Background(), EvaluationContext{TargetingKey: "static-user"}); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	f.ClientFor("static-user").SetTreatment("flag", "on", "")

	got, err := p.ResolveBoolean(context.Background(), "flag", false, EvaluationContext{})
	if err != nil {
		t.Fatalf("ResolveBoolean returned error: %v", err)
	}
	if !got.Value {
		t.Error("Expected the adopted client and key to be used")
	}
	if lk := f.ClientFor("static-user").Lookups(); len(lk) != 1 || lk[0].Key != "static-user" {
		t.Errorf("Expected lookup with adopted key, got %+v", lk)
	}
}

func TestTrack(t *testing.T) {
	c := splittest.NewReadyClient()
	p, _ := newTestProvider(t, c)

	value := 9.99
	err := p.Track(context.Background(), "purchase",
		EvaluationContext{TrafficType: "user"},
		&TrackingDetails{Value: &value, Properties: map[string]any{"plan": "pro"}})
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}

	tracks := c.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("Expected 1 track call, got %d", len(tracks))
	}
	want := splittest.TrackCall{
		Key:         "",
		TrafficType: "user",
		EventType:   "purchase",
		Value:       &value,
		Properties:  map[string]any{"plan": "pro"},
	}
	if diff := cmp.Diff(want, tracks[0]); diff != "" {
		t.Errorf("Track mismatch (-want +got):\n%s", diff)
	}
}

func TestTrack_Defaults(t *testing.T) {
	c := splittest.NewReadyClient()
	p, _ := newTestProvider(t, c)

	err := p.Track(context.Background(), "click", EvaluationContext{TargetingKey: "u1", TrafficType: "account"}, nil)
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	got := c.Tracks()[0]
	if got.Key != "u1" || got.TrafficType != "account" {
		t.Errorf("Unexpected key/traffic type: %q/%q", got.Key, got.TrafficType)
	}
	if got.Value != nil {
		t.Errorf("Expected nil value, got %v", *got.Value)
	}
	if got.Properties == nil || len(got.Properties) != 0 {
		t.Errorf("Expected empty properties map, got %v", got.Properties)
	}
}

func TestTrack_Errors(t *testing.T) {
	c := splittest.NewReadyClient()
	p, _ := newTestProvider(t, c)
	ctx := context.Background()

	err := p.Track(ctx, "", EvaluationContext{TrafficType: "user"}, nil)
	if !errors.Is(err, ErrParse) || !strings.Contains(err.Error(), "Missing eventName") {
		t.Errorf("Expected PARSE_ERROR 'Missing eventName', got %v", err)
	}

	err = p.Track(ctx, "evt", EvaluationContext{}, nil)
	if !errors.Is(err, ErrInvalidContext) || !strings.Contains(err.Error(), "Missing trafficType") {
		t.Errorf("Expected INVALID_CONTEXT 'Missing trafficType', got %v", err)
	}

	if len(c.Tracks()) != 0 {
		t.Error("Expected nothing forwarded on validation failure")
	}

	c.SetTrackError(errors.New("queue full"))
	err = p.Track(ctx, "evt", EvaluationContext{TrafficType: "user"}, nil)
	if !errors.Is(err, ErrGeneral) {
		t.Errorf("Expected GENERAL error when the client fails, got %v", err)
	}
}

func TestTrack_NilContextUsesProviderTrafficType(t *testing.T) {
	c := splittest.NewReadyClient()
	p, _ := newTestProvider(t, c)

	if err := p.Track(context.Background(), "evt", nil, nil); err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if got := c.Tracks()[0].TrafficType; got != "user" {
		t.Errorf("Expected default traffic type 'user', got %q", got)
	}
}
