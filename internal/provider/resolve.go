package provider

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TimurManjosov/splitfeature/internal/split"
)

const controlValueErrorMessage = "Received the 'control' value from Split."

// ResolveBoolean resolves flagKey as a boolean.
func (p *Provider) ResolveBoolean(ctx context.Context, flagKey string, defaultValue bool, evalCtx EvaluationContext) (ResolutionDetail[bool], error) {
	return resolve(ctx, p, "boolean", flagKey, defaultValue, evalCtx, parseBoolTreatment)
}

// ResolveString resolves flagKey as the raw treatment string.
func (p *Provider) ResolveString(ctx context.Context, flagKey string, defaultValue string, evalCtx EvaluationContext) (ResolutionDetail[string], error) {
	return resolve(ctx, p, "string", flagKey, defaultValue, evalCtx, func(t string) (string, error) { return t, nil })
}

// ResolveNumber resolves flagKey as a float64.
func (p *Provider) ResolveNumber(ctx context.Context, flagKey string, defaultValue float64, evalCtx EvaluationContext) (ResolutionDetail[float64], error) {
	return resolve(ctx, p, "number", flagKey, defaultValue, evalCtx, parseNumberTreatment)
}

// ResolveInt resolves flagKey as an int64. Non-integral numbers fail with PARSE_ERROR.
func (p *Provider) ResolveInt(ctx context.Context, flagKey string, defaultValue int64, evalCtx EvaluationContext) (ResolutionDetail[int64], error) {
	return resolve(ctx, p, "integer", flagKey, defaultValue, evalCtx, parseIntTreatment)
}

// ResolveObject resolves flagKey as a decoded JSON object (map[string]any) or array ([]any).
func (p *Provider) ResolveObject(ctx context.Context, flagKey string, defaultValue any, evalCtx EvaluationContext) (ResolutionDetail[any], error) {
	return resolve(ctx, p, "object", flagKey, defaultValue, evalCtx, parseObjectTreatment)
}

func resolve[T any](ctx context.Context, p *Provider, valueType, flagKey string, defaultValue T, evalCtx EvaluationContext, coerce func(string) (T, error)) (ResolutionDetail[T], error) {
	_, span := p.tracer.Start(ctx, "split.resolve", trace.WithAttributes(
		attribute.String("feature_flag.key", flagKey),
		attribute.String("feature_flag.value_type", valueType),
	))
	defer span.End()

	detail := ResolutionDetail[T]{FlagKey: flagKey, Value: defaultValue}

	t, err := p.evaluateTreatment(flagKey, TransformContext(evalCtx))
	if err == nil && t.reason == ReasonTargetingMatch {
		var v T
		if v, err = coerce(t.name); err == nil {
			detail.Value = v
		}
	}
	if err != nil {
		code := ErrorCodeOf(err)
		detail.Reason = ReasonError
		detail.ErrorCode = code
		detail.ErrorMessage = err.Error()
		p.logger.Debug().Err(err).Str("flag", flagKey).Str("type", valueType).Msg("resolution failed")
		p.metrics.ObserveEvaluation(valueType, string(ReasonError), string(code))
		span.SetAttributes(attribute.String("feature_flag.error_code", string(code)))
		span.SetStatus(codes.Error, err.Error())
		return detail, err
	}

	detail.Reason = t.reason
	if t.reason == ReasonTargetingMatch {
		detail.Variant = t.name
		detail.FlagMetadata = FlagMetadata{"config": t.config}
	}
	p.metrics.ObserveEvaluation(valueType, string(detail.Reason), "")
	span.SetAttributes(
		attribute.String("feature_flag.reason", string(detail.Reason)),
		attribute.String("feature_flag.variant", detail.Variant),
	)
	return detail, nil
}

// treatment is the string-typed outcome shared by every resolver.
type treatment struct {
	name   string
	config string
	reason Reason
}

// evaluateTreatment validates the request and looks the flag up on the active client.
//
// Checks run in order: flag key, targeting key, client readiness. A client that is
// not operational yet yields reason DEFAULT so the caller's default is served.
func (p *Provider) evaluateTreatment(flagKey string, consumer Consumer) (treatment, error) {
	if strings.TrimSpace(flagKey) == "" {
		return treatment{}, newFlagNotFoundError("flagKey must be a non-empty string")
	}

	p.mu.RLock()
	c := p.binding.client
	key := consumer.Key
	if key == "" {
		key = p.key
	}
	p.mu.RUnlock()

	if key == "" && p.requireTargetingKey {
		return treatment{}, newTargetingKeyMissingError("targeting key is required in the evaluation context")
	}

	if !c.Status().Operational() {
		return treatment{reason: ReasonDefault}, nil
	}

	res := c.TreatmentWithConfig(key, flagKey, consumer.Attributes)
	if res.Treatment == split.ControlTreatment {
		return treatment{}, newFlagNotFoundError(controlValueErrorMessage)
	}

	config := ""
	if res.Config != nil {
		config = *res.Config
	}
	return treatment{name: res.Treatment, config: config, reason: ReasonTargetingMatch}, nil
}
