package provider

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TrackingDetails carries the optional numeric value and properties of a tracked event.
type TrackingDetails struct {
	Value      *float64
	Properties map[string]any
}

// Track forwards a tracking event to the Split client.
//
// The traffic type comes from the context's trafficType attribute; a nil context
// falls back to the provider's current traffic type. The key is the context's
// targeting key, or the identity adopted through Init/OnContextChange; an empty key
// is passed through for the client to judge.
func (p *Provider) Track(ctx context.Context, eventName string, evalCtx EvaluationContext, details *TrackingDetails) error {
	_, span := p.tracer.Start(ctx, "split.track", trace.WithAttributes(attribute.String("event.name", eventName)))
	defer span.End()

	err := p.track(eventName, evalCtx, details)
	if err != nil {
		p.logger.Debug().Err(err).Str("event", eventName).Msg("track failed")
		p.metrics.ObserveTrack(string(ErrorCodeOf(err)))
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	p.metrics.ObserveTrack("ok")
	return nil
}

func (p *Provider) track(eventName string, evalCtx EvaluationContext, details *TrackingDetails) error {
	if eventName == "" {
		return newParseError("Missing eventName, required to track")
	}

	p.mu.RLock()
	c := p.binding.client
	trafficType := p.trafficType
	key := p.key
	p.mu.RUnlock()

	if evalCtx != nil {
		trafficType = evalCtx.TrafficType()
		if k := evalCtx.TargetingKey(); k != "" {
			key = k
		}
	}
	if trafficType == "" {
		return newInvalidContextError("Missing trafficType variable, required to track")
	}

	var value *float64
	properties := map[string]any{}
	if details != nil {
		value = details.Value
		for k, v := range details.Properties {
			properties[k] = NormalizeValue(v)
		}
	}

	if err := c.Track(key, trafficType, eventName, value, properties); err != nil {
		return &ResolutionError{Code: ErrorCodeGeneral, Message: fmt.Sprintf("split track: %v", err)}
	}
	return nil
}
