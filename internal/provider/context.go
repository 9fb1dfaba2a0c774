package provider

import (
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/TimurManjosov/splitfeature/internal/split"
)

// Reserved evaluation context keys.
const (
	TargetingKey = "targetingKey"
	TrafficType  = "trafficType"
)

// isoMillis matches the ISO-8601 form JSON encoders in browsers produce for dates.
const isoMillis = "2006-01-02T15:04:05.000Z"

// EvaluationContext maps attribute names to values.
type EvaluationContext map[string]any

// TargetingKey returns the context's targeting key, or "" when absent or not a string.
func (c EvaluationContext) TargetingKey() string {
	return c.stringAttr(TargetingKey)
}

// TrafficType returns the context's traffic type, or "" when absent or not a string.
func (c EvaluationContext) TrafficType() string {
	return c.stringAttr(TrafficType)
}

func (c EvaluationContext) stringAttr(name string) string {
	if c == nil {
		return ""
	}
	s, _ := c[name].(string)
	return s
}

// Consumer is an evaluation context reshaped for the Split client.
type Consumer struct {
	Key         string
	TrafficType string
	Attributes  split.Attributes
}

// TransformContext splits the reserved keys out of c and normalises the rest.
func TransformContext(c EvaluationContext) Consumer {
	attrs := make(split.Attributes, len(c))
	for k, v := range c {
		if k == TargetingKey || k == TrafficType {
			continue
		}
		nv, ok := normalize(reflect.ValueOf(v))
		if !ok {
			continue
		}
		attrs[k] = nv
	}
	return Consumer{
		Key:         c.TargetingKey(),
		TrafficType: c.TrafficType(),
		Attributes:  attrs,
	}
}

// NormalizeValue converts v into the attribute shape the Split SDK expects:
//
//   - time.Time becomes an ISO-8601 UTC string with millisecond precision
//   - signed and unsigned integers become int64
//   - floats become float64; NaN and infinities become nil
//   - json.Number becomes float64
//   - maps with string keys become map[string]any, slices and arrays become []any
//   - pointers and interfaces are dereferenced, nil becomes nil
//   - anything else (structs, json.Marshaler) goes through a JSON round trip
//
// Functions and channels have no representation; inside maps they are dropped and
// in slices they become nil.
func NormalizeValue(v any) any {
	nv, _ := normalize(reflect.ValueOf(v))
	return nv
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	jsonNumType   = reflect.TypeOf(json.Number(""))
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// normalize returns the normalised value and false when rv has no representation.
func normalize(rv reflect.Value) (any, bool) {
	if !rv.IsValid() {
		return nil, true
	}

	switch rv.Type() {
	case timeType:
		return rv.Interface().(time.Time).UTC().Format(isoMillis), true
	case jsonNumType:
		f, err := rv.Interface().(json.Number).Float64()
		if err != nil {
			return nil, true
		}
		return finite(f), true
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, true
		}
		elem := rv.Elem()
		if rv.Kind() == reflect.Pointer && elem.Kind() == reflect.Struct && elem.Type() != timeType &&
			rv.Type().Implements(marshalerType) {
			return roundTrip(rv.Interface()), true
		}
		return normalize(elem)
	case reflect.Bool:
		return rv.Bool(), true
	case reflect.String:
		return rv.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float()), true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return roundTrip(rv.Interface()), true
		}
		if rv.IsNil() {
			return nil, true
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			nv, ok := normalize(iter.Value())
			if !ok {
				continue
			}
			out[iter.Key().String()] = nv
		}
		return out, true
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, true
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i], _ = normalize(rv.Index(i))
		}
		return out, true
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, false
	default:
		return roundTrip(rv.Interface()), true
	}
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// roundTrip normalises values with no direct mapping through their JSON form.
func roundTrip(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
