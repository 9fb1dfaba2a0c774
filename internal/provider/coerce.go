package provider

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// boolTreatment is the closed set of treatments that coerce to a boolean.
type boolTreatment string

const (
	treatmentOn    boolTreatment = "on"
	treatmentTrue  boolTreatment = "true"
	treatmentOff   boolTreatment = "off"
	treatmentFalse boolTreatment = "false"
)

// parseBoolTreatment matches treatment case-insensitively against the boolean set.
func parseBoolTreatment(treatment string) (bool, error) {
	switch boolTreatment(strings.ToLower(strings.TrimSpace(treatment))) {
	case treatmentOn, treatmentTrue:
		return true, nil
	case treatmentOff, treatmentFalse:
		return false, nil
	default:
		return false, newParseError("Invalid boolean value for %s", treatment)
	}
}

// parseNumberTreatment parses treatment as a float64. NaN and infinities are rejected.
func parseNumberTreatment(treatment string) (float64, error) {
	s := strings.TrimSpace(treatment)
	if s == "" {
		return 0, newParseError("Invalid 'undefined' value.")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, newParseError("Invalid numeric value %s", treatment)
	}
	return f, nil
}

// parseIntTreatment parses treatment as a number and requires it to be integral.
func parseIntTreatment(treatment string) (int64, error) {
	f, err := parseNumberTreatment(treatment)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, newParseError("Invalid integer value %s", treatment)
	}
	return int64(f), nil
}

// parseObjectTreatment decodes treatment as JSON. Only objects and arrays are accepted.
func parseObjectTreatment(treatment string) (any, error) {
	if strings.TrimSpace(treatment) == "" {
		return nil, newParseError("Invalid 'undefined' JSON value.")
	}
	var value any
	if err := json.Unmarshal([]byte(treatment), &value); err != nil {
		return nil, newParseError("Error parsing %s as JSON, %v", treatment, err)
	}
	switch value.(type) {
	case map[string]any, []any:
		return value, nil
	default:
		return nil, newParseError("Flag value %s had unexpected type %s, expected \"object\"", treatment, jsonKind(value))
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	default:
		return "object"
	}
}
