package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TimurManjosov/splitfeature/internal/provider"
)

// Value types accepted by ?type=.
const (
	TypeBoolean = "boolean"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeObject  = "object"
)

// EvaluateRequest is the body of POST /v1/flags/{key}/evaluate.
type EvaluateRequest struct {
	Context provider.EvaluationContext `json:"context,omitempty"`
	Default json.RawMessage            `json:"default,omitempty"`
}

// handleEvaluate handles POST /v1/flags/{key}/evaluate?type=...
//
// A successful resolution answers 200 with the resolution detail. A failed one
// answers with the mapped status and an ErrorResponse whose detail carries the
// default that was served.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	flagKey := chi.URLParam(r, "key")
	valueType := r.URL.Query().Get("type")
	if valueType == "" {
		valueType = TypeString
	}

	var req EvaluateRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	var (
		detail any
		err    error
	)
	ctx := r.Context()
	switch valueType {
	case TypeBoolean:
		var def bool
		if !decodeDefault(w, r, req.Default, &def) {
			return
		}
		detail, err = s.provider.ResolveBoolean(ctx, flagKey, def, req.Context)
	case TypeString:
		var def string
		if !decodeDefault(w, r, req.Default, &def) {
			return
		}
		detail, err = s.provider.ResolveString(ctx, flagKey, def, req.Context)
	case TypeNumber:
		var def float64
		if !decodeDefault(w, r, req.Default, &def) {
			return
		}
		detail, err = s.provider.ResolveNumber(ctx, flagKey, def, req.Context)
	case TypeInteger:
		var def float64
		if !decodeDefault(w, r, req.Default, &def) {
			return
		}
		if def != math.Trunc(def) || def >= math.MaxInt64 || def < math.MinInt64 {
			BadRequestError(w, r, ErrCodeInvalidDefault, fmt.Sprintf("default must be an integer, got %v", def))
			return
		}
		detail, err = s.provider.ResolveInt(ctx, flagKey, int64(def), req.Context)
	case TypeObject:
		var def any
		if !decodeDefault(w, r, req.Default, &def) {
			return
		}
		switch def.(type) {
		case nil, map[string]any, []any:
		default:
			BadRequestError(w, r, ErrCodeInvalidDefault, "default must be a JSON object or array")
			return
		}
		detail, err = s.provider.ResolveObject(ctx, flagKey, def, req.Context)
	default:
		BadRequestError(w, r, ErrCodeInvalidType,
			fmt.Sprintf("type must be one of %s, %s, %s, %s, %s; got %q", TypeBoolean, TypeString, TypeNumber, TypeInteger, TypeObject, valueType))
		return
	}

	if err != nil {
		ResolutionError(w, r, err, detail)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// decodeDefault unmarshals the raw default into v; an absent default leaves v zero.
func decodeDefault(w http.ResponseWriter, r *http.Request, raw json.RawMessage, v any) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		BadRequestError(w, r, ErrCodeInvalidDefault, "default does not match the requested type: "+err.Error())
		return false
	}
	return true
}
