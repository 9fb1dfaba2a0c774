package provider

import (
	"errors"
	"fmt"
)

// Reason explains how a resolution value was chosen.
type Reason string

const (
	ReasonTargetingMatch Reason = "TARGETING_MATCH"
	ReasonDefault        Reason = "DEFAULT"
	ReasonStatic         Reason = "STATIC"
	ReasonError          Reason = "ERROR"
	ReasonUnknown        Reason = "UNKNOWN"
)

// ErrorCode classifies a failed resolution.
type ErrorCode string

const (
	ErrorCodeFlagNotFound        ErrorCode = "FLAG_NOT_FOUND"
	ErrorCodeParseError          ErrorCode = "PARSE_ERROR"
	ErrorCodeTargetingKeyMissing ErrorCode = "TARGETING_KEY_MISSING"
	ErrorCodeInvalidContext      ErrorCode = "INVALID_CONTEXT"
	ErrorCodeProviderNotReady    ErrorCode = "PROVIDER_NOT_READY"
	ErrorCodeGeneral             ErrorCode = "GENERAL"
)

// ResolutionError is returned by every failing resolve and track call.
// errors.Is matches on Code, so callers can test against the Err* sentinels.
type ResolutionError struct {
	Code    ErrorCode
	Message string
}

func (e *ResolutionError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is a ResolutionError with the same code.
func (e *ResolutionError) Is(target error) bool {
	var re *ResolutionError
	if !errors.As(target, &re) {
		return false
	}
	return re.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrFlagNotFound        = &ResolutionError{Code: ErrorCodeFlagNotFound}
	ErrParse               = &ResolutionError{Code: ErrorCodeParseError}
	ErrTargetingKeyMissing = &ResolutionError{Code: ErrorCodeTargetingKeyMissing}
	ErrInvalidContext      = &ResolutionError{Code: ErrorCodeInvalidContext}
	ErrGeneral             = &ResolutionError{Code: ErrorCodeGeneral}
)

func newFlagNotFoundError(format string, args ...any) *ResolutionError {
	return &ResolutionError{Code: ErrorCodeFlagNotFound, Message: fmt.Sprintf(format, args...)}
}

func newParseError(format string, args ...any) *ResolutionError {
	return &ResolutionError{Code: ErrorCodeParseError, Message: fmt.Sprintf(format, args...)}
}

func newTargetingKeyMissingError(msg string) *ResolutionError {
	return &ResolutionError{Code: ErrorCodeTargetingKeyMissing, Message: msg}
}

func newInvalidContextError(msg string) *ResolutionError {
	return &ResolutionError{Code: ErrorCodeInvalidContext, Message: msg}
}

// ErrorCodeOf extracts the code of a ResolutionError, or GENERAL for any other error.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Code
	}
	return ErrorCodeGeneral
}

// FlagMetadata is arbitrary metadata attached to a resolution.
type FlagMetadata map[string]any

// ResolutionDetail is the typed outcome of one evaluation.
type ResolutionDetail[T any] struct {
	FlagKey      string       `json:"key"`
	Value        T            `json:"value"`
	Variant      string       `json:"variant,omitempty"`
	Reason       Reason       `json:"reason"`
	ErrorCode    ErrorCode    `json:"errorCode,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	FlagMetadata FlagMetadata `json:"metadata,omitempty"`
}

// Metadata describes the provider.
type Metadata struct {
	Name string `json:"name"`
}

// State is the provider readiness as seen by callers.
type State string

const (
	StateNotReady State = "NOT_READY"
	StateReady    State = "READY"
	StateStale    State = "STALE"
	StateError    State = "ERROR"
)
