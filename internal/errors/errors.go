// Package errors provides unified error handling with a structured ErrorCode.
// Codes travel to and from inference providers as errdetails.ErrorInfo reasons.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is the ErrorInfo domain attached to errors this service emits.
const Domain = "emotalk.platform"

// ErrorCode classifies an AppError.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeInternal
	CodeInvalidArgument
	CodeUnavailable
	CodeConfigInvalid
	CodeDecode
	CodeTranscription
	CodeTranslation
	CodeSynthesis
	CodeClassificationDegraded
	CodeAlreadyCollecting
	CodeUnpinnedState
	CodeTurnInProgress
	CodeUnknownCommand
	CodeProviderTimeout
	CodeConnectionClosed
	CodePersistence
	CodeRateLimited
)

var codeNames = map[ErrorCode]string{
	CodeUnknown:                "UNKNOWN",
	CodeInternal:               "INTERNAL",
	CodeInvalidArgument:        "INVALID_ARGUMENT",
	CodeUnavailable:            "UNAVAILABLE",
	CodeConfigInvalid:          "CONFIG_INVALID",
	CodeDecode:                 "DECODE",
	CodeTranscription:          "TRANSCRIPTION",
	CodeTranslation:            "TRANSLATION",
	CodeSynthesis:              "SYNTHESIS",
	CodeClassificationDegraded: "CLASSIFICATION_DEGRADED",
	CodeAlreadyCollecting:      "ALREADY_COLLECTING",
	CodeUnpinnedState:          "UNPINNED_STATE",
	CodeTurnInProgress:         "TURN_IN_PROGRESS",
	CodeUnknownCommand:         "UNKNOWN_COMMAND",
	CodeProviderTimeout:        "PROVIDER_TIMEOUT",
	CodeConnectionClosed:       "CONNECTION_CLOSED",
	CodePersistence:            "PERSISTENCE",
	CodeRateLimited:            "RATE_LIMITED",
}

// String returns the wire name of the code.
func (c ErrorCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// ParseCode maps a wire name back to its code.
func ParseCode(s string) (ErrorCode, bool) {
	for c, n := range codeNames {
		if n == s {
			return c, true
		}
	}
	return CodeUnknown, false
}

// grpcCodeMap maps ErrorCode to gRPC status codes.
var grpcCodeMap = map[ErrorCode]codes.Code{
	CodeUnknown:                codes.Unknown,
	CodeInternal:               codes.Internal,
	CodeInvalidArgument:        codes.InvalidArgument,
	CodeUnavailable:            codes.Unavailable,
	CodeConfigInvalid:          codes.InvalidArgument,
	CodeDecode:                 codes.InvalidArgument,
	CodeTranscription:          codes.Internal,
	CodeTranslation:            codes.Internal,
	CodeSynthesis:              codes.Internal,
	CodeClassificationDegraded: codes.Internal,
	CodeAlreadyCollecting:      codes.FailedPrecondition,
	CodeUnpinnedState:          codes.FailedPrecondition,
	CodeTurnInProgress:         codes.Aborted,
	CodeUnknownCommand:         codes.InvalidArgument,
	CodeProviderTimeout:        codes.DeadlineExceeded,
	CodeConnectionClosed:       codes.Canceled,
	CodePersistence:            codes.Internal,
	CodeRateLimited:            codes.ResourceExhausted,
}

// Sentinels for errors.Is; matching is by code.
var (
	ErrDecode                 = &AppError{Code: CodeDecode}
	ErrTranscription          = &AppError{Code: CodeTranscription}
	ErrTranslation            = &AppError{Code: CodeTranslation}
	ErrSynthesis              = &AppError{Code: CodeSynthesis}
	ErrClassificationDegraded = &AppError{Code: CodeClassificationDegraded}
	ErrAlreadyCollecting      = &AppError{Code: CodeAlreadyCollecting}
	ErrUnpinnedState          = &AppError{Code: CodeUnpinnedState}
	ErrTurnInProgress         = &AppError{Code: CodeTurnInProgress}
	ErrUnknownCommand         = &AppError{Code: CodeUnknownCommand}
	ErrProviderTimeout        = &AppError{Code: CodeProviderTimeout}
	ErrConnectionClosed       = &AppError{Code: CodeConnectionClosed}
)

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     ErrorCode
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// ToProto converts to an ErrorInfo detail.
func (e *AppError) ToProto() *errdetails.ErrorInfo {
	info := &errdetails.ErrorInfo{Reason: e.Code.String(), Domain: Domain}
	if len(e.Metadata) > 0 {
		info.Metadata = e.Metadata
	}
	return info
}

// GRPCStatus returns a gRPC status with the ErrorInfo attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Message)
	if withDetail, err := st.WithDetails(e.ToProto()); err == nil {
		return withDetail
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// FromGRPCError extracts an AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if !ok {
			continue
		}
		if code, ok := ParseCode(info.GetReason()); ok {
			return &AppError{Code: code, Message: st.Message(), Metadata: info.GetMetadata(), Cause: err}
		}
	}

	return &AppError{Code: grpcToErrorCode(st.Code()), Message: st.Message(), Cause: err}
}

// grpcToErrorCode maps gRPC codes back to our error codes (best effort).
func grpcToErrorCode(c codes.Code) ErrorCode {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.Unavailable, codes.ResourceExhausted:
		return CodeUnavailable
	case codes.DeadlineExceeded:
		return CodeProviderTimeout
	case codes.Canceled:
		return CodeConnectionClosed
	case codes.Internal:
		return CodeInternal
	default:
		return CodeUnknown
	}
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case CodeUnavailable, CodeProviderTimeout:
		return true
	default:
		return false
	}
}
