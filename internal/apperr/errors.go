package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

type Kind string

const (
	KindInternal           Kind = "internal_error"
	KindUnauthorized       Kind = "unauthorized"
	KindQuotaExhausted     Kind = "quota_exhausted"
	KindValidation         Kind = "validation_error"
	KindVerificationFailed Kind = "verification_failed"
)

// Error is an error that knows how it is presented at the request boundary.
// Detail is shown to the caller; Err is only ever logged.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Detail + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Unauthorized(detail string, err error) *Error {
	return &Error{Kind: KindUnauthorized, Detail: detail, Err: err}
}

func QuotaExhausted(detail string) *Error {
	return &Error{Kind: KindQuotaExhausted, Detail: detail}
}

func Validation(detail string, err error) *Error {
	return &Error{Kind: KindValidation, Detail: detail, Err: err}
}

func VerificationFailed(detail string, err error) *Error {
	return &Error{Kind: KindVerificationFailed, Detail: detail, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Detail: "internal server error", Err: err}
}

// KindOf returns the kind of err, treating anything unclassified as internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func StatusCode(err error) int {
	switch KindOf(err) {
	case KindUnauthorized, KindVerificationFailed:
		return http.StatusUnauthorized
	case KindQuotaExhausted:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type Response struct {
	Status string `json:"status"`
	Error  Kind   `json:"error"`
	Detail string `json:"detail"`
}

// ResponseFor builds the body sent to the caller. Unclassified errors never leak their text.
func ResponseFor(err error) Response {
	var appErr *Error
	if errors.As(err, &appErr) {
		return Response{Status: "error", Error: appErr.Kind, Detail: appErr.Detail}
	}
	return Response{Status: "error", Error: KindInternal, Detail: "internal server error"}
}

func Write(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusCode(err))
	json.NewEncoder(w).Encode(ResponseFor(err))
}
