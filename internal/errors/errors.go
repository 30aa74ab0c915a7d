// Package errors defines the broker's closed, wire-visible error taxonomy
// (spec.md §7). Every error that reaches the HTTP boundary (C7) is a *Error
// from this package; internal errors are wrapped into one before they cross
// that boundary so nothing leaks an internal type or message to a client.
package errors

import (
	"errors"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Kind is one of the closed set of wire-visible error kinds from spec.md §7.
type Kind string

const (
	KindBackpressure Kind = "BACKPRESSURE"
	// KindInvalidState covers any request whose parameters the broker can't
	// act on: an OAuth state mismatch, a malformed request body, or a
	// metadata field over the size bound. All three are client mistakes
	// with the same remedy — fix the request and resend.
	KindInvalidState         Kind = "INVALID_STATE"
	KindIDTokenInvalid       Kind = "ID_TOKEN_INVALID"
	KindNonceMismatch        Kind = "NONCE_MISMATCH"
	KindIdPBadResponse       Kind = "IDP_BAD_RESPONSE"
	KindNoTeamAssignment     Kind = "NO_TEAM_ASSIGNMENT"
	KindInvalidTeamSelection Kind = "INVALID_TEAM_SELECTION"
	KindSessionNotFound      Kind = "SESSION_NOT_FOUND"
	KindSessionNotReady      Kind = "SESSION_NOT_READY"
	KindSessionExpired       Kind = "SESSION_EXPIRED"
	KindSessionAlreadyUsed   Kind = "SESSION_ALREADY_USED"
	KindIdPUnreachable       Kind = "IDP_UNREACHABLE"
	KindVaultUnreachable     Kind = "VAULT_UNREACHABLE"
	KindVaultAuthRejected    Kind = "VAULT_AUTH_REJECTED"
	KindVaultRoleMissing     Kind = "VAULT_ROLE_MISSING"
	KindVaultPolicyDenied    Kind = "VAULT_POLICY_DENIED"
	KindInternal             Kind = "INTERNAL"
)

var statusByKind = map[Kind]int{
	KindBackpressure:         http.StatusServiceUnavailable,
	KindInvalidState:         http.StatusBadRequest,
	KindIDTokenInvalid:       http.StatusBadRequest,
	KindNonceMismatch:        http.StatusBadRequest,
	KindIdPBadResponse:       http.StatusBadGateway,
	KindNoTeamAssignment:     http.StatusForbidden,
	KindInvalidTeamSelection: http.StatusBadRequest,
	KindSessionNotFound:      http.StatusNotFound,
	KindSessionNotReady:      http.StatusConflict,
	KindSessionExpired:       http.StatusGone,
	KindSessionAlreadyUsed:   http.StatusConflict,
	KindIdPUnreachable:       http.StatusBadGateway,
	KindVaultUnreachable:     http.StatusBadGateway,
	KindVaultAuthRejected:    http.StatusBadGateway,
	KindVaultRoleMissing:     http.StatusBadGateway,
	KindVaultPolicyDenied:    http.StatusBadGateway,
	KindInternal:             http.StatusInternalServerError,
}

// retryable mirrors the "Recoverable by client?" column of spec.md §7.
var retryable = map[Kind]bool{
	KindBackpressure:     true,
	KindIdPUnreachable:   true,
	KindIdPBadResponse:   true,
	KindVaultUnreachable: true,
	KindInternal:         true,
}

// Error is the only error type permitted to cross the HTTP boundary.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies cause into the closed taxonomy while preserving a stack
// trace on the internal error chain (teacher's own auth/auth_service.go
// reaches for github.com/pkg/errors at exactly this kind of component
// boundary), even though only Message ever reaches the client.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: pkgerrors.Wrap(cause, message)}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (e *Error) Retryable() bool {
	return retryable[e.Kind]
}

// As is a thin wrapper so callers don't need to import both "errors" and
// this package to recover a *Error from a wrapped chain.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// Is reports whether err's chain contains a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Kind == kind
}
