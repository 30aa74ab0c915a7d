package vaultclient

import (
	"net/http"
	"strings"

	stderrors "errors"

	"github.com/hashicorp/vault/api"
	brokererrors "github.com/jrsteele09/bazel-auth-broker/internal/errors"
)

// classify maps a raw Vault API error onto the broker's wire-visible error
// taxonomy (spec.md §4.6, §7), using the response status code the way
// HashiCorp client consumers are expected to (status code first, message
// substring only as a fallback).
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *api.ResponseError
	if stderrors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusForbidden:
			return brokererrors.Wrap(brokererrors.KindVaultPolicyDenied, err, op)
		case http.StatusBadRequest:
			if isRoleMissing(apiErr) {
				return brokererrors.Wrap(brokererrors.KindVaultRoleMissing, err, op)
			}
			return brokererrors.Wrap(brokererrors.KindVaultAuthRejected, err, op)
		case http.StatusUnauthorized:
			return brokererrors.Wrap(brokererrors.KindVaultAuthRejected, err, op)
		case http.StatusNotFound:
			return brokererrors.Wrap(brokererrors.KindVaultRoleMissing, err, op)
		default:
			if apiErr.StatusCode >= 500 {
				return brokererrors.Wrap(brokererrors.KindVaultUnreachable, err, op)
			}
			return brokererrors.Wrap(brokererrors.KindVaultAuthRejected, err, op)
		}
	}

	// Transport-level failure: connection refused, timeout, DNS, TLS, etc.
	return brokererrors.Wrap(brokererrors.KindVaultUnreachable, err, op)
}

func isRoleMissing(apiErr *api.ResponseError) bool {
	msg := strings.Join(apiErr.Errors, ",")
	return strings.Contains(msg, "no matching mount") ||
		strings.Contains(msg, "role") && strings.Contains(msg, "not found") ||
		strings.Contains(msg, "unknown role")
}
