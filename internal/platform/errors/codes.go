// Package errors provides structured error handling for the auth domain.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeBadRequest indicates malformed or missing input.
	CodeBadRequest Code = "BAD_REQUEST"

	// CodeConflict indicates a duplicate magic-link request or duplicate credential.
	CodeConflict Code = "CONFLICT"

	// CodeNotFound indicates an unknown token, credential, or user. The code is
	// deliberately generic so callers cannot tell why a lookup failed.
	CodeNotFound Code = "NOT_FOUND"

	// CodeUnauthenticated indicates the session lacks the identity an operation requires.
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// CodeVerificationFailed indicates a challenge mismatch or rejected cryptographic verification.
	CodeVerificationFailed Code = "VERIFICATION_FAILED"

	// CodeExpired indicates a token past its expiry.
	CodeExpired Code = "EXPIRED"

	// CodeUpstreamFailure indicates an OAuth, email, or storage collaborator error.
	CodeUpstreamFailure Code = "UPSTREAM_FAILURE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeBadRequest, CodeVerificationFailed, CodeExpired:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
