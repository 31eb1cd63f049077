// Package handlers defines the HTTP error codes used by the administrative
// endpoints. Codes are lowercase snake_case; clients branch on them rather
// than on message text.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Written by middleware (auth, rate limiter), listed for clients.
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeRateLimited  = "too_many_requests"

	// Domain-specific:
	ErrCodeHandshakeFailed = "handshake_failed"
	ErrCodeCapacity        = "capacity_reached"
	ErrCodeListFailed      = "list_failed"
)
