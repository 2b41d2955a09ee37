package errors

import "net/http"

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIntegrity     Code = "INTEGRITY_ERROR"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

type trait uint8

const (
	retryable trait = 1 << iota
	showsDetails
	securityRelevant
)

type codeInfo struct {
	status  int
	message string
	traits  trait
}

var catalog = map[Code]codeInfo{
	CodeValidation:    {http.StatusBadRequest, "validation failed", showsDetails},
	CodeUnauthorized:  {http.StatusUnauthorized, "authentication required", securityRelevant},
	CodeForbidden:     {http.StatusForbidden, "access denied", securityRelevant},
	CodeNotFound:      {http.StatusNotFound, "resource not found", 0},
	CodeConflict:      {http.StatusBadRequest, "conflict detected", showsDetails},
	CodeStateConflict: {http.StatusBadRequest, "state transition disallowed", showsDetails},
	CodeIntegrity:     {http.StatusBadRequest, "payload integrity check failed", securityRelevant},
	CodeIdempotency:   {http.StatusConflict, "idempotency key reused", showsDetails},
	CodeRateLimit:     {http.StatusTooManyRequests, "rate limit exceeded", 0},
	CodeInternal:      {http.StatusInternalServerError, "internal server error", retryable},
	CodeDependency:    {http.StatusBadGateway, "dependency unavailable", retryable | showsDetails},
}

// Metadata describes how a code surfaces at the HTTP boundary.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	// Security codes are logged as security events rather than ordinary
	// request failures.
	Security bool
}

// ClientFault reports whether the caller caused the failure.
func (m Metadata) ClientFault() bool {
	return m.HTTPStatus < http.StatusInternalServerError
}

// Metadata falls back to CodeInternal for codes outside the catalog.
func (c Code) Metadata() Metadata {
	info, ok := catalog[c]
	if !ok {
		info = catalog[CodeInternal]
	}
	return Metadata{
		HTTPStatus:     info.status,
		PublicMessage:  info.message,
		Retryable:      info.traits&retryable != 0,
		DetailsAllowed: info.traits&showsDetails != 0,
		Security:       info.traits&securityRelevant != 0,
	}
}

func MetadataFor(code Code) Metadata {
	return code.Metadata()
}
