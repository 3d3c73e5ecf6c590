package shared

import (
	"errors"
	"fmt"
)

var (
	ErrTransport         = errors.New("transport failure")
	ErrNotFound          = errors.New("not found")
	ErrReferenceNotFound = errors.New("reference not found")
	ErrValidation        = errors.New("validation error")
)

// TransportError reports a network failure or non-success HTTP status from
// either external service.
type TransportError struct {
	Service    string
	StatusCode int
	Code       string
	Message    string
}

func (e *TransportError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: http %d %s: %s", e.Service, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Service, e.StatusCode, e.Message)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// NotFoundError is a 404-equivalent from the source service.
type NotFoundError struct {
	Resource string
	ID       int
}

func (e *NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ReferenceNotFoundError means a document references a tag or correspondent
// that has no sink record yet. Callers must sync correspondents and tags
// before documents.
type ReferenceNotFoundError struct {
	Collection string
	SourceID   int
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s with source id %d has no sink record", e.Collection, e.SourceID)
}

func (e *ReferenceNotFoundError) Is(target error) bool {
	return target == ErrReferenceNotFound
}

// ValidationError reports a malformed entity, e.g. a missing required
// identifier.
type ValidationError struct {
	Entity  string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Entity == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
