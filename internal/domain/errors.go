package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found for the requested tenant
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's no longer PENDING
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in PENDING status")

	// ErrJobNotInProgress is returned when a result is recorded for a job the worker no longer owns
	ErrJobNotInProgress = errors.New("job not IN_PROGRESS for this worker")

	// ErrInvalidAction is returned when the action is not in the closed action set
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidRequest is returned when a request is missing required fields or is malformed
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidPayload is returned when job payload JSON is malformed or violates the action schema
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnauthenticated is returned when no verified identity accompanies a request
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized is returned when the caller cannot act for the tenant
	ErrUnauthorized = errors.New("unauthorized for tenant")

	// ErrRateLimited is returned when a tenant exceeded its enqueue rate
	ErrRateLimited = errors.New("enqueue rate limit exceeded")

	// ErrUnavailable is returned when the job store cannot be written or read
	ErrUnavailable = errors.New("job store unavailable")

	// ErrPermanent marks executor failures that retrying cannot fix
	ErrPermanent = errors.New("permanent failure")
)

// Permanent wraps err so the worker fails the job without consuming retries
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
