// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates invalid caller input.
var ErrValidation = errors.New("validation failed")

// ErrTenantUnresolved indicates no shop could be resolved for a request.
var ErrTenantUnresolved = errors.New("tenant unresolved")

// ErrConnExhausted indicates a registry pool reached its bound and the
// acquire timed out waiting for a free connection.
var ErrConnExhausted = errors.New("connection pool exhausted")

// ErrProvisioning indicates creating or preparing an isolated shop store failed.
// Provisioning is idempotent, so the operation is safe to retry in full.
var ErrProvisioning = errors.New("provisioning failed")

// ErrSchemaApply indicates applying schema steps to a store failed.
// Re-applying resumes from the first unapplied step.
var ErrSchemaApply = errors.New("schema apply failed")

// ErrPhaseTransition indicates a migration phase transition was rejected
// or failed permanently and forced the shop into the failed phase.
var ErrPhaseTransition = errors.New("phase transition failed")

// ErrRetired indicates an operation addressed legacy data that has already
// been retired for the shop.
var ErrRetired = errors.New("legacy data retired")
