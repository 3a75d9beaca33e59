package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports one or more field invariant violations. The field
// names identify what the caller must correct before retrying.
type ValidationError struct {
	Violations []Violation
}

func (e ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Field != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
		} else {
			parts = append(parts, v.Message)
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the distinct offending field names, in first-seen order.
func (e ValidationError) Fields() []string {
	seen := make(map[string]struct{}, len(e.Violations))
	var out []string
	for _, v := range e.Violations {
		if v.Field == "" {
			continue
		}
		if _, ok := seen[v.Field]; ok {
			continue
		}
		seen[v.Field] = struct{}{}
		out = append(out, v.Field)
	}
	return out
}

// NewValidationError builds a single-field validation error.
func NewValidationError(entity EntityType, id, field, message string) ValidationError {
	return ValidationError{Violations: []Violation{{
		Severity: SeverityBlock,
		Field:    field,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}}}
}

// NotFoundError is returned when a referenced team, item, user, or role does
// not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ImmutableFieldError is returned when an update attempts to change a field
// that is fixed at creation time (team_id, is_kit, created_at).
type ImmutableFieldError struct {
	Entity EntityType
	ID     string
	Field  string
}

func (e ImmutableFieldError) Error() string {
	return fmt.Sprintf("%s %s: field %s is immutable", e.Entity, e.ID, e.Field)
}

// PermissionDeniedError is returned when the acting role lacks a required
// permission.
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e PermissionDeniedError) Error() string {
	return fmt.Sprintf("role %q lacks permission %q", e.Role, e.Permission)
}

// StorageError wraps an underlying store failure. Keys are deterministic, so
// callers may retry the same operation without re-deriving them.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }
