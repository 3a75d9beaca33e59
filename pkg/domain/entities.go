// Package domain defines the core persistent entities, value types, and
// review-workflow primitives used by kitcore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence rows.
const (
	// EntityItem identifies an inventory item or kit record.
	EntityItem EntityType = "item"
	// EntityTeam identifies a team record.
	EntityTeam EntityType = "team"
	// EntityMembership identifies a user-to-team membership record.
	EntityMembership EntityType = "membership"
	// EntityUser identifies a user record.
	EntityUser EntityType = "user"
	// EntityRole identifies a role record.
	EntityRole EntityType = "role"
)

// ReviewStatus represents the review-outcome states of an item or kit.
type ReviewStatus string

// Canonical review statuses. StatusToReview is the initial state; the three
// outcome states are reachable from any state, including each other.
const (
	// StatusToReview marks an item awaiting its review for the current cycle.
	StatusToReview ReviewStatus = "To Review"
	// StatusCompleted marks an item reviewed with no findings.
	StatusCompleted ReviewStatus = "Completed"
	// StatusDamaged marks an item reviewed with at least one damage report.
	StatusDamaged ReviewStatus = "Damaged"
	// StatusShortages marks an item whose on-hand quantity fell below authorized.
	StatusShortages ReviewStatus = "Shortages"
)

// AggregateMixed is the read-derived pseudo-status reported when a kit's
// non-kit descendants do not share a single status. It is never persisted.
const AggregateMixed ReviewStatus = "mixed"

// ValidStatus reports whether s is one of the four persistable review states.
func ValidStatus(s ReviewStatus) bool {
	switch s {
	case StatusToReview, StatusCompleted, StatusDamaged, StatusShortages:
		return true
	}
	return false
}

// UpdateLogEntry records one mutation in an item's append-only audit trail.
type UpdateLogEntry struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Item represents an inventory item or, when IsKit is set, a kit containing
// other items. Quantity fields are meaningful only for non-kit items.
type Item struct {
	ID            string           `json:"id"`
	TeamID        string           `json:"team_id"`
	Name          string           `json:"name"`
	ActualName    string           `json:"actual_name,omitempty"`
	NSN           string           `json:"nsn,omitempty"`
	SerialNumber  string           `json:"serial_number,omitempty"`
	IsKit         bool             `json:"is_kit"`
	Parent        *string          `json:"parent"`
	Status        ReviewStatus     `json:"status"`
	AuthQuantity  int              `json:"auth_quantity"`
	OHQuantity    int              `json:"oh_quantity"`
	DamageReports []string         `json:"damage_reports"`
	Description   string           `json:"description,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	ImageKey      string           `json:"image_key,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CreatedBy     string           `json:"created_by"`
	UpdateLog     []UpdateLogEntry `json:"update_log"`
}

// Team groups items and members under one owner.
type Team struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership links a user to a team with the role they hold on it.
type Membership struct {
	TeamID    string    `json:"team_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// User mirrors the identity-provider subject that performs reviews.
type User struct {
	Sub       string `json:"sub"`
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	AccountID string `json:"account_id,omitempty"`
}

// Role names a fixed permission set. The name acts as the identifier.
type Role struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// ItemPatch carries a partial update for an item. Nil fields are left
// untouched by UpdateItem; the store merges only what is provided. TeamID,
// IsKit, and CreatedAt are representable so decoded requests that attempt
// them can be rejected with ImmutableFieldError instead of silently dropped.
type ItemPatch struct {
	TeamID        *string       `json:"team_id,omitempty"`
	IsKit         *bool         `json:"is_kit,omitempty"`
	CreatedAt     *time.Time    `json:"created_at,omitempty"`
	Name          *string       `json:"name,omitempty"`
	ActualName    *string       `json:"actual_name,omitempty"`
	NSN           *string       `json:"nsn,omitempty"`
	SerialNumber  *string       `json:"serial_number,omitempty"`
	Parent        **string      `json:"-"`
	Status        *ReviewStatus `json:"status,omitempty"`
	AuthQuantity  *int          `json:"auth_quantity,omitempty"`
	OHQuantity    *int          `json:"oh_quantity,omitempty"`
	DamageReports *[]string     `json:"damage_reports,omitempty"`
	Description   *string       `json:"description,omitempty"`
	Notes         *string       `json:"notes,omitempty"`
	ImageKey      *string       `json:"image_key,omitempty"`
}

// Empty reports whether the patch carries no fields at all.
func (p ItemPatch) Empty() bool {
	return p.TeamID == nil && p.IsKit == nil && p.CreatedAt == nil &&
		p.Name == nil && p.ActualName == nil && p.NSN == nil &&
		p.SerialNumber == nil && p.Parent == nil && p.Status == nil &&
		p.AuthQuantity == nil && p.OHQuantity == nil && p.DamageReports == nil &&
		p.Description == nil && p.Notes == nil && p.ImageKey == nil
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations captured for rule evaluation.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated directly.
	ActionUpdate Action = "update"
	// ActionCascade indicates a status write fanned out from an ancestor kit.
	// Cascade writes relax the damage-report entry validation.
	ActionCascade Action = "cascade"
	ActionDelete  Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Field    string
	Message  string
	Entity   EntityType
	EntityID string
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn records a warning but allows commit.
	SeverityWarn Severity = "warn"
)

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Blocking returns only the blocking violations.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}
