package domain

import "context"

// Actor identifies the user performing a mutation, recorded in item update logs.
type Actor struct {
	UserID   string
	UserName string
	Role     string
}

// Transaction exposes the domain operations that a persistence implementation
// must support within a single clone-and-commit scope. Each transaction covers
// exactly one logical write; the store provides no cross-item atomicity, so
// cascades are issued by callers as independent transactions.
type Transaction interface {
	Snapshot() TransactionView
	CreateItem(item Item, actor Actor) (Item, error)
	UpdateItem(teamID, itemID string, patch ItemPatch, actor Actor) (Item, error)
	// CascadeStatus applies a status write fanned out from an ancestor kit.
	// It appends the same update-log entry as a direct status change but is
	// recorded with ActionCascade so the damage-report rule skips it.
	CascadeStatus(teamID, itemID string, status ReviewStatus, actor Actor) (Item, error)
	DeleteItem(teamID, itemID string) error
	CreateTeam(team Team) (Team, error)
	UpdateTeam(id string, mutator func(*Team) error) (Team, error)
	DeleteTeam(id string) error
	PutMembership(m Membership) (Membership, error)
	RemoveMembership(teamID, userID string) error
	PutUser(u User) (User, error)
	PutRole(r Role) (Role, error)
	FindItem(teamID, itemID string) (Item, bool)
	FindTeam(id string) (Team, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	RuleView
}

// PersistentStore is a minimal abstraction over durable backends. Reads are
// served from the committed state; every mutation goes through a transaction.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetItem(teamID, itemID string) (Item, bool)
	ListTeamItems(teamID string) []Item
	// FindByNSN performs a prefix match over the NSN index, excluding rows
	// owned by excludeTeamID. It returns an empty slice, never an error,
	// when nothing matches.
	FindByNSN(prefix, excludeTeamID string) []Item
	GetTeam(id string) (Team, bool)
	GetTeamByName(name string) (Team, bool)
	ListTeams() []Team
	ListUserTeams(userID string) []Team
	ListMemberships(teamID string) []Membership
	GetUserBySub(sub string) (User, bool)
	GetRole(name string) (Role, bool)
	ListRoles() []Role
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// AsValidationError converts the blocking violations into the caller-facing
// validation error so field names survive the transaction boundary.
func (e RuleViolationError) AsValidationError() ValidationError {
	return ValidationError{Violations: e.Result.Blocking()}
}
