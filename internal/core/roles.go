package core

import (
	"strings"

	"kitcore/pkg/domain"
)

// Permission strings consulted before mutations. Compared by exact match
// only; there is no wildcard or hierarchy expansion.
const (
	PermItemCreate   = "item.create"
	PermItemRead     = "item.read"
	PermItemUpdate   = "item.update"
	PermItemDelete   = "item.delete"
	PermItemReview   = "item.review"
	PermTeamCreate   = "team.create"
	PermTeamUpdate   = "team.update"
	PermTeamDelete   = "team.delete"
	PermMemberManage = "member.manage"
	PermReportExport = "report.export"
)

// Built-in role names seeded at startup.
const (
	RoleOwner   = "Owner"
	RoleManager = "Manager"
	RoleMember  = "Member"
)

// RoleAccess answers permission checks against an explicit role configuration
// built once at startup. A role unknown to the configuration has zero
// permissions.
type RoleAccess struct {
	perms map[string]map[string]struct{}
}

// NewRoleAccess builds the access table from the given role definitions.
func NewRoleAccess(roles []domain.Role) *RoleAccess {
	a := &RoleAccess{perms: make(map[string]map[string]struct{}, len(roles))}
	for _, r := range roles {
		set := make(map[string]struct{}, len(r.Permissions))
		for _, p := range r.Permissions {
			set[p] = struct{}{}
		}
		a.perms[strings.ToUpper(r.Name)] = set
	}
	return a
}

// HasPermission reports whether the named role grants the permission string.
// Unknown roles fail closed.
func (a *RoleAccess) HasPermission(role, permission string) bool {
	set, ok := a.perms[strings.ToUpper(role)]
	if !ok {
		return false
	}
	_, ok = set[permission]
	return ok
}

// DefaultRoles returns the fixed role configuration. It is seeded into the
// store at startup and handed to NewRoleAccess; it is not mutated afterwards.
func DefaultRoles() []domain.Role {
	member := []string{PermItemRead, PermItemUpdate, PermItemReview}
	manager := append(append([]string{}, member...),
		PermItemCreate, PermItemDelete, PermMemberManage, PermReportExport)
	owner := append(append([]string{}, manager...),
		PermTeamCreate, PermTeamUpdate, PermTeamDelete)
	return []domain.Role{
		{Name: RoleOwner, Permissions: owner},
		{Name: RoleManager, Permissions: manager},
		{Name: RoleMember, Permissions: member},
	}
}
