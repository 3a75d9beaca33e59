package core

import (
	"context"
	"errors"
	"slices"

	"kitcore/pkg/domain"
)

// Service exposes the item-store operations and the review workflow over a
// persistent store, consulting role access before every mutation.
type Service struct {
	store  PersistentStore
	access *RoleAccess
}

// NewService constructs a service backed by the supplied store and role
// configuration.
func NewService(store PersistentStore, access *RoleAccess) *Service {
	if access == nil {
		access = NewRoleAccess(DefaultRoles())
	}
	return &Service{store: store, access: access}
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// HasPermission reports whether the role grants the permission.
func (s *Service) HasPermission(role, permission string) bool {
	return s.access.HasPermission(role, permission)
}

func (s *Service) require(actor Actor, permission string) error {
	if !s.access.HasPermission(actor.Role, permission) {
		return domain.PermissionDeniedError{Role: actor.Role, Permission: permission}
	}
	return nil
}

// commit runs fn in a transaction and unwraps blocking rule violations into
// the caller-facing validation error so field names survive.
func (s *Service) commit(ctx context.Context, fn func(Transaction) error) error {
	_, err := s.store.RunInTransaction(ctx, fn)
	var rv domain.RuleViolationError
	if errors.As(err, &rv) {
		return rv.AsValidationError()
	}
	return err
}

// CreateItem persists a new item or kit.
func (s *Service) CreateItem(ctx context.Context, item Item, actor Actor) (Item, error) {
	if err := s.require(actor, PermItemCreate); err != nil {
		return Item{}, err
	}
	var created Item
	err := s.commit(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateItem(item, actor)
		return err
	})
	return created, err
}

// GetItem fetches a single item by team and ID.
func (s *Service) GetItem(ctx context.Context, teamID, itemID string) (Item, error) {
	_ = ctx
	it, ok := s.store.GetItem(teamID, itemID)
	if !ok {
		return Item{}, domain.NotFoundError{Entity: EntityItem, ID: itemID}
	}
	return it, nil
}

// ListTeamItems returns a team's flat item list in creation order.
func (s *Service) ListTeamItems(ctx context.Context, teamID string) ([]Item, error) {
	_ = ctx
	if _, ok := s.store.GetTeam(teamID); !ok {
		return nil, domain.NotFoundError{Entity: EntityTeam, ID: teamID}
	}
	return s.store.ListTeamItems(teamID), nil
}

// BuildTeamTree loads a team's items and nests them into kit trees.
func (s *Service) BuildTeamTree(ctx context.Context, teamID string) ([]*domain.Node, error) {
	items, err := s.ListTeamItems(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return domain.BuildTree(items), nil
}

// UpdateItem merges a partial edit into an existing item.
func (s *Service) UpdateItem(ctx context.Context, teamID, itemID string, patch ItemPatch, actor Actor) (Item, error) {
	if err := s.require(actor, PermItemUpdate); err != nil {
		return Item{}, err
	}
	var updated Item
	err := s.commit(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateItem(teamID, itemID, patch, actor)
		return err
	})
	return updated, err
}

// DeleteItem hard-deletes an item. Children of a deleted kit are not removed;
// their parent reference is cleared and they surface as roots afterwards.
func (s *Service) DeleteItem(ctx context.Context, teamID, itemID string, actor Actor) error {
	if err := s.require(actor, PermItemDelete); err != nil {
		return err
	}
	return s.commit(ctx, func(tx Transaction) error {
		return tx.DeleteItem(teamID, itemID)
	})
}

// FindByNSNAcrossTeams suggests items from other teams whose NSN starts with
// the given prefix, for pre-filling new item forms. Nothing matching yields
// an empty slice, never an error.
func (s *Service) FindByNSNAcrossTeams(ctx context.Context, prefix, callerTeamID string) []Item {
	_ = ctx
	return s.store.FindByNSN(prefix, callerTeamID)
}

// CascadeFailure records one descendant write that failed during a status
// cascade. Failures are reported alongside the successful parent update.
type CascadeFailure struct {
	ItemID string `json:"item_id"`
	Err    error  `json:"error"`
}

// ApplyStatus changes a kit's review status and fans the same status out to
// every descendant in pre-order. The parent write commits first; each
// descendant write is an independent best-effort transaction whose failure is
// collected, never raised. Setting the status the kit already has is a no-op
// with zero writes.
func (s *Service) ApplyStatus(ctx context.Context, teamID, kitID string, status ReviewStatus, reports []string, actor Actor) (Item, []CascadeFailure, error) {
	if err := s.require(actor, PermItemReview); err != nil {
		return Item{}, nil, err
	}
	kit, ok := s.store.GetItem(teamID, kitID)
	if !ok {
		return Item{}, nil, domain.NotFoundError{Entity: EntityItem, ID: kitID}
	}
	if !kit.IsKit {
		return Item{}, nil, domain.NewValidationError(EntityItem, kitID, "is_kit", "status cascade applies to kits only")
	}
	if kit.Status == status {
		return kit, nil, nil
	}

	patch := ItemPatch{Status: &status}
	if len(reports) > 0 {
		merged := append(slices.Clone(kit.DamageReports), reports...)
		patch.DamageReports = &merged
	}
	var updated Item
	if err := s.commit(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateItem(teamID, kitID, patch, actor)
		return err
	}); err != nil {
		return Item{}, nil, err
	}

	var failures []CascadeFailure
	for _, id := range s.descendantIDs(teamID, kitID) {
		err := s.commit(ctx, func(tx Transaction) error {
			_, err := tx.CascadeStatus(teamID, id, status, actor)
			return err
		})
		if err != nil {
			failures = append(failures, CascadeFailure{ItemID: id, Err: err})
		}
	}
	return updated, failures, nil
}

// descendantIDs returns the IDs under the kit in pre-order, from the current
// committed state.
func (s *Service) descendantIDs(teamID, kitID string) []string {
	roots := domain.BuildTree(s.store.ListTeamItems(teamID))
	var target *domain.Node
	var find func(nodes []*domain.Node)
	find = func(nodes []*domain.Node) {
		for _, n := range nodes {
			if n.Item.ID == kitID {
				target = n
				return
			}
			find(n.Children)
			if target != nil {
				return
			}
		}
	}
	find(roots)
	if target == nil {
		return nil
	}
	items := domain.Flatten(target.Children)
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}

// SaveEligible reports whether an edit counts as a meaningful review action:
// at least one tracked field must differ from the persisted values, and the
// target status must satisfy its entry requirements. Callers check this
// before a save so no-op writes never show up as review activity.
func SaveEligible(prev Item, patch ItemPatch, stagedChildEdit bool) bool {
	changed := stagedChildEdit
	if patch.Status != nil && *patch.Status != prev.Status {
		changed = true
	}
	if patch.Notes != nil && *patch.Notes != prev.Notes {
		changed = true
	}
	if patch.OHQuantity != nil && *patch.OHQuantity != prev.OHQuantity {
		changed = true
	}
	if patch.DamageReports != nil && !slices.Equal(*patch.DamageReports, prev.DamageReports) {
		changed = true
	}
	if !changed {
		return false
	}

	status := prev.Status
	if patch.Status != nil {
		status = *patch.Status
	}
	switch status {
	case StatusDamaged:
		reports := prev.DamageReports
		if patch.DamageReports != nil {
			reports = *patch.DamageReports
		}
		if len(reports) == 0 {
			return false
		}
	case StatusShortages:
		if prev.IsKit {
			break // kits carry no quantities
		}
		oh := prev.OHQuantity
		if patch.OHQuantity != nil {
			oh = *patch.OHQuantity
		}
		auth := prev.AuthQuantity
		if patch.AuthQuantity != nil {
			auth = *patch.AuthQuantity
		}
		if oh >= auth {
			return false
		}
	}
	return true
}

// CreateTeam persists a team and enrolls the owner as its first member.
func (s *Service) CreateTeam(ctx context.Context, team Team, actor Actor) (Team, error) {
	if err := s.require(actor, PermTeamCreate); err != nil {
		return Team{}, err
	}
	var created Team
	err := s.commit(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateTeam(team)
		if err != nil {
			return err
		}
		if created.OwnerID != "" {
			_, err = tx.PutMembership(Membership{
				TeamID: created.ID,
				UserID: created.OwnerID,
				Role:   RoleOwner,
			})
		}
		return err
	})
	return created, err
}

// GetTeam fetches a team by ID.
func (s *Service) GetTeam(ctx context.Context, id string) (Team, error) {
	_ = ctx
	t, ok := s.store.GetTeam(id)
	if !ok {
		return Team{}, domain.NotFoundError{Entity: EntityTeam, ID: id}
	}
	return t, nil
}

// UpdateTeam mutates team metadata.
func (s *Service) UpdateTeam(ctx context.Context, id string, mutator func(*Team) error, actor Actor) (Team, error) {
	if err := s.require(actor, PermTeamUpdate); err != nil {
		return Team{}, err
	}
	var updated Team
	err := s.commit(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateTeam(id, mutator)
		return err
	})
	return updated, err
}

// DeleteTeam removes a team with its memberships and items.
func (s *Service) DeleteTeam(ctx context.Context, id string, actor Actor) error {
	if err := s.require(actor, PermTeamDelete); err != nil {
		return err
	}
	return s.commit(ctx, func(tx Transaction) error {
		return tx.DeleteTeam(id)
	})
}

// AddMember links a user to a team with the given role.
func (s *Service) AddMember(ctx context.Context, teamID, userID, role string, actor Actor) (Membership, error) {
	if err := s.require(actor, PermMemberManage); err != nil {
		return Membership{}, err
	}
	var m Membership
	err := s.commit(ctx, func(tx Transaction) error {
		var err error
		m, err = tx.PutMembership(Membership{TeamID: teamID, UserID: userID, Role: role})
		return err
	})
	return m, err
}

// RemoveMember unlinks a user from a team.
func (s *Service) RemoveMember(ctx context.Context, teamID, userID string, actor Actor) error {
	if err := s.require(actor, PermMemberManage); err != nil {
		return err
	}
	return s.commit(ctx, func(tx Transaction) error {
		return tx.RemoveMembership(teamID, userID)
	})
}

// ListUserTeams returns every team the user belongs to.
func (s *Service) ListUserTeams(ctx context.Context, userID string) []Team {
	_ = ctx
	return s.store.ListUserTeams(userID)
}

// ListMemberships returns the members of a team.
func (s *Service) ListMemberships(ctx context.Context, teamID string) ([]Membership, error) {
	_ = ctx
	if _, ok := s.store.GetTeam(teamID); !ok {
		return nil, domain.NotFoundError{Entity: EntityTeam, ID: teamID}
	}
	return s.store.ListMemberships(teamID), nil
}

// UpsertUser stores the user record for an authenticated identity subject.
func (s *Service) UpsertUser(ctx context.Context, u User) (User, error) {
	var saved User
	err := s.commit(ctx, func(tx Transaction) error {
		var err error
		saved, err = tx.PutUser(u)
		return err
	})
	return saved, err
}

// GetUserBySub resolves a user by external identity subject.
func (s *Service) GetUserBySub(ctx context.Context, sub string) (User, error) {
	_ = ctx
	u, ok := s.store.GetUserBySub(sub)
	if !ok {
		return User{}, domain.NotFoundError{Entity: EntityUser, ID: sub}
	}
	return u, nil
}

// SeedRoles writes the role configuration into the store. Called once at
// startup; later calls overwrite in place.
func (s *Service) SeedRoles(ctx context.Context, roles []Role) error {
	return s.commit(ctx, func(tx Transaction) error {
		for _, r := range roles {
			if _, err := tx.PutRole(r); err != nil {
				return err
			}
		}
		return nil
	})
}
