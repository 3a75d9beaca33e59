// Package memory provides the in-memory persistent store for the kitcore
// domain. It models the single logical table: one partition per team holding
// item and membership rows, metadata partitions for teams, users, and roles,
// and maintained secondary indexes for the cross-partition access patterns.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kitcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

type state struct {
	items       map[string]map[string]domain.Item       // teamID -> itemID -> item
	itemOrder   map[string][]string                     // teamID -> itemIDs in creation order
	teams       map[string]domain.Team                  // teamID -> team
	memberships map[string]map[string]domain.Membership // teamID -> userID -> membership
	users       map[string]domain.User                  // sub -> user
	roles       map[string]domain.Role                  // upper(name) -> role

	// Secondary indexes, maintained on every committed mutation. These are
	// the in-memory equivalents of the GSI range queries described by the
	// key scheme.
	userTeams  map[string]map[string]struct{} // userID -> set of teamIDs
	teamByName map[string]string              // normalized name -> teamID
}

func newState() state {
	return state{
		items:       make(map[string]map[string]domain.Item),
		itemOrder:   make(map[string][]string),
		teams:       make(map[string]domain.Team),
		memberships: make(map[string]map[string]domain.Membership),
		users:       make(map[string]domain.User),
		roles:       make(map[string]domain.Role),
		userTeams:   make(map[string]map[string]struct{}),
		teamByName:  make(map[string]string),
	}
}

func (s state) clone() state {
	cloned := newState()
	for teamID, items := range s.items {
		dst := make(map[string]domain.Item, len(items))
		for id, it := range items {
			dst[id] = cloneItem(it)
		}
		cloned.items[teamID] = dst
	}
	for teamID, order := range s.itemOrder {
		cloned.itemOrder[teamID] = append([]string(nil), order...)
	}
	for id, t := range s.teams {
		cloned.teams[id] = t
	}
	for teamID, members := range s.memberships {
		dst := make(map[string]domain.Membership, len(members))
		for id, m := range members {
			dst[id] = m
		}
		cloned.memberships[teamID] = dst
	}
	for sub, u := range s.users {
		cloned.users[sub] = u
	}
	for name, r := range s.roles {
		cloned.roles[name] = cloneRole(r)
	}
	for userID, teams := range s.userTeams {
		dst := make(map[string]struct{}, len(teams))
		for id := range teams {
			dst[id] = struct{}{}
		}
		cloned.userTeams[userID] = dst
	}
	for name, id := range s.teamByName {
		cloned.teamByName[name] = id
	}
	return cloned
}

func cloneItem(it domain.Item) domain.Item {
	cp := it
	cp.DamageReports = append([]string(nil), it.DamageReports...)
	cp.UpdateLog = append([]domain.UpdateLogEntry(nil), it.UpdateLog...)
	if it.Parent != nil {
		parent := *it.Parent
		cp.Parent = &parent
	}
	return cp
}

func cloneRole(r domain.Role) domain.Role {
	cp := r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  state
	engine *domain.RulesEngine
	nowFn  func() time.Time
	newID  func() string
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// SetClock overrides the transaction clock. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.nowFn = now }

// transaction represents a mutation set applied to a cloned state and
// committed only when the function and all registered rules succeed.
type transaction struct {
	store   *Store
	state   state
	changes []domain.Change
	now     time.Time
}

type view struct {
	state *state
}

func newView(st *state) view { return view{state: st} }

// ListTeamItems returns the team's items in creation order.
func (v view) ListTeamItems(teamID string) []domain.Item {
	order := v.state.itemOrder[teamID]
	items := v.state.items[teamID]
	out := make([]domain.Item, 0, len(order))
	for _, id := range order {
		if it, ok := items[id]; ok {
			out = append(out, cloneItem(it))
		}
	}
	return out
}

// FindItem looks up a single item by team and ID.
func (v view) FindItem(teamID, itemID string) (domain.Item, bool) {
	it, ok := v.state.items[teamID][itemID]
	if !ok {
		return domain.Item{}, false
	}
	return cloneItem(it), true
}

// FindTeam looks up a team by ID.
func (v view) FindTeam(id string) (domain.Team, bool) {
	t, ok := v.state.teams[id]
	return t, ok
}

// RunInTransaction clones the state, applies fn, evaluates the rules engine
// over the recorded changes, and commits only when nothing blocked.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		v := newView(&tx.state)
		res, err := s.engine.Evaluate(ctx, v, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newView(&snapshot))
}

func (tx *transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() domain.TransactionView {
	return newView(&tx.state)
}

// FindItem exposes item lookup within the transaction scope.
func (tx *transaction) FindItem(teamID, itemID string) (domain.Item, bool) {
	return newView(&tx.state).FindItem(teamID, itemID)
}

// FindTeam exposes team lookup within the transaction scope.
func (tx *transaction) FindTeam(id string) (domain.Team, bool) {
	return newView(&tx.state).FindTeam(id)
}

// CreateItem validates field invariants, assigns identity and timestamps, and
// writes the first update-log entry.
func (tx *transaction) CreateItem(item domain.Item, actor domain.Actor) (domain.Item, error) {
	if strings.TrimSpace(item.Name) == "" {
		return domain.Item{}, domain.NewValidationError(domain.EntityItem, item.ID, "name", "name must not be empty")
	}
	if item.TeamID == "" {
		return domain.Item{}, domain.NewValidationError(domain.EntityItem, item.ID, "team_id", "team_id is required")
	}
	if _, ok := tx.state.teams[item.TeamID]; !ok {
		return domain.Item{}, domain.NotFoundError{Entity: domain.EntityTeam, ID: item.TeamID}
	}
	if err := validateQuantities(item); err != nil {
		return domain.Item{}, err
	}
	if item.Status == "" {
		item.Status = domain.StatusToReview
	}
	if !domain.ValidStatus(item.Status) {
		return domain.Item{}, domain.NewValidationError(domain.EntityItem, item.ID, "status", fmt.Sprintf("unknown status %q", item.Status))
	}
	if item.Parent != nil {
		parent, ok := tx.state.items[item.TeamID][*item.Parent]
		if !ok {
			return domain.Item{}, domain.NotFoundError{Entity: domain.EntityItem, ID: *item.Parent}
		}
		if !parent.IsKit {
			return domain.Item{}, domain.NewValidationError(domain.EntityItem, item.ID, "parent", "parent must be a kit")
		}
	}

	item.ID = tx.store.newID()
	item.CreatedAt = tx.now
	item.UpdatedAt = tx.now
	item.CreatedBy = actor.UserID
	item.UpdateLog = append(item.UpdateLog, domain.UpdateLogEntry{
		UserID:    actor.UserID,
		UserName:  actor.UserName,
		Action:    "create",
		Timestamp: tx.now,
	})

	if tx.state.items[item.TeamID] == nil {
		tx.state.items[item.TeamID] = make(map[string]domain.Item)
	}
	tx.state.items[item.TeamID][item.ID] = cloneItem(item)
	tx.state.itemOrder[item.TeamID] = append(tx.state.itemOrder[item.TeamID], item.ID)
	tx.recordChange(domain.Change{Entity: domain.EntityItem, Action: domain.ActionCreate, After: cloneItem(item)})
	return item, nil
}

// UpdateItem merges only the provided patch fields, refreshes UpdatedAt, and
// appends the matching update-log entry. Attempts to change team_id, is_kit,
// or created_at fail with ImmutableFieldError.
func (tx *transaction) UpdateItem(teamID, itemID string, patch domain.ItemPatch, actor domain.Actor) (domain.Item, error) {
	return tx.applyItemPatch(teamID, itemID, patch, actor, domain.ActionUpdate)
}

// CascadeStatus applies a status write originating from an ancestor kit.
func (tx *transaction) CascadeStatus(teamID, itemID string, status domain.ReviewStatus, actor domain.Actor) (domain.Item, error) {
	return tx.applyItemPatch(teamID, itemID, domain.ItemPatch{Status: &status}, actor, domain.ActionCascade)
}

func (tx *transaction) applyItemPatch(teamID, itemID string, patch domain.ItemPatch, actor domain.Actor, action domain.Action) (domain.Item, error) {
	current, ok := tx.state.items[teamID][itemID]
	if !ok {
		return domain.Item{}, domain.NotFoundError{Entity: domain.EntityItem, ID: itemID}
	}
	if patch.TeamID != nil && *patch.TeamID != current.TeamID {
		return domain.Item{}, domain.ImmutableFieldError{Entity: domain.EntityItem, ID: itemID, Field: "team_id"}
	}
	if patch.IsKit != nil && *patch.IsKit != current.IsKit {
		return domain.Item{}, domain.ImmutableFieldError{Entity: domain.EntityItem, ID: itemID, Field: "is_kit"}
	}
	if patch.CreatedAt != nil && !patch.CreatedAt.Equal(current.CreatedAt) {
		return domain.Item{}, domain.ImmutableFieldError{Entity: domain.EntityItem, ID: itemID, Field: "created_at"}
	}

	before := cloneItem(current)
	next := cloneItem(current)
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return domain.Item{}, domain.NewValidationError(domain.EntityItem, itemID, "name", "name must not be empty")
		}
		next.Name = *patch.Name
	}
	if patch.ActualName != nil {
		next.ActualName = *patch.ActualName
	}
	if patch.NSN != nil {
		next.NSN = *patch.NSN
	}
	if patch.SerialNumber != nil {
		next.SerialNumber = *patch.SerialNumber
	}
	if patch.Parent != nil {
		if *patch.Parent != nil {
			if **patch.Parent == itemID {
				return domain.Item{}, domain.NewValidationError(domain.EntityItem, itemID, "parent", "item cannot be its own parent")
			}
			parent, ok := tx.state.items[teamID][**patch.Parent]
			if !ok {
				return domain.Item{}, domain.NotFoundError{Entity: domain.EntityItem, ID: **patch.Parent}
			}
			if !parent.IsKit {
				return domain.Item{}, domain.NewValidationError(domain.EntityItem, itemID, "parent", "parent must be a kit")
			}
			// The new parent's ancestor chain must not lead back to the item.
			seen := map[string]bool{}
			for anc := parent; anc.Parent != nil && !seen[anc.ID]; {
				seen[anc.ID] = true
				if *anc.Parent == itemID {
					return domain.Item{}, domain.NewValidationError(domain.EntityItem, itemID, "parent", "parent must not be a descendant of the item")
				}
				up, ok := tx.state.items[teamID][*anc.Parent]
				if !ok {
					break
				}
				anc = up
			}
		}
		next.Parent = *patch.Parent
	}
	if patch.Status != nil {
		if !domain.ValidStatus(*patch.Status) {
			return domain.Item{}, domain.NewValidationError(domain.EntityItem, itemID, "status", fmt.Sprintf("unknown status %q", *patch.Status))
		}
		next.Status = *patch.Status
	}
	if patch.AuthQuantity != nil {
		next.AuthQuantity = *patch.AuthQuantity
	}
	if patch.OHQuantity != nil {
		next.OHQuantity = *patch.OHQuantity
	}
	if patch.DamageReports != nil {
		next.DamageReports = append([]string(nil), (*patch.DamageReports)...)
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Notes != nil {
		next.Notes = *patch.Notes
	}
	if patch.ImageKey != nil {
		next.ImageKey = *patch.ImageKey
	}
	if err := validateQuantities(next); err != nil {
		return domain.Item{}, err
	}

	next.UpdatedAt = tx.now
	logAction := "update"
	if next.Status != before.Status {
		logAction = "review - " + strings.ToLower(string(next.Status))
	}
	next.UpdateLog = append(next.UpdateLog, domain.UpdateLogEntry{
		UserID:    actor.UserID,
		UserName:  actor.UserName,
		Action:    logAction,
		Timestamp: tx.now,
	})

	tx.state.items[teamID][itemID] = cloneItem(next)
	tx.recordChange(domain.Change{Entity: domain.EntityItem, Action: action, Before: before, After: cloneItem(next)})
	return next, nil
}

func validateQuantities(it domain.Item) error {
	if it.IsKit {
		return nil
	}
	if it.AuthQuantity < 0 {
		return domain.NewValidationError(domain.EntityItem, it.ID, "auth_quantity", "auth_quantity must not be negative")
	}
	if it.OHQuantity < 0 {
		return domain.NewValidationError(domain.EntityItem, it.ID, "oh_quantity", "oh_quantity must not be negative")
	}
	if it.OHQuantity > it.AuthQuantity {
		return domain.NewValidationError(domain.EntityItem, it.ID, "oh_quantity", "oh_quantity must not exceed auth_quantity")
	}
	return nil
}

// DeleteItem performs a hard delete. Children of a deleted kit stay in place
// with their parent reference cleared, so they surface as roots afterwards.
func (tx *transaction) DeleteItem(teamID, itemID string) error {
	it, ok := tx.state.items[teamID][itemID]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityItem, ID: itemID}
	}
	delete(tx.state.items[teamID], itemID)
	for id, child := range tx.state.items[teamID] {
		if child.Parent != nil && *child.Parent == itemID {
			child.Parent = nil
			tx.state.items[teamID][id] = child
		}
	}
	order := tx.state.itemOrder[teamID]
	for i, id := range order {
		if id == itemID {
			tx.state.itemOrder[teamID] = append(order[:i:i], order[i+1:]...)
			break
		}
	}
	tx.recordChange(domain.Change{Entity: domain.EntityItem, Action: domain.ActionDelete, Before: cloneItem(it)})
	return nil
}

// CreateTeam persists a team after checking the normalized-name uniqueness index.
func (tx *transaction) CreateTeam(team domain.Team) (domain.Team, error) {
	if strings.TrimSpace(team.Name) == "" {
		return domain.Team{}, domain.NewValidationError(domain.EntityTeam, team.ID, "name", "name must not be empty")
	}
	normalized := domain.NormalizeTeamName(team.Name)
	if _, ok := tx.state.teamByName[normalized]; ok {
		return domain.Team{}, domain.NewValidationError(domain.EntityTeam, team.ID, "name", fmt.Sprintf("team name %q already in use", team.Name))
	}
	team.ID = tx.store.newID()
	team.CreatedAt = tx.now
	team.UpdatedAt = tx.now
	tx.state.teams[team.ID] = team
	tx.state.teamByName[normalized] = team.ID
	tx.recordChange(domain.Change{Entity: domain.EntityTeam, Action: domain.ActionCreate, After: team})
	return team, nil
}

// UpdateTeam mutates a team via the provided mutator, keeping the name index consistent.
func (tx *transaction) UpdateTeam(id string, mutator func(*domain.Team) error) (domain.Team, error) {
	current, ok := tx.state.teams[id]
	if !ok {
		return domain.Team{}, domain.NotFoundError{Entity: domain.EntityTeam, ID: id}
	}
	before := current
	next := current
	if err := mutator(&next); err != nil {
		return domain.Team{}, err
	}
	next.ID = before.ID
	next.CreatedAt = before.CreatedAt
	if next.Name != before.Name {
		normalized := domain.NormalizeTeamName(next.Name)
		if owner, ok := tx.state.teamByName[normalized]; ok && owner != id {
			return domain.Team{}, domain.NewValidationError(domain.EntityTeam, id, "name", fmt.Sprintf("team name %q already in use", next.Name))
		}
		delete(tx.state.teamByName, domain.NormalizeTeamName(before.Name))
		tx.state.teamByName[normalized] = id
	}
	next.UpdatedAt = tx.now
	tx.state.teams[id] = next
	tx.recordChange(domain.Change{Entity: domain.EntityTeam, Action: domain.ActionUpdate, Before: before, After: next})
	return next, nil
}

// DeleteTeam removes the team row, its memberships, and its items.
func (tx *transaction) DeleteTeam(id string) error {
	team, ok := tx.state.teams[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityTeam, ID: id}
	}
	delete(tx.state.teams, id)
	delete(tx.state.teamByName, domain.NormalizeTeamName(team.Name))
	delete(tx.state.items, id)
	delete(tx.state.itemOrder, id)
	for userID := range tx.state.memberships[id] {
		if teams := tx.state.userTeams[userID]; teams != nil {
			delete(teams, id)
		}
	}
	delete(tx.state.memberships, id)
	tx.recordChange(domain.Change{Entity: domain.EntityTeam, Action: domain.ActionDelete, Before: team})
	return nil
}

// PutMembership upserts a user-to-team link and maintains the inverted index.
func (tx *transaction) PutMembership(m domain.Membership) (domain.Membership, error) {
	if _, ok := tx.state.teams[m.TeamID]; !ok {
		return domain.Membership{}, domain.NotFoundError{Entity: domain.EntityTeam, ID: m.TeamID}
	}
	if m.UserID == "" {
		return domain.Membership{}, domain.NewValidationError(domain.EntityMembership, "", "user_id", "user_id is required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = tx.now
	}
	if tx.state.memberships[m.TeamID] == nil {
		tx.state.memberships[m.TeamID] = make(map[string]domain.Membership)
	}
	tx.state.memberships[m.TeamID][m.UserID] = m
	if tx.state.userTeams[m.UserID] == nil {
		tx.state.userTeams[m.UserID] = make(map[string]struct{})
	}
	tx.state.userTeams[m.UserID][m.TeamID] = struct{}{}
	tx.recordChange(domain.Change{Entity: domain.EntityMembership, Action: domain.ActionCreate, After: m})
	return m, nil
}

// RemoveMembership deletes a user-to-team link.
func (tx *transaction) RemoveMembership(teamID, userID string) error {
	m, ok := tx.state.memberships[teamID][userID]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityMembership, ID: userID}
	}
	delete(tx.state.memberships[teamID], userID)
	if teams := tx.state.userTeams[userID]; teams != nil {
		delete(teams, teamID)
	}
	tx.recordChange(domain.Change{Entity: domain.EntityMembership, Action: domain.ActionDelete, Before: m})
	return nil
}

// PutUser upserts a user record keyed by identity subject.
func (tx *transaction) PutUser(u domain.User) (domain.User, error) {
	if u.Sub == "" {
		return domain.User{}, domain.NewValidationError(domain.EntityUser, "", "sub", "sub is required")
	}
	tx.state.users[u.Sub] = u
	tx.recordChange(domain.Change{Entity: domain.EntityUser, Action: domain.ActionCreate, After: u})
	return u, nil
}

// PutRole upserts a role definition keyed by uppercased name.
func (tx *transaction) PutRole(r domain.Role) (domain.Role, error) {
	if strings.TrimSpace(r.Name) == "" {
		return domain.Role{}, domain.NewValidationError(domain.EntityRole, "", "name", "name is required")
	}
	tx.state.roles[strings.ToUpper(r.Name)] = cloneRole(r)
	tx.recordChange(domain.Change{Entity: domain.EntityRole, Action: domain.ActionCreate, After: cloneRole(r)})
	return r, nil
}

// GetItem returns a single committed item.
func (s *Store) GetItem(teamID, itemID string) (domain.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newView(&s.state).FindItem(teamID, itemID)
}

// ListTeamItems returns the committed items of a team in creation order.
func (s *Store) ListTeamItems(teamID string) []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newView(&s.state).ListTeamItems(teamID)
}

// FindByNSN scans the NSN index for items whose NSN starts with prefix,
// excluding the caller's own team. A blank prefix matches nothing.
func (s *Store) FindByNSN(prefix, excludeTeamID string) []domain.Item {
	out := []domain.Item{}
	if prefix == "" {
		return out
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for teamID, order := range s.state.itemOrder {
		if teamID == excludeTeamID {
			continue
		}
		for _, id := range order {
			it, ok := s.state.items[teamID][id]
			if !ok || it.NSN == "" {
				continue
			}
			if strings.HasPrefix(it.NSN, prefix) {
				out = append(out, cloneItem(it))
			}
		}
	}
	return out
}

// GetTeam returns a committed team by ID.
func (s *Store) GetTeam(id string) (domain.Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.teams[id]
	return t, ok
}

// GetTeamByName resolves a team through the normalized-name index.
func (s *Store) GetTeamByName(name string) (domain.Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.state.teamByName[domain.NormalizeTeamName(name)]
	if !ok {
		return domain.Team{}, false
	}
	t, ok := s.state.teams[id]
	return t, ok
}

// ListTeams returns all committed teams.
func (s *Store) ListTeams() []domain.Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Team, 0, len(s.state.teams))
	for _, t := range s.state.teams {
		out = append(out, t)
	}
	return out
}

// ListUserTeams returns every team the user belongs to (the GSI1 access pattern).
func (s *Store) ListUserTeams(userID string) []domain.Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Team{}
	for teamID := range s.state.userTeams[userID] {
		if t, ok := s.state.teams[teamID]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ListMemberships returns the membership rows of one team partition.
func (s *Store) ListMemberships(teamID string) []domain.Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Membership, 0, len(s.state.memberships[teamID]))
	for _, m := range s.state.memberships[teamID] {
		out = append(out, m)
	}
	return out
}

// GetUserBySub resolves a user through the identity-subject index.
func (s *Store) GetUserBySub(sub string) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.users[sub]
	return u, ok
}

// GetRole returns a role by name, case-insensitively.
func (s *Store) GetRole(name string) (domain.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.roles[strings.ToUpper(name)]
	if !ok {
		return domain.Role{}, false
	}
	return cloneRole(r), true
}

// ListRoles returns every seeded role.
func (s *Store) ListRoles() []domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Role, 0, len(s.state.roles))
	for _, r := range s.state.roles {
		out = append(out, cloneRole(r))
	}
	return out
}
