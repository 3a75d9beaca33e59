package memory

import (
	"sort"
	"strings"

	"kitcore/pkg/domain"
)

// Snapshot is the serializable view of the full store state. Durable backends
// persist it row-by-row using the key scheme and hydrate it back on open.
type Snapshot struct {
	Items       []domain.Item       `json:"items"`
	Teams       []domain.Team       `json:"teams"`
	Memberships []domain.Membership `json:"memberships"`
	Users       []domain.User       `json:"users"`
	Roles       []domain.Role       `json:"roles"`
}

// ExportState captures the committed state. Items are emitted in creation
// order per team so ImportState reproduces listing order exactly.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap Snapshot
	teamIDs := make([]string, 0, len(s.state.teams))
	for id := range s.state.teams {
		teamIDs = append(teamIDs, id)
	}
	sort.Strings(teamIDs)
	for _, teamID := range teamIDs {
		snap.Teams = append(snap.Teams, s.state.teams[teamID])
		for _, itemID := range s.state.itemOrder[teamID] {
			if it, ok := s.state.items[teamID][itemID]; ok {
				snap.Items = append(snap.Items, cloneItem(it))
			}
		}
		for _, m := range s.state.memberships[teamID] {
			snap.Memberships = append(snap.Memberships, m)
		}
	}
	sort.Slice(snap.Memberships, func(i, j int) bool {
		a, b := snap.Memberships[i], snap.Memberships[j]
		if a.TeamID != b.TeamID {
			return a.TeamID < b.TeamID
		}
		return a.UserID < b.UserID
	})
	for _, u := range s.state.users {
		snap.Users = append(snap.Users, u)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].Sub < snap.Users[j].Sub })
	for _, r := range s.state.roles {
		snap.Roles = append(snap.Roles, cloneRole(r))
	}
	sort.Slice(snap.Roles, func(i, j int) bool { return snap.Roles[i].Name < snap.Roles[j].Name })
	return snap
}

// ImportState replaces the committed state with the snapshot contents and
// rebuilds every secondary index.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := newState()
	for _, t := range snap.Teams {
		st.teams[t.ID] = t
		st.teamByName[domain.NormalizeTeamName(t.Name)] = t.ID
	}
	for _, it := range snap.Items {
		if st.items[it.TeamID] == nil {
			st.items[it.TeamID] = make(map[string]domain.Item)
		}
		st.items[it.TeamID][it.ID] = cloneItem(it)
		st.itemOrder[it.TeamID] = append(st.itemOrder[it.TeamID], it.ID)
	}
	for _, m := range snap.Memberships {
		if st.memberships[m.TeamID] == nil {
			st.memberships[m.TeamID] = make(map[string]domain.Membership)
		}
		st.memberships[m.TeamID][m.UserID] = m
		if st.userTeams[m.UserID] == nil {
			st.userTeams[m.UserID] = make(map[string]struct{})
		}
		st.userTeams[m.UserID][m.TeamID] = struct{}{}
	}
	for _, u := range snap.Users {
		st.users[u.Sub] = u
	}
	for _, r := range snap.Roles {
		st.roles[strings.ToUpper(r.Name)] = cloneRole(r)
	}
	s.state = st
}
