package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kitcore/internal/core"
	"kitcore/internal/export"
	"kitcore/pkg/domain"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// --- Teams ---

type teamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	actor := ActorFromContext(r.Context())
	team, err := s.svc.CreateTeam(r.Context(), domain.Team{Name: req.Name, Description: req.Description}, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (s *Server) handleListUserTeams(w http.ResponseWriter, r *http.Request) {
	actor := ActorFromContext(r.Context())
	teams := s.svc.ListUserTeams(r.Context(), actor.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.svc.GetTeam(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	actor := ActorFromContext(r.Context())
	team, err := s.svc.UpdateTeam(r.Context(), chi.URLParam(r, "teamID"), func(t *domain.Team) error {
		if req.Name != nil {
			t.Name = *req.Name
		}
		if req.Description != nil {
			t.Description = *req.Description
		}
		return nil
	}, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	actor := ActorFromContext(r.Context())
	if err := s.svc.DeleteTeam(r.Context(), chi.URLParam(r, "teamID"), actor); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Members ---

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.svc.ListMemberships(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	actor := ActorFromContext(r.Context())
	member, err := s.svc.AddMember(r.Context(), chi.URLParam(r, "teamID"), req.UserID, req.Role, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	actor := ActorFromContext(r.Context())
	if err := s.svc.RemoveMember(r.Context(), chi.URLParam(r, "teamID"), chi.URLParam(r, "userID"), actor); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Items ---

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var item domain.Item
	if !decodeBody(w, r, &item) {
		return
	}
	item.TeamID = chi.URLParam(r, "teamID")
	actor := ActorFromContext(r.Context())
	created, err := s.svc.CreateItem(r.Context(), item, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.ListTeamItems(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// treeNode mirrors domain.Node with the derived aggregate status for kits.
type treeNode struct {
	Item      domain.Item         `json:"item"`
	Aggregate domain.ReviewStatus `json:"aggregate_status,omitempty"`
	Children  []*treeNode         `json:"children,omitempty"`
}

func toTreeNode(n *domain.Node) *treeNode {
	out := &treeNode{Item: n.Item}
	if n.Item.IsKit {
		out.Aggregate = domain.AggregateStatus(n)
	}
	for _, child := range n.Children {
		out.Children = append(out.Children, toTreeNode(child))
	}
	return out
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	roots, err := s.svc.BuildTeamTree(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	nodes := make([]*treeNode, 0, len(roots))
	for _, root := range roots {
		nodes = append(nodes, toTreeNode(root))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tree": nodes})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.GetItem(r.Context(), chi.URLParam(r, "teamID"), chi.URLParam(r, "itemID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// decodeItemPatch decodes a partial item update. Parent is special: the
// request must be able to distinguish "not provided" from an explicit
// null (detach from kit), so presence is probed before unmarshalling.
func decodeItemPatch(w http.ResponseWriter, r *http.Request) (domain.ItemPatch, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return domain.ItemPatch{}, false
	}
	merged, err := json.Marshal(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return domain.ItemPatch{}, false
	}
	var patch domain.ItemPatch
	if err := json.Unmarshal(merged, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return domain.ItemPatch{}, false
	}
	if rawParent, ok := raw["parent"]; ok {
		var parent *string
		if err := json.Unmarshal(rawParent, &parent); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid parent field")
			return domain.ItemPatch{}, false
		}
		patch.Parent = &parent
	}
	return patch, true
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	patch, ok := decodeItemPatch(w, r)
	if !ok {
		return
	}
	actor := ActorFromContext(r.Context())
	item, err := s.svc.UpdateItem(r.Context(), chi.URLParam(r, "teamID"), chi.URLParam(r, "itemID"), patch, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	actor := ActorFromContext(r.Context())
	if err := s.svc.DeleteItem(r.Context(), chi.URLParam(r, "teamID"), chi.URLParam(r, "itemID"), actor); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Review status ---

type applyStatusRequest struct {
	Status        domain.ReviewStatus `json:"status"`
	DamageReports []string            `json:"damage_reports"`
}

type cascadeFailureBody struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

func (s *Server) handleApplyStatus(w http.ResponseWriter, r *http.Request) {
	var req applyStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	actor := ActorFromContext(r.Context())
	item, failures, err := s.svc.ApplyStatus(
		r.Context(), chi.URLParam(r, "teamID"), chi.URLParam(r, "itemID"),
		req.Status, req.DamageReports, actor,
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	body := map[string]any{"item": item}
	if len(failures) > 0 {
		out := make([]cascadeFailureBody, 0, len(failures))
		for _, f := range failures {
			out = append(out, cascadeFailureBody{ItemID: f.ItemID, Error: f.Err.Error()})
		}
		body["cascade_failures"] = out
	}
	writeJSON(w, http.StatusOK, body)
}

// --- NSN search ---

func (s *Server) handleNSNSearch(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	team := r.URL.Query().Get("team")
	items := s.svc.FindByNSNAcrossTeams(r.Context(), prefix, team)
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// --- Report exports ---

func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	actor := ActorFromContext(r.Context())
	if !s.svc.HasPermission(actor.Role, core.PermReportExport) {
		writeServiceError(w, domain.PermissionDeniedError{Role: actor.Role, Permission: core.PermReportExport})
		return
	}
	if s.exports == nil {
		writeError(w, http.StatusServiceUnavailable, "exports_disabled", "report exports are not configured")
		return
	}
	var req struct {
		Formats []export.Format `json:"formats"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	record, err := s.exports.Enqueue(r.Context(), export.Input{
		TeamID:      chi.URLParam(r, "teamID"),
		Formats:     req.Formats,
		RequestedBy: actor.UserID,
	})
	if err != nil {
		var notFound domain.NotFoundError
		if errors.As(err, &notFound) {
			writeServiceError(w, notFound)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if s.exports == nil {
		writeError(w, http.StatusServiceUnavailable, "exports_disabled", "report exports are not configured")
		return
	}
	record, ok := s.exports.Get(chi.URLParam(r, "exportID"))
	if !ok {
		writeServiceError(w, domain.NotFoundError{Entity: "export", ID: chi.URLParam(r, "exportID")})
		return
	}
	writeJSON(w, http.StatusOK, record)
}
