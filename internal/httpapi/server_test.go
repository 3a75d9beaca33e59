package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"kitcore/internal/core"
	"kitcore/internal/infra/persistence/memory"
	"kitcore/pkg/domain"
)

const testSecret = "test-secret"

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	store := memory.NewStore(core.NewDefaultRulesEngine())
	svc := core.NewService(store, nil)
	return NewServer(svc, nil, testSecret, nil).Router()
}

func ownerToken(t *testing.T) string {
	t.Helper()
	token, err := GenerateToken(testSecret, domain.Actor{UserID: "u1", UserName: "Avery", Role: "Owner"})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func createTeam(t *testing.T, handler http.Handler, token, name string) domain.Team {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/teams", token, map[string]string{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create team: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var team domain.Team
	decodeInto(t, rec, &team)
	return team
}

func createItem(t *testing.T, handler http.Handler, token, teamID string, body map[string]any) domain.Item {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/teams/"+teamID+"/items", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create item: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var item domain.Item
	decodeInto(t, rec, &item)
	return item
}

func TestAuthRequired(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/teams", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/teams", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", rec.Code)
	}
}

func TestItemLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t)
	token := ownerToken(t)
	team := createTeam(t, handler, token, "Motor Pool")

	item := createItem(t, handler, token, team.ID, map[string]any{
		"name": "Wrench Set", "auth_quantity": 5, "oh_quantity": 5,
	})
	if item.Status != domain.StatusToReview {
		t.Fatalf("expected default status, got %q", item.Status)
	}

	rec := doJSON(t, handler, http.MethodPatch,
		fmt.Sprintf("/api/v1/teams/%s/items/%s", team.ID, item.ID), token,
		map[string]any{"notes": "inspected"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated domain.Item
	decodeInto(t, rec, &updated)
	if updated.Notes != "inspected" {
		t.Fatalf("expected notes persisted, got %q", updated.Notes)
	}

	rec = doJSON(t, handler, http.MethodGet,
		fmt.Sprintf("/api/v1/teams/%s/items/%s", team.ID, item.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete,
		fmt.Sprintf("/api/v1/teams/%s/items/%s", team.ID, item.ID), token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet,
		fmt.Sprintf("/api/v1/teams/%s/items/%s", team.ID, item.ID), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	handler := newTestAPI(t)
	token := ownerToken(t)
	team := createTeam(t, handler, token, "Supply")
	item := createItem(t, handler, token, team.ID, map[string]any{
		"name": "Compass", "auth_quantity": 2, "oh_quantity": 2,
	})

	// 422 with field names for rule violations.
	rec := doJSON(t, handler, http.MethodPatch,
		fmt.Sprintf("/api/v1/teams/%s/items/%s", team.ID, item.ID), token,
		map[string]any{"status": string(domain.StatusDamaged)})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error  string   `json:"error"`
		Fields []string `json:"fields"`
	}
	decodeInto(t, rec, &body)
	if body.Error != "validation_failed" || len(body.Fields) == 0 {
		t.Fatalf("expected validation body with fields, got %+v", body)
	}

	// 409 for immutable fields.
	rec = doJSON(t, handler, http.MethodPatch,
		fmt.Sprintf("/api/v1/teams/%s/items/%s", team.ID, item.ID), token,
		map[string]any{"is_kit": true})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	// 403 for missing permission.
	memberToken, err := GenerateToken(testSecret, domain.Actor{UserID: "u2", Role: "Member"})
	if err != nil {
		t.Fatalf("generate member token: %v", err)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/teams/"+team.ID+"/items", memberToken,
		map[string]any{"name": "Forbidden"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}

	// 404 for unknown team.
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/teams/nope/items", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestApplyStatusEndpointCascades(t *testing.T) {
	handler := newTestAPI(t)
	token := ownerToken(t)
	team := createTeam(t, handler, token, "Armory")

	kit := createItem(t, handler, token, team.ID, map[string]any{"name": "Rifle Kit", "is_kit": true})
	createItem(t, handler, token, team.ID, map[string]any{
		"name": "Sling", "parent": kit.ID, "auth_quantity": 1, "oh_quantity": 1,
	})

	rec := doJSON(t, handler, http.MethodPost,
		fmt.Sprintf("/api/v1/teams/%s/items/%s/status", team.ID, kit.ID), token,
		map[string]any{"status": string(domain.StatusCompleted)})
	if rec.Code != http.StatusOK {
		t.Fatalf("apply status: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Item     domain.Item          `json:"item"`
		Failures []cascadeFailureBody `json:"cascade_failures"`
	}
	decodeInto(t, rec, &body)
	if body.Item.Status != domain.StatusCompleted {
		t.Fatalf("expected completed kit, got %q", body.Item.Status)
	}
	if len(body.Failures) != 0 {
		t.Fatalf("expected clean cascade, got %+v", body.Failures)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/teams/"+team.ID+"/tree", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tree: expected 200, got %d", rec.Code)
	}
	var tree struct {
		Tree []struct {
			Item      domain.Item         `json:"item"`
			Aggregate domain.ReviewStatus `json:"aggregate_status"`
			Children  []json.RawMessage   `json:"children"`
		} `json:"tree"`
	}
	decodeInto(t, rec, &tree)
	if len(tree.Tree) != 1 || len(tree.Tree[0].Children) != 1 {
		t.Fatalf("expected one kit with one child, got %+v", tree.Tree)
	}
	if tree.Tree[0].Aggregate != domain.StatusCompleted {
		t.Fatalf("expected aggregate completed, got %q", tree.Tree[0].Aggregate)
	}
}

func TestDetachParentWithExplicitNull(t *testing.T) {
	handler := newTestAPI(t)
	token := ownerToken(t)
	team := createTeam(t, handler, token, "Detach")

	kit := createItem(t, handler, token, team.ID, map[string]any{"name": "Kit", "is_kit": true})
	child := createItem(t, handler, token, team.ID, map[string]any{"name": "Child", "parent": kit.ID})

	rec := doJSON(t, handler, http.MethodPatch,
		fmt.Sprintf("/api/v1/teams/%s/items/%s", team.ID, child.ID), token,
		map[string]any{"parent": nil})
	if rec.Code != http.StatusOK {
		t.Fatalf("detach: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated domain.Item
	decodeInto(t, rec, &updated)
	if updated.Parent != nil {
		t.Fatalf("expected parent cleared, got %v", *updated.Parent)
	}

	// Omitting the field entirely must leave the parent untouched.
	rec = doJSON(t, handler, http.MethodPatch,
		fmt.Sprintf("/api/v1/teams/%s/items/%s", team.ID, kit.ID), token,
		map[string]any{"notes": "unrelated"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unrelated update: expected 200, got %d", rec.Code)
	}
}

func TestNSNSearchEndpoint(t *testing.T) {
	handler := newTestAPI(t)
	token := ownerToken(t)
	teamA := createTeam(t, handler, token, "Alpha")
	teamB := createTeam(t, handler, token, "Bravo")
	createItem(t, handler, token, teamA.ID, map[string]any{"name": "A", "nsn": "1005-00-111"})
	createItem(t, handler, token, teamB.ID, map[string]any{"name": "B", "nsn": "1005-00-222"})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/nsn?prefix=1005&team="+teamA.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("nsn search: expected 200, got %d", rec.Code)
	}
	var body struct {
		Items []domain.Item `json:"items"`
	}
	decodeInto(t, rec, &body)
	if len(body.Items) != 1 || body.Items[0].NSN != "1005-00-222" {
		t.Fatalf("expected only other-team match, got %+v", body.Items)
	}
}

func TestExportsDisabled(t *testing.T) {
	handler := newTestAPI(t)
	token := ownerToken(t)
	team := createTeam(t, handler, token, "NoExports")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/teams/"+team.ID+"/exports", token,
		map[string]any{"formats": []string{"csv"}})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no worker, got %d", rec.Code)
	}
}

func TestCreateExportRequiresPermission(t *testing.T) {
	handler := newTestAPI(t)
	team := createTeam(t, handler, ownerToken(t), "Gated")

	memberToken, err := GenerateToken(testSecret, domain.Actor{UserID: "u2", Role: "Member"})
	if err != nil {
		t.Fatalf("generate member token: %v", err)
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/teams/"+team.ID+"/exports", memberToken,
		map[string]any{"formats": []string{"csv"}})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member, got %d: %s", rec.Code, rec.Body.String())
	}
}
