package hosted

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
)

func TestCreateWorkspaceAddsOwnerMembership(t *testing.T) {
	var paths []string
	var member map[string]any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/rest/v1/workspaces":
			var payload map[string]any
			if err := json.Unmarshal(body, &payload); err != nil {
				t.Errorf("decode workspace body: %v", err)
			}
			if !strings.HasPrefix(payload["slug"].(string), "acme-") || payload["owner_id"] != "u1" {
				t.Errorf("unexpected workspace body %v", payload)
			}
			_, _ = io.WriteString(w, `[{"id":"w1","name":"Acme","slug":"acme-x","owner_id":"u1","created_at":"2024-03-01T12:00:00Z"}]`)
		case "/rest/v1/members":
			if got := r.URL.Query().Get("on_conflict"); got != "workspace_id,user_id" {
				t.Errorf("unexpected on_conflict %q", got)
			}
			if err := json.Unmarshal(body, &member); err != nil {
				t.Errorf("decode member body: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	created, err := store.CreateWorkspace(context.Background(), types.Workspace{Name: "Acme", OwnerID: "u1"})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if created.ID != "w1" || created.Role != types.RoleOwner {
		t.Fatalf("unexpected workspace %+v", created)
	}
	if len(paths) != 2 || member["workspace_id"] != "w1" || member["role"] != "owner" {
		t.Fatalf("expected owner membership after insert, got %v %v", paths, member)
	}
}

func TestCreateWorkspaceMapsUniqueViolation(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"code":"23505","message":"duplicate key value violates unique constraint"}`)
	})
	_, err := store.CreateWorkspace(context.Background(), types.Workspace{Name: "Acme", OwnerID: "u1"})
	if !errors.Is(err, core.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestListWorkspacesFlattensMemberships(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/members" || r.URL.Query().Get("user_id") != "eq.u1" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		if !strings.Contains(r.URL.Query().Get("select"), "workspace:workspaces(") {
			t.Errorf("select missing workspace embed: %s", r.URL.Query().Get("select"))
		}
		_, _ = io.WriteString(w, `[
			{"role":"owner","workspace":{"id":"w1","name":"Acme","slug":"acme","owner_id":"u1","created_at":"2024-03-01T12:00:00Z"}},
			{"role":"member","workspace":null},
			{"role":"guest","workspace":{"id":"w2","name":"Partners","slug":"partners","owner_id":"u9","created_at":"2024-03-02T12:00:00Z"}}
		]`)
	})
	workspaces, err := store.ListWorkspaces(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list workspaces: %v", err)
	}
	if len(workspaces) != 2 || workspaces[0].Role != types.RoleOwner || workspaces[1].Role != types.RoleGuest {
		t.Fatalf("unexpected workspaces %+v", workspaces)
	}
}

func TestRedeemInvitationCallsFunction(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/rpc/join_workspace_by_code":
			var payload map[string]string
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if payload["invite_code"] == "USED" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"code":"P0001","message":"Invalid or expired invitation code"}`)
				return
			}
			if payload["invite_code"] != "ABC123DEF0" {
				t.Errorf("expected normalized code, got %q", payload["invite_code"])
			}
			_, _ = io.WriteString(w, `"w1"`)
		case "/rest/v1/workspaces":
			if r.URL.Query().Get("id") != "eq.w1" {
				t.Errorf("unexpected workspace query %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `[{"id":"w1","name":"Acme","slug":"acme","owner_id":"u1","created_at":"2024-03-01T12:00:00Z"}]`)
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	})

	workspace, err := store.RedeemInvitation(context.Background(), " abc123def0 ", "u2")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if workspace.ID != "w1" || workspace.Name != "Acme" {
		t.Fatalf("unexpected workspace %+v", workspace)
	}
	if _, err := store.RedeemInvitation(context.Background(), "used", "u2"); !errors.Is(err, core.ErrInvitationInvalid) {
		t.Fatalf("expected invalid invitation, got %v", err)
	}
}

func TestInvitationsCreateListDelete(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if payload["max_uses"] != float64(5) || payload["expires_at"] == nil {
				t.Errorf("unexpected invitation body %v", payload)
			}
			if code, _ := payload["code"].(string); len(code) != core.InviteCodeLength {
				t.Errorf("expected generated code, got %v", payload["code"])
			}
			_, _ = io.WriteString(w, `[{"id":"i1","workspace_id":"w1","code":"ABCDEFGHIJ","created_by":"u1","expires_at":"2024-03-08T12:00:00Z","max_uses":5,"used_count":0,"created_at":"2024-03-01T12:00:00Z"}]`)
		case http.MethodGet:
			if r.URL.Query().Get("order") != "created_at.desc,id.desc" {
				t.Errorf("unexpected order %q", r.URL.Query().Get("order"))
			}
			_, _ = io.WriteString(w, `[]`)
		case http.MethodDelete:
			if r.URL.Query().Get("id") == "eq.i1" {
				_, _ = io.WriteString(w, `[{"id":"i1"}]`)
				return
			}
			_, _ = io.WriteString(w, `[]`)
		}
	})
	ctx := context.Background()

	five := 5
	expires := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	created, err := store.CreateInvitation(ctx, types.Invitation{WorkspaceID: "w1", CreatedBy: "u1", MaxUses: &five, ExpiresAt: &expires})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if created.ID != "i1" || created.MaxUses == nil || *created.MaxUses != 5 {
		t.Fatalf("unexpected invitation %+v", created)
	}
	listed, err := store.ListInvitations(ctx, "w1")
	if err != nil || listed == nil || len(listed) != 0 {
		t.Fatalf("expected empty non-nil list, got %v, %v", listed, err)
	}
	if err := store.DeleteInvitation(ctx, "i1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteInvitation(ctx, "i2"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindAndUpdateProfile(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		switch r.Method {
		case http.MethodGet:
			if query.Get("username") != `ilike.al\_ice` {
				t.Errorf("unexpected username filter %q", query.Get("username"))
			}
			_, _ = io.WriteString(w, `[{"id":"u1","username":"Al_ice"}]`)
		case http.MethodPatch:
			if query.Get("id") != "eq.u1" {
				t.Errorf("unexpected patch filter %q", query.Get("id"))
			}
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if _, ok := payload["username"]; ok {
				t.Errorf("expected unchanged fields omitted, got %v", payload)
			}
			if payload["full_name"] != nil || payload["status"] != "dnd" {
				t.Errorf("unexpected patch body %v", payload)
			}
			_, _ = io.WriteString(w, `[{"id":"u1","username":"Al_ice","status":"dnd"}]`)
		}
	})
	ctx := context.Background()

	profile, err := store.FindProfile(ctx, "@al_ice")
	if err != nil || profile.ID != "u1" {
		t.Fatalf("find profile: %+v, %v", profile, err)
	}

	empty, status := "", types.StatusDND
	updated, err := store.UpdateProfile(ctx, "u1", types.ProfileUpdate{FullName: &empty, Status: &status})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Status == nil || *updated.Status != "dnd" {
		t.Fatalf("unexpected profile %+v", updated)
	}
	bad := "busy"
	if _, err := store.UpdateProfile(ctx, "u1", types.ProfileUpdate{Status: &bad}); err == nil {
		t.Fatal("expected invalid status to be rejected before the request")
	}
}
