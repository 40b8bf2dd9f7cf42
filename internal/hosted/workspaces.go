package hosted

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
	"github.com/google/uuid"
)

const (
	workspaceSelect  = "id,name,slug,owner_id,created_at"
	invitationSelect = "id,workspace_id,code,created_by,expires_at,max_uses,used_count,created_at"

	redeemFunction = "rpc/join_workspace_by_code"
)

// FindProfile resolves a uuid as a user id and anything else as a
// case-insensitive username.
func (s *Store) FindProfile(ctx context.Context, ref string) (*types.Profile, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "@")
	if ref == "" {
		return nil, fmt.Errorf("profile: %w", core.ErrNotFound)
	}
	if _, err := uuid.Parse(ref); err == nil {
		return s.GetProfile(ctx, ref)
	}
	query := url.Values{}
	query.Set("select", profileSelect)
	query.Set("username", "ilike."+escapeLike(ref))
	query.Set("limit", "1")
	var rows []types.Profile
	if err := s.client.doJSON(ctx, http.MethodGet, "profiles", requestOptions{query: query}, &rows); err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("profile %s: %w", ref, core.ErrNotFound)
	}
	return &rows[0], nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, update types.ProfileUpdate) (*types.Profile, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	if update.Empty() {
		return s.GetProfile(ctx, userID)
	}
	body := map[string]any{}
	if update.Username != nil {
		body["username"] = strings.TrimSpace(*update.Username)
	}
	if update.FullName != nil {
		body["full_name"] = nullIfEmpty(*update.FullName)
	}
	if update.Status != nil {
		body["status"] = nullIfEmpty(*update.Status)
	}
	opts := requestOptions{
		query:  url.Values{"id": {"eq." + userID}, "select": {profileSelect}},
		prefer: []string{"return=representation"},
		body:   body,
	}
	var rows []types.Profile
	if err := s.client.doJSON(ctx, http.MethodPatch, "profiles", opts, &rows); err != nil {
		return nil, fmt.Errorf("update profile: %w", mapConstraint(err))
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("profile %s: %w", userID, core.ErrNotFound)
	}
	return &rows[0], nil
}

func nullIfEmpty(value string) *string {
	if value = strings.TrimSpace(value); value == "" {
		return nil
	}
	return &value
}

func (s *Store) CreateWorkspace(ctx context.Context, workspace types.Workspace) (types.Workspace, error) {
	workspace.Name = strings.TrimSpace(workspace.Name)
	if workspace.Name == "" {
		return types.Workspace{}, fmt.Errorf("workspace name is required")
	}
	if workspace.ID == "" {
		workspace.ID = core.NewID()
	}
	if workspace.CreatedAt.IsZero() {
		workspace.CreatedAt = s.now()
	}
	if workspace.Slug == "" {
		workspace.Slug = core.WorkspaceSlug(workspace.Name, workspace.CreatedAt)
	}
	opts := requestOptions{
		query:  url.Values{"select": {workspaceSelect}},
		prefer: []string{"return=representation"},
		body: map[string]any{
			"id":         workspace.ID,
			"name":       workspace.Name,
			"slug":       workspace.Slug,
			"owner_id":   workspace.OwnerID,
			"created_at": stamp(workspace.CreatedAt),
		},
	}
	var rows []types.Workspace
	if err := s.client.doJSON(ctx, http.MethodPost, "workspaces", opts, &rows); err != nil {
		return types.Workspace{}, fmt.Errorf("create workspace: %w", mapConstraint(err))
	}
	if len(rows) > 0 {
		workspace = rows[0]
	}
	if err := s.AddWorkspaceMember(ctx, workspace.ID, workspace.OwnerID, types.RoleOwner); err != nil {
		return types.Workspace{}, err
	}
	workspace.Role = types.RoleOwner
	return workspace, nil
}

func (s *Store) ListWorkspaces(ctx context.Context, userID string) ([]types.Workspace, error) {
	query := url.Values{}
	query.Set("select", "role,workspace:workspaces("+workspaceSelect+")")
	query.Set("user_id", "eq."+userID)
	query.Set("order", "joined_at.asc")
	var rows []struct {
		Role      types.WorkspaceRole `json:"role"`
		Workspace *types.Workspace    `json:"workspace"`
	}
	if err := s.client.doJSON(ctx, http.MethodGet, "members", requestOptions{query: query}, &rows); err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	workspaces := make([]types.Workspace, 0, len(rows))
	for _, row := range rows {
		if row.Workspace == nil {
			continue
		}
		workspace := *row.Workspace
		workspace.Role = row.Role
		workspaces = append(workspaces, workspace)
	}
	return workspaces, nil
}

func (s *Store) AddWorkspaceMember(ctx context.Context, workspaceID, userID string, role types.WorkspaceRole) error {
	if role == "" {
		role = types.RoleMember
	}
	opts := requestOptions{
		query:  url.Values{"on_conflict": {"workspace_id,user_id"}},
		prefer: []string{"resolution=ignore-duplicates", "return=minimal"},
		body: map[string]any{
			"workspace_id": workspaceID,
			"user_id":      userID,
			"role":         role,
			"joined_at":    stamp(s.now()),
		},
	}
	if err := s.client.doJSON(ctx, http.MethodPost, "members", opts, nil); err != nil {
		return fmt.Errorf("add workspace member: %w", mapConstraint(err))
	}
	return nil
}

func (s *Store) CreateInvitation(ctx context.Context, invitation types.Invitation) (types.Invitation, error) {
	if invitation.ID == "" {
		invitation.ID = core.NewID()
	}
	if invitation.Code == "" {
		invitation.Code = core.NewInviteCode()
	}
	if invitation.CreatedAt.IsZero() {
		invitation.CreatedAt = s.now()
	}
	body := map[string]any{
		"id":           invitation.ID,
		"workspace_id": invitation.WorkspaceID,
		"code":         invitation.Code,
		"created_by":   invitation.CreatedBy,
		"expires_at":   nil,
		"max_uses":     invitation.MaxUses,
		"created_at":   stamp(invitation.CreatedAt),
	}
	if invitation.ExpiresAt != nil {
		body["expires_at"] = stamp(*invitation.ExpiresAt)
	}
	opts := requestOptions{
		query:  url.Values{"select": {invitationSelect}},
		prefer: []string{"return=representation"},
		body:   body,
	}
	var rows []types.Invitation
	if err := s.client.doJSON(ctx, http.MethodPost, "invitations", opts, &rows); err != nil {
		return types.Invitation{}, fmt.Errorf("create invitation: %w", mapConstraint(err))
	}
	if len(rows) == 0 {
		return invitation, nil
	}
	return rows[0], nil
}

func (s *Store) ListInvitations(ctx context.Context, workspaceID string) ([]types.Invitation, error) {
	query := url.Values{}
	query.Set("select", invitationSelect)
	query.Set("workspace_id", "eq."+workspaceID)
	query.Set("order", "created_at.desc,id.desc")
	var rows []types.Invitation
	if err := s.client.doJSON(ctx, http.MethodGet, "invitations", requestOptions{query: query}, &rows); err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	if rows == nil {
		rows = []types.Invitation{}
	}
	return rows, nil
}

func (s *Store) DeleteInvitation(ctx context.Context, id string) error {
	opts := requestOptions{
		query:  url.Values{"id": {"eq." + id}, "select": {"id"}},
		prefer: []string{"return=representation"},
	}
	var rows []struct {
		ID string `json:"id"`
	}
	if err := s.client.doJSON(ctx, http.MethodDelete, "invitations", opts, &rows); err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("invitation %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// RedeemInvitation calls the server-side redeem function, which validates the
// code and adds the caller in one transaction. The caller is the token's user,
// so userID only labels errors.
func (s *Store) RedeemInvitation(ctx context.Context, code, userID string) (types.Workspace, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	opts := requestOptions{body: map[string]any{"invite_code": code}}
	var workspaceID string
	if err := s.client.doJSON(ctx, http.MethodPost, redeemFunction, opts, &workspaceID); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == raisedException {
			return types.Workspace{}, fmt.Errorf("code %s: %w: %s", code, core.ErrInvitationInvalid, apiErr.Message)
		}
		return types.Workspace{}, fmt.Errorf("redeem invitation for %s: %w", userID, err)
	}

	query := url.Values{"select": {workspaceSelect}, "id": {"eq." + workspaceID}, "limit": {"1"}}
	var rows []types.Workspace
	if err := s.client.doJSON(ctx, http.MethodGet, "workspaces", requestOptions{query: query}, &rows); err != nil {
		return types.Workspace{}, fmt.Errorf("redeem invitation: %w", err)
	}
	if len(rows) == 0 {
		return types.Workspace{}, fmt.Errorf("workspace %s: %w", workspaceID, core.ErrNotFound)
	}
	return rows[0], nil
}
