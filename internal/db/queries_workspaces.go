package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/threadline/internal/core"
	"github.com/adamavenir/threadline/internal/types"
)

const workspaceColumns = `w.id, w.name, w.slug, w.owner_id, w.created_at`

func scanWorkspace(row rowScanner, extra ...any) (types.Workspace, error) {
	var (
		workspace types.Workspace
		createdAt int64
	)
	dest := append([]any{&workspace.ID, &workspace.Name, &workspace.Slug, &workspace.OwnerID, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return types.Workspace{}, err
	}
	workspace.CreatedAt = fromMillis(createdAt)
	return workspace, nil
}

// CreateWorkspace inserts a workspace, filling id, slug and created_at when
// unset, and adds the owner as a member.
func (s *Store) CreateWorkspace(ctx context.Context, workspace types.Workspace) (types.Workspace, error) {
	workspace.Name = strings.TrimSpace(workspace.Name)
	if workspace.Name == "" {
		return types.Workspace{}, fmt.Errorf("workspace name is required")
	}
	if workspace.OwnerID == "" {
		return types.Workspace{}, fmt.Errorf("workspace owner is required")
	}
	if workspace.ID == "" {
		workspace.ID = core.NewID()
	}
	if workspace.CreatedAt.IsZero() {
		workspace.CreatedAt = s.timestamp()
	}
	if workspace.Slug == "" {
		workspace.Slug = core.WorkspaceSlug(workspace.Name, workspace.CreatedAt)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM workspaces WHERE id = ? OR slug = ?`),
		workspace.ID, workspace.Slug).Scan(&exists)
	if err != nil {
		return types.Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	if exists > 0 {
		return types.Workspace{}, fmt.Errorf("workspace %s: %w", workspace.ID, core.ErrConflict)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO workspaces (id, name, slug, owner_id, created_at)
VALUES (?, ?, ?, ?, ?)`),
		workspace.ID, workspace.Name, workspace.Slug, workspace.OwnerID, toMillis(workspace.CreatedAt),
	); err != nil {
		return types.Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	if err := s.addWorkspaceMember(ctx, tx, workspace.ID, workspace.OwnerID, types.RoleOwner); err != nil {
		return types.Workspace{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	workspace.CreatedAt = fromMillis(toMillis(workspace.CreatedAt))
	workspace.Role = types.RoleOwner
	return workspace, nil
}

// GetWorkspace returns a workspace by id.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*types.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces w WHERE w.id = ?`
	workspace, err := scanWorkspace(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workspace %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return &workspace, nil
}

// ListWorkspaces returns the workspaces userID belongs to, oldest
// membership first, with the user's role on each.
func (s *Store) ListWorkspaces(ctx context.Context, userID string) ([]types.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+workspaceColumns+`, wm.role
FROM workspace_members wm
JOIN workspaces w ON w.id = wm.workspace_id
WHERE wm.user_id = ?
ORDER BY wm.joined_at ASC, w.name ASC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	workspaces := []types.Workspace{}
	for rows.Next() {
		var role string
		workspace, err := scanWorkspace(rows, &role)
		if err != nil {
			return nil, err
		}
		workspace.Role = types.WorkspaceRole(role)
		workspaces = append(workspaces, workspace)
	}
	return workspaces, rows.Err()
}

// AddWorkspaceMember adds userID to a workspace. An existing membership keeps
// its role.
func (s *Store) AddWorkspaceMember(ctx context.Context, workspaceID, userID string, role types.WorkspaceRole) error {
	if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	return s.addWorkspaceMember(ctx, s.db, workspaceID, userID, role)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) addWorkspaceMember(ctx context.Context, conn execer, workspaceID, userID string, role types.WorkspaceRole) error {
	if role == "" {
		role = types.RoleMember
	}
	_, err := conn.ExecContext(ctx, s.rebind(`
INSERT INTO workspace_members (workspace_id, user_id, role, joined_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (workspace_id, user_id) DO NOTHING`),
		workspaceID, userID, string(role), toMillis(s.timestamp()))
	if err != nil {
		return fmt.Errorf("add workspace member: %w", err)
	}
	return nil
}

const invitationColumns = `id, workspace_id, code, created_by, expires_at, max_uses, used_count, created_at`

func scanInvitation(row rowScanner) (types.Invitation, error) {
	var (
		invitation types.Invitation
		expiresAt  sql.NullInt64
		maxUses    sql.NullInt64
		createdAt  int64
	)
	if err := row.Scan(&invitation.ID, &invitation.WorkspaceID, &invitation.Code, &invitation.CreatedBy,
		&expiresAt, &maxUses, &invitation.UsedCount, &createdAt); err != nil {
		return types.Invitation{}, err
	}
	invitation.ExpiresAt = nullTimePtr(expiresAt)
	if maxUses.Valid {
		n := int(maxUses.Int64)
		invitation.MaxUses = &n
	}
	invitation.CreatedAt = fromMillis(createdAt)
	return invitation, nil
}

// CreateInvitation inserts an invite code for a workspace, generating the
// id and code when unset.
func (s *Store) CreateInvitation(ctx context.Context, invitation types.Invitation) (types.Invitation, error) {
	if _, err := s.GetWorkspace(ctx, invitation.WorkspaceID); err != nil {
		return types.Invitation{}, err
	}
	if invitation.ID == "" {
		invitation.ID = core.NewID()
	}
	if invitation.Code == "" {
		invitation.Code = core.NewInviteCode()
	}
	if invitation.CreatedAt.IsZero() {
		invitation.CreatedAt = s.timestamp()
	}
	var maxUses any
	if invitation.MaxUses != nil {
		maxUses = *invitation.MaxUses
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO invitations (`+invitationColumns+`)
VALUES (?, ?, ?, ?, ?, ?, 0, ?)`),
		invitation.ID, invitation.WorkspaceID, invitation.Code, invitation.CreatedBy,
		millisOrNil(invitation.ExpiresAt), maxUses, toMillis(invitation.CreatedAt),
	)
	if err != nil {
		return types.Invitation{}, fmt.Errorf("create invitation: %w", err)
	}
	invitation.UsedCount = 0
	invitation.CreatedAt = fromMillis(toMillis(invitation.CreatedAt))
	if invitation.ExpiresAt != nil {
		expires := fromMillis(toMillis(*invitation.ExpiresAt))
		invitation.ExpiresAt = &expires
	}
	return invitation, nil
}

// ListInvitations returns a workspace's invite codes, newest first.
func (s *Store) ListInvitations(ctx context.Context, workspaceID string) ([]types.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+invitationColumns+`
FROM invitations WHERE workspace_id = ?
ORDER BY created_at DESC, id DESC`), workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	invitations := []types.Invitation{}
	for rows.Next() {
		invitation, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, invitation)
	}
	return invitations, rows.Err()
}

// DeleteInvitation revokes an invite code by id.
func (s *Store) DeleteInvitation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM invitations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("invitation %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// RedeemInvitation admits userID to the code's workspace. A user who is
// already a member does not spend a use.
func (s *Store) RedeemInvitation(ctx context.Context, code, userID string) (types.Workspace, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Workspace{}, fmt.Errorf("redeem invitation: %w", err)
	}
	defer tx.Rollback()

	invitation, err := scanInvitation(tx.QueryRowContext(ctx, s.rebind(`SELECT `+invitationColumns+`
FROM invitations WHERE code = ?`), code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Workspace{}, fmt.Errorf("code %s: %w", code, core.ErrInvitationInvalid)
		}
		return types.Workspace{}, fmt.Errorf("redeem invitation: %w", err)
	}

	var members int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM workspace_members WHERE workspace_id = ? AND user_id = ?`),
		invitation.WorkspaceID, userID).Scan(&members)
	if err != nil {
		return types.Workspace{}, fmt.Errorf("redeem invitation: %w", err)
	}
	if members == 0 {
		now := s.timestamp()
		if !invitation.Redeemable(now) {
			return types.Workspace{}, fmt.Errorf("code %s: %w", code, core.ErrInvitationInvalid)
		}
		// The guarded update keeps concurrent redeemers within max_uses.
		result, err := tx.ExecContext(ctx, s.rebind(`
UPDATE invitations SET used_count = used_count + 1
WHERE id = ? AND (max_uses IS NULL OR used_count < max_uses)`), invitation.ID)
		if err != nil {
			return types.Workspace{}, fmt.Errorf("redeem invitation: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil || affected == 0 {
			return types.Workspace{}, fmt.Errorf("code %s: %w", code, core.ErrInvitationInvalid)
		}
		if err := s.addWorkspaceMember(ctx, tx, invitation.WorkspaceID, userID, types.RoleMember); err != nil {
			return types.Workspace{}, err
		}
	}

	workspace, err := scanWorkspace(tx.QueryRowContext(ctx, s.rebind(`SELECT `+workspaceColumns+`
FROM workspaces w WHERE w.id = ?`), invitation.WorkspaceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Workspace{}, fmt.Errorf("code %s: %w", code, core.ErrInvitationInvalid)
		}
		return types.Workspace{}, fmt.Errorf("redeem invitation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return types.Workspace{}, fmt.Errorf("redeem invitation: %w", err)
	}
	return workspace, nil
}
