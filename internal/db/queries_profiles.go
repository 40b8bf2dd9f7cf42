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

// GetProfile returns the profile of a user.
func (s *Store) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	var (
		profile             types.Profile
		fullName, avatarURL sql.NullString
		status              sql.NullString
		deletedAt           sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id, username, full_name, avatar_url, status, deleted_at
FROM profiles WHERE id = ?`), userID).Scan(
		&profile.ID, &profile.Username, &fullName, &avatarURL, &status, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", userID, core.ErrNotFound)
		}
		return nil, err
	}
	profile.FullName = nullStringPtr(fullName)
	profile.AvatarURL = nullStringPtr(avatarURL)
	profile.Status = nullStringPtr(status)
	profile.DeletedAt = nullTimePtr(deletedAt)
	return &profile, nil
}

// UpsertProfile creates or updates a profile by id.
func (s *Store) UpsertProfile(ctx context.Context, profile types.Profile) error {
	profile.Username = strings.TrimSpace(profile.Username)
	if profile.ID == "" || profile.Username == "" {
		return fmt.Errorf("profile id and username are required")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO profiles (id, username, full_name, avatar_url, status)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  username = excluded.username,
  full_name = excluded.full_name,
  avatar_url = excluded.avatar_url,
  status = excluded.status`),
		profile.ID, profile.Username, stringOrNil(profile.FullName), stringOrNil(profile.AvatarURL), stringOrNil(profile.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// FindProfile resolves a user by id or, failing that, by case-insensitive
// username.
func (s *Store) FindProfile(ctx context.Context, ref string) (*types.Profile, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "@")
	if ref == "" {
		return nil, fmt.Errorf("profile: %w", core.ErrNotFound)
	}
	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id FROM profiles
WHERE id = ? OR LOWER(username) = LOWER(?)
ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END LIMIT 1`), ref, ref, ref).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", ref, core.ErrNotFound)
		}
		return nil, err
	}
	return s.GetProfile(ctx, id)
}

// UpdateProfile changes the fields named by update and returns the result.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update types.ProfileUpdate) (*types.Profile, error) {
	var (
		sets []string
		args []any
	)
	if err := update.Validate(); err != nil {
		return nil, err
	}
	if update.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, strings.TrimSpace(*update.Username))
	}
	if update.FullName != nil {
		sets = append(sets, "full_name = ?")
		args = append(args, emptyAsNil(*update.FullName))
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, emptyAsNil(*update.Status))
	}
	if len(sets) == 0 {
		return s.GetProfile(ctx, userID)
	}

	args = append(args, userID)
	result, err := s.db.ExecContext(ctx, s.rebind(`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("profile %s: %w", userID, core.ErrNotFound)
	}
	return s.GetProfile(ctx, userID)
}

func emptyAsNil(value string) any {
	if value = strings.TrimSpace(value); value == "" {
		return nil
	}
	return value
}
