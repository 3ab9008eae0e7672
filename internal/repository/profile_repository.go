package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/student-portal-api/internal/models"
)

const profileColumns = `id, display_name, email, role, class_name, avatar_url, bio, is_online, last_seen, updated_at`

const insertProfile = `INSERT INTO profiles (id, display_name, email, role, class_name, avatar_url, bio, is_online, last_seen, updated_at) VALUES (:id, :display_name, :email, :role, :class_name, :avatar_url, :bio, :is_online, :last_seen, :updated_at)`

// ProfileRepository is the relational mirror of profile documents.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// FindByID returns one profile. sql.ErrNoRows is returned unwrapped.
func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	var p models.Profile
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return &p, nil
}

// ListByRole returns profiles of a role whose name or email contains search,
// ordered by display name.
func (r *ProfileRepository) ListByRole(ctx context.Context, role models.UserRole, search string) ([]models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE role = $1`
	args := []interface{}{role}
	if s := strings.TrimSpace(search); s != "" {
		query += ` AND (LOWER(display_name) LIKE $2 OR LOWER(email) LIKE $2)`
		args = append(args, "%"+strings.ToLower(s)+"%")
	}
	query += ` ORDER BY display_name ASC, id ASC`

	var profiles []models.Profile
	if err := r.db.SelectContext(ctx, &profiles, query, args...); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return profiles, nil
}

// ApplyUpdate writes the non-nil editable fields.
func (r *ProfileRepository) ApplyUpdate(ctx context.Context, id string, upd models.ProfileUpdate, at time.Time) error {
	sets := []string{"updated_at = $2"}
	args := []interface{}{id, at}
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("display_name", upd.DisplayName)
	add("class_name", upd.ClassName)
	add("avatar_url", upd.AvatarURL)
	add("bio", upd.Bio)

	query := `UPDATE profiles SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetPresence records the online flag and last-seen time.
func (r *ProfileRepository) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	const query = `UPDATE profiles SET is_online = $2, last_seen = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, online, at); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// ListOnlineIDs returns the ids of profiles currently flagged online.
func (r *ProfileRepository) ListOnlineIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM profiles WHERE is_online ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list online profiles: %w", err)
	}
	return ids, nil
}
