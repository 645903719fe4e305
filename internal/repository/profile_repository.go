package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
)

// ProfileRepo reads and mutates the `user_profiles` table.  Rows are keyed
// by the user id issued by the hosted auth service.
type ProfileRepo struct{ DB *sql.DB }

func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{DB: db} }

func normalizeUserID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", ErrInvalidUserID
	}
	return u.String(), nil
}

// GetRole returns the stored role of a user.  A missing row yields
// ErrProfileNotFound; an unknown role value stored in the column is an
// error rather than a silent downgrade.
func (r *ProfileRepo) GetRole(ctx context.Context, userID string) (model.Role, error) {
	id, err := normalizeUserID(userID)
	if err != nil {
		return model.RoleNone, err
	}
	var raw string
	err = r.DB.QueryRowContext(ctx,
		"SELECT role FROM user_profiles WHERE user_id=? LIMIT 1", id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RoleNone, ErrProfileNotFound
		}
		return model.RoleNone, err
	}
	role, ok := model.ParseRole(raw)
	if !ok {
		return model.RoleNone, fmt.Errorf("user_profiles.role has unknown value %q", raw)
	}
	return role, nil
}

// GetByID fetches the full profile row.
func (r *ProfileRepo) GetByID(ctx context.Context, userID string) (model.Profile, error) {
	id, err := normalizeUserID(userID)
	if err != nil {
		return model.Profile{}, err
	}
	var (
		p       model.Profile
		raw     string
		display sql.NullString
		phone   sql.NullString
	)
	err = r.DB.QueryRowContext(ctx,
		"SELECT user_id,role,display_name,phone,created_at,updated_at FROM user_profiles WHERE user_id=? LIMIT 1",
		id).Scan(&p.UserID, &raw, &display, &phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Profile{}, ErrProfileNotFound
		}
		return model.Profile{}, err
	}
	p.Role, _ = model.ParseRole(raw)
	p.DisplayName = display.String
	p.Phone = phone.String
	return p, nil
}

// EnsureViewer inserts a viewer profile when none exists.  Existing rows
// are left untouched.
func (r *ProfileRepo) EnsureViewer(ctx context.Context, userID string) error {
	id, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		"INSERT IGNORE INTO user_profiles (user_id, role) VALUES (?, ?)",
		id, string(model.RoleViewer))
	return err
}

// UpgradeToInserzionista performs the self-service upgrade.  Only users
// without a profile or with the viewer role qualify; for anyone else
// ErrConflict is returned and nothing changes.  It returns the role held
// before the upgrade.
func (r *ProfileRepo) UpgradeToInserzionista(ctx context.Context, userID string) (model.Role, error) {
	id, err := normalizeUserID(userID)
	if err != nil {
		return model.RoleNone, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.RoleNone, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	previous, err := lockRole(ctx, tx, id)
	if errors.Is(err, ErrProfileNotFound) {
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			"INSERT IGNORE INTO user_profiles (user_id, role) VALUES (?, ?)",
			id, string(model.RoleInserzionista))
		if err != nil {
			return model.RoleNone, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			err = tx.Commit()
			return model.RoleNone, err
		}
		// EnsureViewer created the row between the read and the insert.
		previous, err = lockRole(ctx, tx, id)
	}
	if err != nil {
		return previous, err
	}
	if !previous.CanSelfUpgrade() {
		err = ErrConflict
		return previous, err
	}
	if _, err = tx.ExecContext(ctx,
		"UPDATE user_profiles SET role=?, updated_at=CURRENT_TIMESTAMP WHERE user_id=?",
		string(model.RoleInserzionista), id); err != nil {
		return previous, err
	}
	err = tx.Commit()
	return previous, err
}

// lockRole reads a role with SELECT ... FOR UPDATE inside tx.
func lockRole(ctx context.Context, tx *sql.Tx, id string) (model.Role, error) {
	var raw string
	err := tx.QueryRowContext(ctx,
		"SELECT role FROM user_profiles WHERE user_id=? FOR UPDATE", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RoleNone, ErrProfileNotFound
	}
	if err != nil {
		return model.RoleNone, err
	}
	role, _ := model.ParseRole(raw)
	return role, nil
}

// SetRole assigns any valid role (administrative action).
func (r *ProfileRepo) SetRole(ctx context.Context, userID string, role model.Role) error {
	id, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE user_profiles SET role=?, updated_at=CURRENT_TIMESTAMP WHERE user_id=?",
		string(role), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProfileNotFound
	}
	return nil
}
