// This file defines the listing repository.  A listing is either a real
// estate ad or a handmade product; both live in the same table with
// nullable kind-specific columns.  Only published listings are visible on
// the public browse endpoints.

package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
)

// ListingRepo encapsulates all database queries related to listings.
type ListingRepo struct {
	db *sql.DB // db is the underlying database connection pool
}

// NewListingRepo constructs a ListingRepo with the provided DB handle.
func NewListingRepo(db *sql.DB) *ListingRepo {
	return &ListingRepo{db: db}
}

const listingColumns = `id, owner_id, kind, title, slug, description, price_cents, city,
	contact_phone, status, square_meters, rooms, material, quantity, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(s rowScanner) (*model.Listing, error) {
	var (
		l        model.Listing
		kind     string
		status   string
		phone    sql.NullString
		sqm      sql.NullInt64
		rooms    sql.NullInt64
		material sql.NullString
		qty      sql.NullInt64
	)
	if err := s.Scan(&l.ID, &l.OwnerID, &kind, &l.Title, &l.Slug, &l.Description, &l.PriceCents, &l.City,
		&phone, &status, &sqm, &rooms, &material, &qty, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Kind = model.ListingKind(kind)
	l.Status = model.ListingStatus(status)
	l.ContactPhone = phone.String
	l.SquareMeters = uint32(sqm.Int64)
	l.Rooms = uint8(rooms.Int64)
	l.Material = material.String
	l.Quantity = uint32(qty.Int64)
	return &l, nil
}

// kindColumns maps the kind-specific fields to nullable SQL values so the
// columns of the other kind stay NULL.
func kindColumns(l *model.Listing) (sqm, rooms, material, qty any) {
	if l.Kind == model.KindRealEstate {
		return l.SquareMeters, l.Rooms, nil, nil
	}
	return nil, nil, l.Material, l.Quantity
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Create inserts a new listing.  The ID, status and timestamps are filled
// in from the stored row.
func (r *ListingRepo) Create(ctx context.Context, l *model.Listing) error {
	owner, err := normalizeUserID(l.OwnerID)
	if err != nil {
		return err
	}
	sqm, rooms, material, qty := kindColumns(l)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO listings (owner_id, kind, title, slug, description, price_cents, city,
		 contact_phone, status, square_meters, rooms, material, quantity)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		owner, string(l.Kind), l.Title, l.Slug, l.Description, l.PriceCents, l.City,
		nullIfEmpty(l.ContactPhone), string(model.StatusPending), sqm, rooms, material, qty)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	stored, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*l = *stored
	return nil
}

// GetByID fetches a listing regardless of status or owner.
func (r *ListingRepo) GetByID(ctx context.Context, id uint64) (*model.Listing, error) {
	l, err := scanListing(r.db.QueryRowContext(ctx,
		"SELECT "+listingColumns+" FROM listings WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}
	return l, nil
}

// ListPublished returns published listings matching f, newest first.
func (r *ListingRepo) ListPublished(ctx context.Context, f model.ListingFilter) ([]*model.Listing, error) {
	where := []string{"status = ?"}
	args := []any{string(model.StatusPublished)}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if city := strings.TrimSpace(f.City); city != "" {
		where = append(where, "city = ?")
		args = append(args, city)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "(title LIKE ? OR description LIKE ?)")
		like := "%" + escapeLike(q) + "%"
		args = append(args, like, like)
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	q := "SELECT " + listingColumns + " FROM listings WHERE " + strings.Join(where, " AND ") +
		" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	return r.query(ctx, q, args...)
}

// ListByOwner returns every listing of an owner ordered by id.
func (r *ListingRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Listing, error) {
	owner, err := normalizeUserID(ownerID)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, "SELECT "+listingColumns+" FROM listings WHERE owner_id = ? ORDER BY id", owner)
}

// ListByStatus returns listings in a moderation state, oldest first.
func (r *ListingRepo) ListByStatus(ctx context.Context, status model.ListingStatus) ([]*model.Listing, error) {
	return r.query(ctx, "SELECT "+listingColumns+" FROM listings WHERE status = ? ORDER BY created_at, id", string(status))
}

func (r *ListingRepo) query(ctx context.Context, q string, args ...any) ([]*model.Listing, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Update overwrites the editable fields of a listing owned by l.OwnerID.
// An edited listing goes back to pending so it is moderated again.
// It returns sql.ErrNoRows when the listing does not exist and ErrForbidden
// when it belongs to someone else.
func (r *ListingRepo) Update(ctx context.Context, l *model.Listing) error {
	owner, err := normalizeUserID(l.OwnerID)
	if err != nil {
		return err
	}
	if err := r.checkOwner(ctx, r.db, l.ID, owner); err != nil {
		return err
	}
	sqm, rooms, material, qty := kindColumns(l)
	_, err = r.db.ExecContext(ctx,
		`UPDATE listings
		 SET title = ?, slug = ?, description = ?, price_cents = ?, city = ?, contact_phone = ?,
		     square_meters = ?, rooms = ?, material = ?, quantity = ?,
		     status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND owner_id = ?`,
		l.Title, l.Slug, l.Description, l.PriceCents, l.City, nullIfEmpty(l.ContactPhone),
		sqm, rooms, material, qty, string(model.StatusPending), l.ID, owner)
	if err != nil {
		return err
	}
	stored, err := r.GetByID(ctx, l.ID)
	if err != nil {
		return err
	}
	*l = *stored
	return nil
}

// DeleteByIDAndOwner removes a listing provided it belongs to ownerID.
// sql.ErrNoRows is returned when it does not exist, ErrForbidden when it is
// owned by a different user.
func (r *ListingRepo) DeleteByIDAndOwner(ctx context.Context, id uint64, ownerID string) error {
	owner, err := normalizeUserID(ownerID)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = r.checkOwner(ctx, tx, id, owner); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM listings WHERE id = ? AND owner_id = ?`, id, owner); err != nil {
		return err
	}
	return tx.Commit()
}

// SetStatus changes the moderation state of a listing.
func (r *ListingRepo) SetStatus(ctx context.Context, id uint64, status model.ListingStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE listings SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrListingNotFound
	}
	return nil
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ListingRepo) checkOwner(ctx context.Context, q queryRower, id uint64, owner string) error {
	var dbOwner string
	if err := q.QueryRowContext(ctx, `SELECT owner_id FROM listings WHERE id = ?`, id).Scan(&dbOwner); err != nil {
		return err
	}
	if dbOwner != owner {
		return ErrForbidden
	}
	return nil
}

// escapeLike escapes LIKE wildcards in user input.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
