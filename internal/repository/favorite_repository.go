package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// FavoriteRepo provides access to user_favorites.
type FavoriteRepo struct {
	db *sql.DB
}

// NewFavoriteRepo returns a FavoriteRepo bound to db.
func NewFavoriteRepo(db *sql.DB) *FavoriteRepo { return &FavoriteRepo{db: db} }

// CreateTx inserts f.  A second favorite for the same pair fails with
// ErrDuplicateKey.
func (r *FavoriteRepo) CreateTx(ctx context.Context, tx *sql.Tx, f *model.Favorite) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO user_favorites (user_id, property_id, notes, notify_price_change, notify_status_change, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.UserID, f.PropertyID, nullable(f.Notes), boolInt(f.NotifyOnPriceChange), boolInt(f.NotifyOnStatusChange), f.CreatedAt)
	if err != nil {
		return Classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	f.ID = uint64(id)
	return nil
}

// DeleteTx removes the favorite and reports whether a row existed.
func (r *FavoriteRepo) DeleteTx(ctx context.Context, tx *sql.Tx, userID, propertyID uint64) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM user_favorites WHERE user_id = ? AND property_id = ?`, userID, propertyID)
	if err != nil {
		return false, Classify(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountForPropertyTx counts the favorites of a listing.
func (r *FavoriteRepo) CountForPropertyTx(ctx context.Context, tx *sql.Tx, propertyID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_favorites WHERE property_id = ?`, propertyID).Scan(&n)
	return n, Classify(err)
}

// FavoriteDrift describes a listing whose stored counter disagrees with the
// number of favorite rows.
type FavoriteDrift struct {
	PropertyID uint64 `json:"property_id"`
	Stored     int    `json:"stored"`
	Actual     int    `json:"actual"`
}

// DriftTx lists every listing whose favorites_count differs from the real
// count.
func (r *FavoriteRepo) DriftTx(ctx context.Context, tx *sql.Tx) ([]FavoriteDrift, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT l.id, l.favorites_count, COUNT(f.id)
		 FROM property_listings l LEFT JOIN user_favorites f ON f.property_id = l.id
		 GROUP BY l.id, l.favorites_count
		 HAVING l.favorites_count <> COUNT(f.id)
		 ORDER BY l.id`)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	var out []FavoriteDrift
	for rows.Next() {
		var d FavoriteDrift
		if err := rows.Scan(&d.PropertyID, &d.Stored, &d.Actual); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListByUser returns the favorites of a user, newest first.
func (r *FavoriteRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Favorite, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, property_id, notes, notify_price_change, notify_status_change, created_at
		 FROM user_favorites WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	out := []model.Favorite{}
	for rows.Next() {
		var f model.Favorite
		var notes sql.NullString
		if err := rows.Scan(&f.ID, &f.UserID, &f.PropertyID, &notes, &f.NotifyOnPriceChange, &f.NotifyOnStatusChange, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Notes = strPtr(notes)
		out = append(out, f)
	}
	return out, rows.Err()
}
