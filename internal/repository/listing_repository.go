package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// ListingRepo provides access to property_listings.  Counter updates are
// only safe while the caller holds the row lock taken by GetByIDTx with
// lock set.
type ListingRepo struct {
	db *sql.DB
	d  Dialect
}

// NewListingRepo returns a ListingRepo bound to db.
func NewListingRepo(db *sql.DB, d Dialect) *ListingRepo { return &ListingRepo{db: db, d: d} }

const listingColumns = `l.id, l.listing_id, l.owner_id, l.assigned_agent_id, l.title, l.description,
	l.property_type, l.listing_type, l.price, l.area, l.price_per_area, l.city, l.location,
	l.latitude, l.longitude, l.bedrooms, l.bathrooms, l.parking_spaces, l.furnished, l.features,
	l.status, l.reviewed_by, l.reviewed_at, l.approved_at, l.review_notes, l.rejection_reason,
	l.is_featured, l.featured_until, l.views_count, l.inquiries_count, l.favorites_count, l.slug,
	l.created_at, l.updated_at, l.deleted_at`

// listingDest collects the nullable scan targets of a listing row so that
// queries with extra trailing columns can reuse it.
type listingDest struct {
	l                                   model.Listing
	ptype, ltype, furnished, status     string
	agent, reviewedBy                   sql.NullInt64
	ppa, lat, lng                       sql.NullFloat64
	features, notes, reason, slug       sql.NullString
	reviewedAt, approvedAt, featuredEnd sql.NullTime
	deletedAt                           sql.NullTime
}

func (d *listingDest) targets() []any {
	l := &d.l
	return []any{
		&l.ID, &l.ListingID, &l.OwnerID, &d.agent, &l.Title, &l.Description,
		&d.ptype, &d.ltype, &l.Price, &l.Area, &d.ppa, &l.City, &l.Location,
		&d.lat, &d.lng, &l.Bedrooms, &l.Bathrooms, &l.ParkingSpaces, &d.furnished, &d.features,
		&d.status, &d.reviewedBy, &d.reviewedAt, &d.approvedAt, &d.notes, &d.reason,
		&l.IsFeatured, &d.featuredEnd, &l.ViewsCount, &l.InquiriesCount, &l.FavoritesCount, &d.slug,
		&l.CreatedAt, &l.UpdatedAt, &d.deletedAt,
	}
}

func (d *listingDest) listing() *model.Listing {
	l := d.l
	l.AssignedAgentID = idPtr(d.agent)
	l.PropertyType = model.PropertyType(d.ptype)
	l.ListingType = model.ListingType(d.ltype)
	l.Furnishing = model.Furnishing(d.furnished)
	l.Status = model.ListingStatus(d.status)
	l.PricePerArea = floatPtr(d.ppa)
	l.Latitude = floatPtr(d.lat)
	l.Longitude = floatPtr(d.lng)
	l.Features = fromJSON(d.features)
	l.ReviewedBy = idPtr(d.reviewedBy)
	l.ReviewedAt = timePtr(d.reviewedAt)
	l.ApprovedAt = timePtr(d.approvedAt)
	l.ReviewNotes = strPtr(d.notes)
	l.RejectionReason = strPtr(d.reason)
	l.FeaturedUntil = timePtr(d.featuredEnd)
	l.Slug = strPtr(d.slug)
	l.DeletedAt = timePtr(d.deletedAt)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l
}

func scanListing(s rowScanner) (*model.Listing, error) {
	var d listingDest
	if err := s.Scan(d.targets()...); err != nil {
		return nil, Classify(err)
	}
	return d.listing(), nil
}

// CreateTx inserts l and populates its ID.  price_per_area is derived here.
func (r *ListingRepo) CreateTx(ctx context.Context, tx *sql.Tx, l *model.Listing) error {
	features, err := toJSON(l.Features)
	if err != nil {
		return err
	}
	l.PricePerArea = model.ComputePricePerArea(l.Price, l.Area)
	const q = `INSERT INTO property_listings (listing_id, owner_id, assigned_agent_id, title, description,
		property_type, listing_type, price, area, price_per_area, city, location, latitude, longitude,
		bedrooms, bathrooms, parking_spaces, furnished, features, status, is_featured, featured_until,
		slug, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		l.ListingID, l.OwnerID, nullable(l.AssignedAgentID), l.Title, l.Description,
		string(l.PropertyType), string(l.ListingType), l.Price, l.Area, nullable(l.PricePerArea),
		l.City, l.Location, nullable(l.Latitude), nullable(l.Longitude),
		l.Bedrooms, l.Bathrooms, l.ParkingSpaces, string(l.Furnishing), features, string(l.Status),
		boolInt(l.IsFeatured), nullable(l.FeaturedUntil), nullable(l.Slug), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return Classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = uint64(id)
	return nil
}

// GetByIDTx loads a listing, locking the row when lock is set.  Soft-deleted
// listings are returned; callers decide whether they are visible.
func (r *ListingRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64, lock bool) (*model.Listing, error) {
	q := `SELECT ` + listingColumns + ` FROM property_listings l WHERE l.id = ?`
	if lock {
		q += r.d.ForUpdate()
	}
	return scanListing(tx.QueryRowContext(ctx, q, id))
}

// GetByID fetches a live listing outside of a transaction.
func (r *ListingRepo) GetByID(ctx context.Context, id uint64) (*model.Listing, error) {
	return scanListing(r.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM property_listings l WHERE l.id = ? AND l.deleted_at IS NULL`, id))
}

// UpdateDetailsTx rewrites the descriptive fields of l and recomputes
// price_per_area.
func (r *ListingRepo) UpdateDetailsTx(ctx context.Context, tx *sql.Tx, l *model.Listing, now time.Time) error {
	features, err := toJSON(l.Features)
	if err != nil {
		return err
	}
	l.PricePerArea = model.ComputePricePerArea(l.Price, l.Area)
	l.UpdatedAt = now
	const q = `UPDATE property_listings SET title = ?, description = ?, property_type = ?, listing_type = ?,
		price = ?, area = ?, price_per_area = ?, city = ?, location = ?, latitude = ?, longitude = ?,
		bedrooms = ?, bathrooms = ?, parking_spaces = ?, furnished = ?, features = ?, slug = ?, updated_at = ?
		WHERE id = ?`
	_, err = tx.ExecContext(ctx, q,
		l.Title, l.Description, string(l.PropertyType), string(l.ListingType),
		l.Price, l.Area, nullable(l.PricePerArea), l.City, l.Location, nullable(l.Latitude), nullable(l.Longitude),
		l.Bedrooms, l.Bathrooms, l.ParkingSpaces, string(l.Furnishing), features, nullable(l.Slug), now, l.ID,
	)
	return Classify(err)
}

// SetStatusTx moves a listing to status.
func (r *ListingRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.ListingStatus, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE property_listings SET status = ?, updated_at = ? WHERE id = ?`, string(status), now, id)
	return Classify(err)
}

// ReviewTx records an admin decision: the new status, the reviewer and the
// notes.  approved_at is stamped when status is active or approved;
// rejection_reason is written when status is rejected.
func (r *ListingRepo) ReviewTx(ctx context.Context, tx *sql.Tx, id uint64, status model.ListingStatus, adminID uint64, notes *string, now time.Time) error {
	var approvedAt, reason any
	switch status {
	case model.ListingActive, model.ListingApproved:
		approvedAt = now
	case model.ListingRejected:
		reason = nullable(notes)
	}
	const q = `UPDATE property_listings SET status = ?, reviewed_by = ?, reviewed_at = ?,
		approved_at = COALESCE(?, approved_at), review_notes = ?, rejection_reason = COALESCE(?, rejection_reason), updated_at = ?
		WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, string(status), adminID, now, approvedAt, nullable(notes), reason, now, id)
	return Classify(err)
}

// SoftDeleteTx stamps deleted_at.
func (r *ListingRepo) SoftDeleteTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE property_listings SET deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
	return Classify(err)
}

// SetFeaturedTx sets or clears the featured flag.
func (r *ListingRepo) SetFeaturedTx(ctx context.Context, tx *sql.Tx, id uint64, featured bool, until *time.Time, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE property_listings SET is_featured = ?, featured_until = ?, updated_at = ? WHERE id = ?`,
		boolInt(featured), nullable(until), now, id)
	return Classify(err)
}

// AdjustFavoritesTx adds delta to favorites_count on a row the caller has
// locked.  A result below zero is stored as zero and reported as floored.
func (r *ListingRepo) AdjustFavoritesTx(ctx context.Context, tx *sql.Tx, id uint64, delta int) (floored bool, err error) {
	var cur int
	if err := tx.QueryRowContext(ctx, `SELECT favorites_count FROM property_listings WHERE id = ?`, id).Scan(&cur); err != nil {
		return false, Classify(err)
	}
	next := cur + delta
	if next < 0 {
		next, floored = 0, true
	}
	if _, err := tx.ExecContext(ctx, `UPDATE property_listings SET favorites_count = ? WHERE id = ?`, next, id); err != nil {
		return false, Classify(err)
	}
	return floored, nil
}

// SetFavoritesCountTx overwrites favorites_count.  Used by reconciliation.
func (r *ListingRepo) SetFavoritesCountTx(ctx context.Context, tx *sql.Tx, id uint64, n int) error {
	_, err := tx.ExecContext(ctx, `UPDATE property_listings SET favorites_count = ? WHERE id = ?`, n, id)
	return Classify(err)
}

// IncrementInquiriesTx bumps inquiries_count by one.
func (r *ListingRepo) IncrementInquiriesTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx, `UPDATE property_listings SET inquiries_count = inquiries_count + 1 WHERE id = ?`, id)
	return Classify(err)
}

// IncrementViewsTx bumps views_count by one.
func (r *ListingRepo) IncrementViewsTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx, `UPDATE property_listings SET views_count = views_count + 1 WHERE id = ?`, id)
	return Classify(err)
}

// ExpireFeaturedTx clears is_featured on listings whose featured_until has
// passed and returns the number of rows changed.
func (r *ListingRepo) ExpireFeaturedTx(ctx context.Context, tx *sql.Tx, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE property_listings SET is_featured = 0, featured_until = NULL, updated_at = ?
		 WHERE is_featured = 1 AND featured_until IS NOT NULL AND featured_until < ?`, now, now)
	if err != nil {
		return 0, Classify(err)
	}
	return res.RowsAffected()
}

// ExpireActiveBeforeTx moves active listings approved (or, lacking an
// approval stamp, created) before cutoff to expired.
func (r *ListingRepo) ExpireActiveBeforeTx(ctx context.Context, tx *sql.Tx, cutoff, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE property_listings SET status = 'expired', is_featured = 0, featured_until = NULL, updated_at = ?
		 WHERE status = 'active' AND deleted_at IS NULL AND COALESCE(approved_at, created_at) < ?`, now, cutoff)
	if err != nil {
		return 0, Classify(err)
	}
	return res.RowsAffected()
}

// RecommendTx scores every active, live listing the user has not favorited:
// +20 when the city is preferred, +20 when the property type is preferred,
// +30 when the price lies within the budget (missing bounds mean 0 and
// unbounded) and +10 when featured.  Results are ordered by score, then
// newest first, then id, which makes the order total.
func (r *ListingRepo) RecommendTx(ctx context.Context, tx *sql.Tx, userID uint64, p model.BuyerPreferences, limit int) ([]model.Recommendation, error) {
	var args []any

	cityTerm := "0"
	if len(p.Cities) > 0 {
		cityTerm = "CASE WHEN LOWER(l.city) IN (" + placeholders(len(p.Cities)) + ") THEN 20 ELSE 0 END"
		for _, c := range p.Cities {
			args = append(args, strings.ToLower(strings.TrimSpace(c)))
		}
	}

	typeTerm := "0"
	if types := p.PropertyTypes.Types(); len(types) > 0 {
		typeTerm = "CASE WHEN l.property_type IN (" + placeholders(len(types)) + ") THEN 20 ELSE 0 END"
		for _, t := range types {
			args = append(args, string(t))
		}
	}

	low := 0.0
	if p.BudgetMin != nil {
		low = *p.BudgetMin
	}
	budgetTerm := "CASE WHEN l.price >= ? THEN 30 ELSE 0 END"
	args = append(args, low)
	if p.BudgetMax != nil {
		budgetTerm = "CASE WHEN l.price >= ? AND l.price <= ? THEN 30 ELSE 0 END"
		args = append(args, *p.BudgetMax)
	}

	q := `SELECT ` + listingColumns + `, (` + cityTerm + ` + ` + typeTerm + ` + ` + budgetTerm +
		` + CASE WHEN l.is_featured = 1 THEN 10 ELSE 0 END) AS score
		FROM property_listings l
		WHERE l.status = 'active' AND l.deleted_at IS NULL
		  AND NOT EXISTS (SELECT 1 FROM user_favorites f WHERE f.property_id = l.id AND f.user_id = ?)
		ORDER BY score DESC, l.created_at DESC, l.id DESC
		LIMIT ?`
	args = append(args, userID, limit)

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	out := []model.Recommendation{}
	for rows.Next() {
		var d listingDest
		var score int
		if err := rows.Scan(append(d.targets(), &score)...); err != nil {
			return nil, err
		}
		out = append(out, model.Recommendation{Listing: *d.listing(), Score: score})
	}
	return out, rows.Err()
}

// ImageRepo provides access to property_images.
type ImageRepo struct{ db *sql.DB }

// NewImageRepo returns an ImageRepo bound to db.
func NewImageRepo(db *sql.DB) *ImageRepo { return &ImageRepo{db: db} }

// CreateTx inserts img.  When img is primary, the previous primary image of
// the listing is demoted first.
func (r *ImageRepo) CreateTx(ctx context.Context, tx *sql.Tx, img *model.PropertyImage) error {
	if img.IsPrimary {
		if _, err := tx.ExecContext(ctx, `UPDATE property_images SET is_primary = 0 WHERE property_id = ?`, img.PropertyID); err != nil {
			return Classify(err)
		}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO property_images (property_id, image_url, caption, is_primary, display_order, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		img.PropertyID, img.ImageURL, nullable(img.Caption), boolInt(img.IsPrimary), img.DisplayOrder, img.CreatedAt)
	if err != nil {
		return Classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	img.ID = uint64(id)
	return nil
}

// ListByProperty returns the images of a listing in display order.
func (r *ImageRepo) ListByProperty(ctx context.Context, propertyID uint64) ([]model.PropertyImage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, property_id, image_url, caption, is_primary, display_order, created_at
		 FROM property_images WHERE property_id = ? ORDER BY is_primary DESC, display_order, id`, propertyID)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	out := []model.PropertyImage{}
	for rows.Next() {
		var img model.PropertyImage
		var caption sql.NullString
		if err := rows.Scan(&img.ID, &img.PropertyID, &img.ImageURL, &caption, &img.IsPrimary, &img.DisplayOrder, &img.CreatedAt); err != nil {
			return nil, err
		}
		img.Caption = strPtr(caption)
		out = append(out, img)
	}
	return out, rows.Err()
}

// ViewRepo records property_views.
type ViewRepo struct{}

// NewViewRepo returns a ViewRepo.
func NewViewRepo() *ViewRepo { return &ViewRepo{} }

// CreateTx inserts v and populates its ID.
func (r *ViewRepo) CreateTx(ctx context.Context, tx *sql.Tx, v *model.PropertyView) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO property_views (property_id, user_id, session_id, ip_address, user_agent, referrer,
			view_duration, contacted_agent, added_to_favorites, scheduled_visit, viewed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.PropertyID, nullable(v.UserID), v.SessionID, v.IPAddress, v.UserAgent, v.Referrer,
		v.ViewDuration, boolInt(v.ContactedAgent), boolInt(v.AddedToFavorites), boolInt(v.ScheduledVisit), v.ViewedAt)
	if err != nil {
		return Classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	v.ID = uint64(id)
	return nil
}
