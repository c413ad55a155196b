package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// PropertySearchQuery defines filters and pagination for the public
// property listing.
type PropertySearchQuery struct {
	Text         string
	City         string
	PropertyType string
	ListingType  string
	MinPrice     *float64
	MaxPrice     *float64
	MinBedrooms  int
	FeaturedOnly bool
	Page         int
	PageSize     int
}

// ActivePropertyRow is one row of the ActivePropertiesWithUsers view.
type ActivePropertyRow struct {
	ID             uint64    `json:"id"`
	ListingID      string    `json:"listing_id"`
	Title          string    `json:"title"`
	PropertyType   string    `json:"property_type"`
	ListingType    string    `json:"listing_type"`
	Price          float64   `json:"price"`
	Area           float64   `json:"area"`
	PricePerArea   *float64  `json:"price_per_area,omitempty"`
	City           string    `json:"city"`
	Location       string    `json:"location"`
	Bedrooms       int       `json:"bedrooms"`
	Bathrooms      int       `json:"bathrooms"`
	IsFeatured     bool      `json:"is_featured"`
	ViewsCount     int       `json:"views_count"`
	FavoritesCount int       `json:"favorites_count"`
	Slug           *string   `json:"slug,omitempty"`
	OwnerName      string    `json:"owner_name"`
	OwnerEmail     string    `json:"owner_email"`
	OwnerPhone     string    `json:"owner_phone"`
	AgentName      *string   `json:"agent_name,omitempty"`
	AgentEmail     *string   `json:"agent_email,omitempty"`
	AgentPhone     *string   `json:"agent_phone,omitempty"`
	AgentRating    *float64  `json:"agent_rating,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProjectionRepo serves the read-only derived views.
type ProjectionRepo struct {
	db *sql.DB
	d  Dialect
}

// NewProjectionRepo returns a ProjectionRepo bound to db.
func NewProjectionRepo(db *sql.DB, d Dialect) *ProjectionRepo { return &ProjectionRepo{db: db, d: d} }

// ActiveProperties lists active, live listings joined with their owner and
// assigned agent, featured first, newest first.
func (r *ProjectionRepo) ActiveProperties(ctx context.Context, q PropertySearchQuery) ([]ActivePropertyRow, int64, error) {
	where := []string{"l.status = 'active'", "l.deleted_at IS NULL"}
	args := []any{}

	if q.Text != "" {
		if r.d == MySQL {
			where = append(where, "MATCH(l.title, l.description, l.location) AGAINST (? IN NATURAL LANGUAGE MODE)")
			args = append(args, q.Text)
		} else {
			like := "%" + strings.ToLower(q.Text) + "%"
			where = append(where, "(LOWER(l.title) LIKE ? OR LOWER(l.description) LIKE ? OR LOWER(l.location) LIKE ?)")
			args = append(args, like, like, like)
		}
	}
	if q.City != "" {
		where = append(where, "LOWER(l.city) = ?")
		args = append(args, strings.ToLower(q.City))
	}
	if q.PropertyType != "" {
		where = append(where, "l.property_type = ?")
		args = append(args, q.PropertyType)
	}
	if q.ListingType != "" {
		where = append(where, "l.listing_type = ?")
		args = append(args, q.ListingType)
	}
	if q.MinPrice != nil {
		where = append(where, "l.price >= ?")
		args = append(args, *q.MinPrice)
	}
	if q.MaxPrice != nil {
		where = append(where, "l.price <= ?")
		args = append(args, *q.MaxPrice)
	}
	if q.MinBedrooms > 0 {
		where = append(where, "l.bedrooms >= ?")
		args = append(args, q.MinBedrooms)
	}
	if q.FeaturedOnly {
		where = append(where, "l.is_featured = 1")
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM property_listings l WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, Classify(err)
	}

	limit := q.PageSize
	offset := (q.Page - 1) * q.PageSize

	dataSQL := `SELECT
			l.id, l.listing_id, l.title, l.property_type, l.listing_type, l.price, l.area, l.price_per_area,
			l.city, l.location, l.bedrooms, l.bathrooms, l.is_featured, l.views_count, l.favorites_count, l.slug,
			o.name, o.email, o.phone,
			a.name, a.email, a.phone, a.agent_rating,
			l.created_at
		FROM property_listings l
		JOIN users o      ON o.id = l.owner_id
		LEFT JOIN users a ON a.id = l.assigned_agent_id
		WHERE ` + cond + `
		ORDER BY l.is_featured DESC, l.created_at DESC, l.id DESC
		LIMIT ? OFFSET ?`
	argsData := append(append([]any{}, args...), limit, offset)

	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, Classify(err)
	}
	defer rows.Close()

	out := make([]ActivePropertyRow, 0, limit)
	for rows.Next() {
		var (
			d                               ActivePropertyRow
			ppa, rating                     sql.NullFloat64
			slug, agentName, agentEmail, ap sql.NullString
		)
		if err := rows.Scan(
			&d.ID, &d.ListingID, &d.Title, &d.PropertyType, &d.ListingType, &d.Price, &d.Area, &ppa,
			&d.City, &d.Location, &d.Bedrooms, &d.Bathrooms, &d.IsFeatured, &d.ViewsCount, &d.FavoritesCount, &slug,
			&d.OwnerName, &d.OwnerEmail, &d.OwnerPhone,
			&agentName, &agentEmail, &ap, &rating,
			&d.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		d.PricePerArea = floatPtr(ppa)
		d.Slug = strPtr(slug)
		d.AgentName = strPtr(agentName)
		d.AgentEmail = strPtr(agentEmail)
		d.AgentPhone = strPtr(ap)
		d.AgentRating = floatPtr(rating)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// PendingApprovalRow is one row of the PendingApprovalsSummary view.
type PendingApprovalRow struct {
	ID             uint64    `json:"id"`
	ApprovalType   string    `json:"approval_type"`
	RecordID       uint64    `json:"record_id"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority"`
	SubmitterName  *string   `json:"submitter_name,omitempty"`
	SubmitterEmail *string   `json:"submitter_email,omitempty"`
	ReviewerName   *string   `json:"reviewer_name,omitempty"`
	ItemTitle      string    `json:"item_title"`
	CreatedAt      time.Time `json:"created_at"`
}

// PendingApprovalsSummary lists open approvals, most urgent first.  The
// item title is the listing title for listing approvals and "User: <name>"
// for the user-based approval types.
func (r *ProjectionRepo) PendingApprovalsSummary(ctx context.Context, page, pageSize int) ([]PendingApprovalRow, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_approvals WHERE status IN ('pending', 'under_review')`).Scan(&total); err != nil {
		return nil, 0, Classify(err)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT pa.id, pa.approval_type, pa.record_id, pa.status, pa.priority,
			s.name, s.email, rv.name,
			CASE
				WHEN pa.approval_type = 'property_listing' THEN COALESCE(pl.title, '')
				ELSE `+r.d.Concat("'User: '", "COALESCE(ru.name, '')")+`
			END,
			pa.created_at
		FROM pending_approvals pa
		LEFT JOIN users s  ON s.id = pa.submitted_by
		LEFT JOIN users rv ON rv.id = pa.assigned_to
		LEFT JOIN property_listings pl ON pa.approval_type = 'property_listing' AND pl.id = pa.record_id
		LEFT JOIN users ru ON pa.approval_type <> 'property_listing' AND ru.id = pa.record_id
		WHERE pa.status IN ('pending', 'under_review')
		ORDER BY CASE pa.priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
			pa.created_at, pa.id
		LIMIT ? OFFSET ?`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, Classify(err)
	}
	defer rows.Close()
	out := make([]PendingApprovalRow, 0, pageSize)
	for rows.Next() {
		var (
			d                         PendingApprovalRow
			subName, subEmail, rvName sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.ApprovalType, &d.RecordID, &d.Status, &d.Priority,
			&subName, &subEmail, &rvName, &d.ItemTitle, &d.CreatedAt); err != nil {
			return nil, 0, err
		}
		d.SubmitterName = strPtr(subName)
		d.SubmitterEmail = strPtr(subEmail)
		d.ReviewerName = strPtr(rvName)
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// UserDashboard aggregates the activity of one buyer/seller account.
type UserDashboard struct {
	UserID             uint64  `json:"user_id"`
	Name               string  `json:"name"`
	Email              string  `json:"email"`
	PropertiesListed   int     `json:"properties_listed"`
	ActiveListings     int     `json:"active_listings"`
	SoldProperties     int     `json:"sold_properties"`
	FavoritesCount     int     `json:"favorites_count"`
	EnquiriesCount     int     `json:"enquiries_count"`
	PreferredAgentName *string `json:"preferred_agent_name,omitempty"`
}

// UserDashboard computes the dashboard of a live user whose role is user.
func (r *ProjectionRepo) UserDashboard(ctx context.Context, userID uint64) (*UserDashboard, error) {
	var (
		d     UserDashboard
		agent sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT u.id, u.name, u.email,
			(SELECT COUNT(*) FROM property_listings l WHERE l.owner_id = u.id AND l.deleted_at IS NULL),
			(SELECT COUNT(*) FROM property_listings l WHERE l.owner_id = u.id AND l.deleted_at IS NULL AND l.status = 'active'),
			(SELECT COUNT(*) FROM property_listings l WHERE l.owner_id = u.id AND l.status = 'sold'),
			(SELECT COUNT(*) FROM user_favorites f WHERE f.user_id = u.id),
			(SELECT COUNT(*) FROM enquiries e WHERE e.user_id = u.id),
			pa.name
		FROM users u
		LEFT JOIN users pa ON pa.id = u.preferred_agent_id
		WHERE u.id = ? AND u.role = 'user' AND u.deleted_at IS NULL`, userID).
		Scan(&d.UserID, &d.Name, &d.Email, &d.PropertiesListed, &d.ActiveListings, &d.SoldProperties,
			&d.FavoritesCount, &d.EnquiriesCount, &agent)
	if err != nil {
		return nil, Classify(err)
	}
	d.PreferredAgentName = strPtr(agent)
	return &d, nil
}

// PendingNotificationRow is one row of AdminCreatedAgentsPendingNotifications.
type PendingNotificationRow struct {
	NotificationID uint64    `json:"notification_id"`
	AgentID        uint64    `json:"agent_id"`
	AgentName      string    `json:"agent_name"`
	AgentEmail     string    `json:"agent_email"`
	AgentPhone     string    `json:"agent_phone"`
	CreatedByName  string    `json:"created_by_name"`
	EmailSent      bool      `json:"email_sent"`
	SMSSent        bool      `json:"sms_sent"`
	Attempts       int       `json:"dispatch_attempts"`
	CreatedAt      time.Time `json:"created_at"`
}

// AgentsPendingNotifications lists admin-created agents whose notification
// still has an unsent channel.
func (r *ProjectionRepo) AgentsPendingNotifications(ctx context.Context) ([]PendingNotificationRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT n.id, u.id, u.name, u.email, u.phone, c.name, n.email_sent, n.sms_sent, n.dispatch_attempts, n.created_at
		 FROM admin_created_notifications n
		 JOIN users u ON u.id = n.user_id
		 JOIN users c ON c.id = n.created_by
		 WHERE u.role = 'agent' AND (n.email_sent = 0 OR n.sms_sent = 0)
		 ORDER BY n.created_at, n.id`)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	out := []PendingNotificationRow{}
	for rows.Next() {
		var d PendingNotificationRow
		if err := rows.Scan(&d.NotificationID, &d.AgentID, &d.AgentName, &d.AgentEmail, &d.AgentPhone, &d.CreatedByName,
			&d.EmailSent, &d.SMSSent, &d.Attempts, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
