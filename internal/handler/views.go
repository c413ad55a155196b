package handler

import (
	"time"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// The model structs carry no JSON tags; these DTOs shape what leaves the
// service.  Credential hashes and verification secrets never do.

type userView struct {
	ID               uint64     `json:"id"`
	UUID             string     `json:"uuid"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Phone            string     `json:"phone"`
	Role             string     `json:"role"`
	Status           string     `json:"status"`
	IsBuyer          bool       `json:"is_buyer"`
	IsSeller         bool       `json:"is_seller"`
	EmailVerified    bool       `json:"email_verified"`
	PhoneVerified    bool       `json:"phone_verified"`
	PreferredAgentID *uint64    `json:"preferred_agent_id,omitempty"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func viewUser(u *model.User) userView {
	return userView{
		ID:               u.ID,
		UUID:             u.UUID,
		Name:             u.Name,
		Email:            u.Email,
		Phone:            u.Phone,
		Role:             string(u.Role),
		Status:           string(u.Status),
		IsBuyer:          u.IsBuyer,
		IsSeller:         u.IsSeller,
		EmailVerified:    u.EmailVerifiedAt != nil,
		PhoneVerified:    u.PhoneVerifiedAt != nil,
		PreferredAgentID: u.PreferredAgentID,
		LastLoginAt:      u.LastLoginAt,
		CreatedAt:        u.CreatedAt,
	}
}

type listingView struct {
	ID              uint64         `json:"id"`
	ListingID       string         `json:"listing_id"`
	OwnerID         uint64         `json:"owner_id"`
	AssignedAgentID *uint64        `json:"assigned_agent_id,omitempty"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	PropertyType    string         `json:"property_type"`
	ListingType     string         `json:"listing_type"`
	Price           float64        `json:"price"`
	Area            float64        `json:"area"`
	PricePerArea    *float64       `json:"price_per_area,omitempty"`
	City            string         `json:"city"`
	Location        string         `json:"location"`
	Latitude        *float64       `json:"latitude,omitempty"`
	Longitude       *float64       `json:"longitude,omitempty"`
	Bedrooms        int            `json:"bedrooms"`
	Bathrooms       int            `json:"bathrooms"`
	ParkingSpaces   int            `json:"parking_spaces"`
	Furnishing      string         `json:"furnishing"`
	Features        map[string]any `json:"features,omitempty"`
	Status          string         `json:"status"`
	ReviewNotes     *string        `json:"review_notes,omitempty"`
	RejectionReason *string        `json:"rejection_reason,omitempty"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	IsFeatured      bool           `json:"is_featured"`
	FeaturedUntil   *time.Time     `json:"featured_until,omitempty"`
	ViewsCount      int            `json:"views_count"`
	InquiriesCount  int            `json:"inquiries_count"`
	FavoritesCount  int            `json:"favorites_count"`
	Slug            *string        `json:"slug,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func viewListing(l *model.Listing) listingView {
	return listingView{
		ID:              l.ID,
		ListingID:       l.ListingID,
		OwnerID:         l.OwnerID,
		AssignedAgentID: l.AssignedAgentID,
		Title:           l.Title,
		Description:     l.Description,
		PropertyType:    string(l.PropertyType),
		ListingType:     string(l.ListingType),
		Price:           l.Price,
		Area:            l.Area,
		PricePerArea:    l.PricePerArea,
		City:            l.City,
		Location:        l.Location,
		Latitude:        l.Latitude,
		Longitude:       l.Longitude,
		Bedrooms:        l.Bedrooms,
		Bathrooms:       l.Bathrooms,
		ParkingSpaces:   l.ParkingSpaces,
		Furnishing:      string(l.Furnishing),
		Features:        l.Features,
		Status:          string(l.Status),
		ReviewNotes:     l.ReviewNotes,
		RejectionReason: l.RejectionReason,
		ApprovedAt:      l.ApprovedAt,
		IsFeatured:      l.IsFeatured,
		FeaturedUntil:   l.FeaturedUntil,
		ViewsCount:      l.ViewsCount,
		InquiriesCount:  l.InquiriesCount,
		FavoritesCount:  l.FavoritesCount,
		Slug:            l.Slug,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

type imageView struct {
	ID           uint64    `json:"id"`
	PropertyID   uint64    `json:"property_id"`
	ImageURL     string    `json:"image_url"`
	Caption      *string   `json:"caption,omitempty"`
	IsPrimary    bool      `json:"is_primary"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}

func viewImage(i *model.PropertyImage) imageView {
	return imageView{
		ID:           i.ID,
		PropertyID:   i.PropertyID,
		ImageURL:     i.ImageURL,
		Caption:      i.Caption,
		IsPrimary:    i.IsPrimary,
		DisplayOrder: i.DisplayOrder,
		CreatedAt:    i.CreatedAt,
	}
}

type recommendationView struct {
	Score   int         `json:"score"`
	Listing listingView `json:"listing"`
}

type favoriteView struct {
	ID                   uint64    `json:"id"`
	UserID               uint64    `json:"user_id"`
	PropertyID           uint64    `json:"property_id"`
	Notes                *string   `json:"notes,omitempty"`
	NotifyOnPriceChange  bool      `json:"notify_on_price_change"`
	NotifyOnStatusChange bool      `json:"notify_on_status_change"`
	CreatedAt            time.Time `json:"created_at"`
}

func viewFavorite(f *model.Favorite) favoriteView {
	return favoriteView{
		ID:                   f.ID,
		UserID:               f.UserID,
		PropertyID:           f.PropertyID,
		Notes:                f.Notes,
		NotifyOnPriceChange:  f.NotifyOnPriceChange,
		NotifyOnStatusChange: f.NotifyOnStatusChange,
		CreatedAt:            f.CreatedAt,
	}
}

type assignmentView struct {
	ID                uint64     `json:"id"`
	UserID            uint64     `json:"user_id"`
	AgentID           uint64     `json:"agent_id"`
	Type              string     `json:"assignment_type"`
	Status            string     `json:"status"`
	Reason            *string    `json:"reason,omitempty"`
	PropertiesShown   int        `json:"properties_shown"`
	MeetingsConducted int        `json:"meetings_conducted"`
	UserRating        *int       `json:"user_rating,omitempty"`
	UserFeedback      *string    `json:"user_feedback,omitempty"`
	AssignedAt        time.Time  `json:"assigned_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func viewAssignment(a *model.Assignment) assignmentView {
	return assignmentView{
		ID:                a.ID,
		UserID:            a.UserID,
		AgentID:           a.AgentID,
		Type:              string(a.Type),
		Status:            string(a.Status),
		Reason:            a.Reason,
		PropertiesShown:   a.PropertiesShown,
		MeetingsConducted: a.MeetingsConducted,
		UserRating:        a.UserRating,
		UserFeedback:      a.UserFeedback,
		AssignedAt:        a.AssignedAt,
		CompletedAt:       a.CompletedAt,
	}
}

type enquiryView struct {
	ID                 uint64     `json:"id"`
	TicketNumber       string     `json:"ticket_number"`
	UserID             *uint64    `json:"user_id,omitempty"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	Phone              string     `json:"phone"`
	Requirements       string     `json:"requirements"`
	PropertyID         *uint64    `json:"property_id,omitempty"`
	Source             string     `json:"source"`
	Status             string     `json:"status"`
	Priority           string     `json:"priority"`
	AssignedTo         *uint64    `json:"assigned_to,omitempty"`
	FirstResponseAt    *time.Time `json:"first_response_at,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes    *string    `json:"resolution_notes,omitempty"`
	SatisfactionRating *int       `json:"satisfaction_rating,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func viewEnquiry(e *model.Enquiry) enquiryView {
	return enquiryView{
		ID:                 e.ID,
		TicketNumber:       e.TicketNumber,
		UserID:             e.UserID,
		Name:               e.Name,
		Email:              e.Email,
		Phone:              e.Phone,
		Requirements:       e.Requirements,
		PropertyID:         e.PropertyID,
		Source:             e.Source,
		Status:             string(e.Status),
		Priority:           string(e.Priority),
		AssignedTo:         e.AssignedTo,
		FirstResponseAt:    e.FirstResponseAt,
		ResolvedAt:         e.ResolvedAt,
		ResolutionNotes:    e.ResolutionNotes,
		SatisfactionRating: e.SatisfactionRating,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

type noteView struct {
	ID               uint64     `json:"id"`
	EnquiryID        uint64     `json:"enquiry_id"`
	AuthorID         uint64     `json:"author_id"`
	Note             string     `json:"note"`
	Type             string     `json:"note_type"`
	Method           *string    `json:"communication_method,omitempty"`
	NextFollowUpDate *time.Time `json:"next_follow_up_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func viewNote(n *model.EnquiryNote) noteView {
	v := noteView{
		ID:               n.ID,
		EnquiryID:        n.EnquiryID,
		AuthorID:         n.AuthorID,
		Note:             n.Note,
		Type:             string(n.Type),
		NextFollowUpDate: n.NextFollowUpDate,
		CreatedAt:        n.CreatedAt,
	}
	if n.Method != nil {
		m := string(*n.Method)
		v.Method = &m
	}
	return v
}

type auditView struct {
	ID          uint64         `json:"id"`
	UserID      *uint64        `json:"user_id"`
	Action      string         `json:"action"`
	TableName   string         `json:"table_name"`
	RecordID    *uint64        `json:"record_id,omitempty"`
	OldValues   map[string]any `json:"old_values,omitempty"`
	NewValues   map[string]any `json:"new_values,omitempty"`
	Description string         `json:"description"`
	Severity    string         `json:"severity"`
	IPAddress   *string        `json:"ip_address,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func viewAudit(a *model.AuditLog) auditView {
	return auditView{
		ID:          a.ID,
		UserID:      a.UserID,
		Action:      string(a.Action),
		TableName:   a.TableName,
		RecordID:    a.RecordID,
		OldValues:   a.OldValues,
		NewValues:   a.NewValues,
		Description: a.Description,
		Severity:    string(a.Severity),
		IPAddress:   a.IPAddress,
		CreatedAt:   a.CreatedAt,
	}
}

// mapSlice converts a slice of models into DTOs.
func mapSlice[T, V any](in []T, f func(*T) V) []V {
	out := make([]V, 0, len(in))
	for i := range in {
		out = append(out, f(&in[i]))
	}
	return out
}
