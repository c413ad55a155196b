package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// ListingInput carries the descriptive fields of a listing.
type ListingInput struct {
	Title           string
	Description     string
	PropertyType    model.PropertyType
	ListingType     model.ListingType
	Price           float64
	Area            float64
	City            string
	Location        string
	Latitude        *float64
	Longitude       *float64
	Bedrooms        int
	Bathrooms       int
	ParkingSpaces   int
	Furnishing      model.Furnishing
	Features        map[string]any
	Slug            *string
	AssignedAgentID *uint64
	// Submit creates the listing directly in pending_review.
	Submit bool
}

func (in *ListingInput) normalize() error {
	if in.ListingType == "" {
		in.ListingType = model.ListingForSale
	}
	if in.Furnishing == "" {
		in.Furnishing = model.Unfurnished
	}
	in.Title = strings.TrimSpace(in.Title)
	in.City = strings.TrimSpace(in.City)

	var c checker
	c.require(in.Title != "", "title", "is required")
	c.require(len(in.Title) <= 255, "title", "must be at most 255 characters")
	_, err := model.ParsePropertyType(string(in.PropertyType))
	c.require(err == nil, "property_type", "is not a known property type")
	_, err = model.ParseListingType(string(in.ListingType))
	c.require(err == nil, "listing_type", "must be sale or rent")
	_, err = model.ParseFurnishing(string(in.Furnishing))
	c.require(err == nil, "furnishing", "must be unfurnished, semi_furnished or fully_furnished")
	c.require(in.Price > 0, "price", "must be positive")
	c.require(in.Area >= 0, "area", "must not be negative")
	c.require(in.City != "", "city", "is required")
	c.require(in.Bedrooms >= 0, "bedrooms", "must not be negative")
	c.require(in.Bathrooms >= 0, "bathrooms", "must not be negative")
	c.require(in.ParkingSpaces >= 0, "parking_spaces", "must not be negative")
	if in.Latitude != nil {
		c.require(*in.Latitude >= -90 && *in.Latitude <= 90, "latitude", "must be between -90 and 90")
	}
	if in.Longitude != nil {
		c.require(*in.Longitude >= -180 && *in.Longitude <= 180, "longitude", "must be between -180 and 180")
	}
	if in.Slug != nil {
		c.require(slug.IsSlug(*in.Slug), "slug", "must be lowercase words separated by hyphens")
	}
	return c.err()
}

func (in ListingInput) apply(l *model.Listing) {
	l.Title = in.Title
	l.Description = in.Description
	l.PropertyType = in.PropertyType
	l.ListingType = in.ListingType
	l.Price = in.Price
	l.Area = in.Area
	l.City = in.City
	l.Location = in.Location
	l.Latitude = in.Latitude
	l.Longitude = in.Longitude
	l.Bedrooms = in.Bedrooms
	l.Bathrooms = in.Bathrooms
	l.ParkingSpaces = in.ParkingSpaces
	l.Furnishing = in.Furnishing
	l.Features = in.Features
	if in.Slug != nil {
		l.Slug = in.Slug
	}
}

func newListingID() string {
	return "PROP-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func listingSlug(title, listingID string) *string {
	s := slug.Make(title + " " + listingID)
	return &s
}

// activeActor loads a live user allowed to act on listings.
func activeActor(ctx context.Context, tx *sql.Tx, s *stores, id uint64) (*model.User, error) {
	u, err := s.users.GetByIDTx(ctx, tx, id, false)
	if errors.Is(err, ErrNotFound) {
		return nil, notAuthorized("user %d does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	if u.IsDeleted() || u.Status == model.UserSuspended || u.Status == model.UserInactive {
		return nil, notAuthorized("user %d cannot act on listings", id)
	}
	return u, nil
}

// ownedListing loads and locks a live listing and checks actor may change
// it: the owner or an admin.
func ownedListing(ctx context.Context, tx *sql.Tx, s *stores, actor *model.User, listingID uint64) (*model.Listing, error) {
	l, err := liveListing(ctx, tx, s, listingID)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != actor.ID && actor.Role != model.RoleAdmin {
		return nil, notAuthorized("user %d does not own listing %d", actor.ID, listingID)
	}
	return l, nil
}

// CreateListing inserts a listing owned by ownerID, in draft or, with
// Submit, in pending_review with its review entry queued.
func (e *Engine) CreateListing(ctx context.Context, ownerID uint64, in ListingInput) (*model.Listing, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	var created *model.Listing
	err := e.run(ctx, "create_listing", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		created = nil
		now := e.clock()
		if _, err := activeActor(ctx, tx, s, ownerID); err != nil {
			return err
		}
		if in.AssignedAgentID != nil {
			if err := requireAgent(ctx, tx, s, *in.AssignedAgentID, "assigned_agent_id"); err != nil {
				return err
			}
		}
		l := &model.Listing{
			ListingID:       newListingID(),
			OwnerID:         ownerID,
			AssignedAgentID: in.AssignedAgentID,
			Status:          model.ListingDraft,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		in.apply(l)
		if l.Slug == nil {
			l.Slug = listingSlug(l.Title, l.ListingID)
		}
		if in.Submit {
			l.Status = model.ListingPendingReview
		}
		if err := s.listings.CreateTx(ctx, tx, l); err != nil {
			return err
		}
		if err := queueListingReview(ctx, tx, s, l, now); err != nil {
			return err
		}
		created = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateListing rewrites the descriptive fields of a listing.  Closed
// listings (sold, rented, withdrawn) are read-only.
func (e *Engine) UpdateListing(ctx context.Context, actorID, listingID uint64, in ListingInput) (*model.Listing, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	var updated *model.Listing
	err := e.run(ctx, "update_listing", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		updated = nil
		now := e.clock()
		actor, err := activeActor(ctx, tx, s, actorID)
		if err != nil {
			return err
		}
		l, err := ownedListing(ctx, tx, s, actor, listingID)
		if err != nil {
			return err
		}
		switch l.Status {
		case model.ListingSold, model.ListingRented, model.ListingWithdrawn:
			return badTransition("listing %s is %s", l.ListingID, l.Status)
		}
		in.apply(l)
		if err := s.listings.UpdateDetailsTx(ctx, tx, l, now); err != nil {
			return err
		}
		updated = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SubmitListing sends a draft, rejected or expired listing to review.
func (e *Engine) SubmitListing(ctx context.Context, ownerID, listingID uint64) error {
	return e.run(ctx, "submit_listing", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		actor, err := activeActor(ctx, tx, s, ownerID)
		if err != nil {
			return err
		}
		l, err := ownedListing(ctx, tx, s, actor, listingID)
		if err != nil {
			return err
		}
		if l.OwnerID != ownerID {
			return notAuthorized("only the owner submits listing %d", listingID)
		}
		if !l.Status.CanTransition(model.ListingPendingReview) {
			return badTransition("listing %s cannot move from %s to review", l.ListingID, l.Status)
		}
		if err := s.listings.SetStatusTx(ctx, tx, l.ID, model.ListingPendingReview, now); err != nil {
			return err
		}
		l.Status = model.ListingPendingReview
		return queueListingReview(ctx, tx, s, l, now)
	})
}

// closeOpenReview resolves any open review entry of a listing that left the
// review flow without a decision.
func closeOpenReview(ctx context.Context, tx *sql.Tx, s *stores, listingID, actorID uint64, note string, now time.Time) error {
	open, err := s.approvals.FindOpenTx(ctx, tx, model.ListingSubject{ListingID: listingID}, true)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.approvals.DecideTx(ctx, tx, open.ID, model.ApprovalRejected, actorID, &note, now)
}

// ChangeListingStatus moves a listing to sold, rented, withdrawn or expired.
// Changes made by an admin on someone else's listing are audited.
func (e *Engine) ChangeListingStatus(ctx context.Context, actorID, listingID uint64, to model.ListingStatus) error {
	switch to {
	case model.ListingSold, model.ListingRented, model.ListingWithdrawn, model.ListingExpired:
	default:
		return invalid("status", "must be one of sold, rented, withdrawn, expired")
	}
	return e.run(ctx, "change_listing_status", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		actor, err := activeActor(ctx, tx, s, actorID)
		if err != nil {
			return err
		}
		l, err := ownedListing(ctx, tx, s, actor, listingID)
		if err != nil {
			return err
		}
		if !l.Status.CanTransition(to) {
			return badTransition("listing %s cannot move from %s to %s", l.ListingID, l.Status, to)
		}
		if err := s.listings.SetStatusTx(ctx, tx, l.ID, to, now); err != nil {
			return err
		}
		if to == model.ListingWithdrawn {
			if err := closeOpenReview(ctx, tx, s, l.ID, actorID, "Listing withdrawn", now); err != nil {
				return err
			}
		}
		if actor.Role != model.RoleAdmin || l.OwnerID == actorID {
			return nil
		}
		return audit(ctx, tx, s, model.AuditLog{
			UserID:      u64(actorID),
			Action:      model.AuditUpdate,
			TableName:   "property_listings",
			RecordID:    u64(l.ID),
			OldValues:   map[string]any{"status": string(l.Status)},
			NewValues:   map[string]any{"status": string(to)},
			Description: fmt.Sprintf("Listing %s moved to %s by admin", l.ListingID, to),
			Severity:    model.SeverityMedium,
		}, now)
	})
}

// DeleteListing soft deletes a listing and closes its open review entry.
func (e *Engine) DeleteListing(ctx context.Context, actorID, listingID uint64) error {
	return e.run(ctx, "delete_listing", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		actor, err := activeActor(ctx, tx, s, actorID)
		if err != nil {
			return err
		}
		l, err := ownedListing(ctx, tx, s, actor, listingID)
		if err != nil {
			return err
		}
		if err := s.listings.SoftDeleteTx(ctx, tx, l.ID, now); err != nil {
			return err
		}
		if err := closeOpenReview(ctx, tx, s, l.ID, actorID, "Listing deleted", now); err != nil {
			return err
		}
		return audit(ctx, tx, s, model.AuditLog{
			UserID:      u64(actorID),
			Action:      model.AuditDelete,
			TableName:   "property_listings",
			RecordID:    u64(l.ID),
			OldValues:   map[string]any{"status": string(l.Status), "title": l.Title},
			Description: "Listing " + l.ListingID + " deleted",
			Severity:    model.SeverityLow,
		}, now)
	})
}

// reviewable loads a listing awaiting review together with its open review
// entry, creating the entry when an older row predates it.
func reviewable(ctx context.Context, tx *sql.Tx, s *stores, listingID uint64, now time.Time) (*model.Listing, *model.PendingApproval, error) {
	l, err := liveListing(ctx, tx, s, listingID)
	if err != nil {
		return nil, nil, err
	}
	if l.Status != model.ListingPendingReview {
		return nil, nil, badTransition("listing %s is %s, not pending_review", l.ListingID, l.Status)
	}
	subject := model.ListingSubject{ListingID: l.ID}
	a, err := s.approvals.FindOpenTx(ctx, tx, subject, true)
	if errors.Is(err, ErrNotFound) {
		if err := queueListingReview(ctx, tx, s, l, now); err != nil {
			return nil, nil, err
		}
		a, err = s.approvals.FindOpenTx(ctx, tx, subject, true)
	}
	if err != nil {
		return nil, nil, err
	}
	return l, a, nil
}

// ApproveListing publishes a listing under review: the listing becomes
// active, its review entry approved, and the decision is audited.
func (e *Engine) ApproveListing(ctx context.Context, listingID, adminID uint64, notes string) error {
	return e.run(ctx, "approve_listing", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		if _, err := e.requireAdmin(ctx, tx, s, adminID); err != nil {
			return err
		}
		l, a, err := reviewable(ctx, tx, s, listingID, now)
		if err != nil {
			return err
		}
		var n *string
		if notes = strings.TrimSpace(notes); notes != "" {
			n = &notes
		}
		if err := s.listings.ReviewTx(ctx, tx, l.ID, model.ListingActive, adminID, n, now); err != nil {
			return err
		}
		if err := s.approvals.DecideTx(ctx, tx, a.ID, model.ApprovalApproved, adminID, n, now); err != nil {
			return err
		}
		desc := "Listing " + l.ListingID + " approved"
		if n != nil {
			desc += ": " + notes
		}
		return audit(ctx, tx, s, model.AuditLog{
			UserID:      u64(adminID),
			Action:      model.AuditApprove,
			TableName:   "property_listings",
			RecordID:    u64(l.ID),
			OldValues:   map[string]any{"status": string(l.Status)},
			NewValues:   map[string]any{"status": string(model.ListingActive)},
			Description: desc,
			Severity:    model.SeverityLow,
		}, now)
	})
}

// RejectListing declines a listing under review with a reason.
func (e *Engine) RejectListing(ctx context.Context, listingID, adminID uint64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return invalid("reason", "is required")
	}
	return e.run(ctx, "reject_listing", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		if _, err := e.requireAdmin(ctx, tx, s, adminID); err != nil {
			return err
		}
		l, a, err := reviewable(ctx, tx, s, listingID, now)
		if err != nil {
			return err
		}
		if err := s.listings.ReviewTx(ctx, tx, l.ID, model.ListingRejected, adminID, &reason, now); err != nil {
			return err
		}
		if err := s.approvals.DecideTx(ctx, tx, a.ID, model.ApprovalRejected, adminID, &reason, now); err != nil {
			return err
		}
		return audit(ctx, tx, s, model.AuditLog{
			UserID:      u64(adminID),
			Action:      model.AuditReject,
			TableName:   "property_listings",
			RecordID:    u64(l.ID),
			OldValues:   map[string]any{"status": string(l.Status)},
			NewValues:   map[string]any{"status": string(model.ListingRejected), "rejection_reason": reason},
			Description: "Listing " + l.ListingID + " rejected: " + reason,
			Severity:    model.SeverityMedium,
		}, now)
	})
}

// RequestListingChanges sends a listing under review back to draft and
// marks its review entry needs_changes.
func (e *Engine) RequestListingChanges(ctx context.Context, listingID, adminID uint64, notes string) error {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return invalid("notes", "is required")
	}
	return e.run(ctx, "request_listing_changes", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		if _, err := e.requireAdmin(ctx, tx, s, adminID); err != nil {
			return err
		}
		l, a, err := reviewable(ctx, tx, s, listingID, now)
		if err != nil {
			return err
		}
		if err := s.listings.ReviewTx(ctx, tx, l.ID, model.ListingDraft, adminID, &notes, now); err != nil {
			return err
		}
		if err := s.approvals.DecideTx(ctx, tx, a.ID, model.ApprovalNeedsChanges, adminID, &notes, now); err != nil {
			return err
		}
		return audit(ctx, tx, s, model.AuditLog{
			UserID:      u64(adminID),
			Action:      model.AuditUpdate,
			TableName:   "property_listings",
			RecordID:    u64(l.ID),
			OldValues:   map[string]any{"status": string(l.Status)},
			NewValues:   map[string]any{"status": string(model.ListingDraft)},
			Description: "Changes requested on listing " + l.ListingID + ": " + notes,
			Severity:    model.SeverityLow,
		}, now)
	})
}

// FeatureListing sets or clears the featured flag of an active listing.  A
// nil until features the listing without an end date.
func (e *Engine) FeatureListing(ctx context.Context, adminID, listingID uint64, featured bool, until *time.Time) error {
	return e.run(ctx, "feature_listing", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		if _, err := e.requireAdmin(ctx, tx, s, adminID); err != nil {
			return err
		}
		if featured && until != nil && !until.After(now) {
			return invalid("featured_until", "must be in the future")
		}
		l, err := liveListing(ctx, tx, s, listingID)
		if err != nil {
			return err
		}
		if featured && l.Status != model.ListingActive {
			return badTransition("only active listings can be featured, %s is %s", l.ListingID, l.Status)
		}
		if !featured {
			until = nil
		}
		if err := s.listings.SetFeaturedTx(ctx, tx, l.ID, featured, until, now); err != nil {
			return err
		}
		return audit(ctx, tx, s, model.AuditLog{
			UserID:      u64(adminID),
			Action:      model.AuditUpdate,
			TableName:   "property_listings",
			RecordID:    u64(l.ID),
			OldValues:   map[string]any{"is_featured": l.IsFeatured},
			NewValues:   map[string]any{"is_featured": featured},
			Description: fmt.Sprintf("Listing %s featured=%t", l.ListingID, featured),
			Severity:    model.SeverityLow,
		}, now)
	})
}

// ImageInput describes an image attached to a listing.
type ImageInput struct {
	URL          string
	Caption      *string
	IsPrimary    bool
	DisplayOrder int
}

// AddListingImage attaches an image to a listing the actor may edit.
func (e *Engine) AddListingImage(ctx context.Context, actorID, listingID uint64, in ImageInput) (*model.PropertyImage, error) {
	if strings.TrimSpace(in.URL) == "" {
		return nil, invalid("image_url", "is required")
	}
	var img *model.PropertyImage
	err := e.run(ctx, "add_listing_image", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		img = nil
		now := e.clock()
		actor, err := activeActor(ctx, tx, s, actorID)
		if err != nil {
			return err
		}
		l, err := ownedListing(ctx, tx, s, actor, listingID)
		if err != nil {
			return err
		}
		i := &model.PropertyImage{
			PropertyID:   l.ID,
			ImageURL:     strings.TrimSpace(in.URL),
			Caption:      in.Caption,
			IsPrimary:    in.IsPrimary,
			DisplayOrder: in.DisplayOrder,
			CreatedAt:    now,
		}
		if err := s.images.CreateTx(ctx, tx, i); err != nil {
			return err
		}
		img = i
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// ViewInput describes one visit to a listing page.
type ViewInput struct {
	PropertyID       uint64
	UserID           *uint64
	SessionID        string
	IPAddress        string
	UserAgent        string
	Referrer         string
	ViewDuration     int
	ContactedAgent   bool
	AddedToFavorites bool
	ScheduledVisit   bool
}

// RecordPropertyView logs a visit to an active listing and returns the
// listing with its updated counter.
func (e *Engine) RecordPropertyView(ctx context.Context, in ViewInput) (*model.Listing, error) {
	var viewed *model.Listing
	err := e.run(ctx, "record_property_view", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		viewed = nil
		now := e.clock()
		l, err := liveListing(ctx, tx, s, in.PropertyID)
		if err != nil {
			return err
		}
		if l.Status != model.ListingActive {
			return fmt.Errorf("%w: listing %d is not public", ErrNotFound, in.PropertyID)
		}
		v := &model.PropertyView{
			PropertyID:       l.ID,
			UserID:           in.UserID,
			SessionID:        in.SessionID,
			IPAddress:        in.IPAddress,
			UserAgent:        in.UserAgent,
			Referrer:         in.Referrer,
			ViewDuration:     in.ViewDuration,
			ContactedAgent:   in.ContactedAgent,
			AddedToFavorites: in.AddedToFavorites,
			ScheduledVisit:   in.ScheduledVisit,
			ViewedAt:         now,
		}
		if err := s.views.CreateTx(ctx, tx, v); err != nil {
			return err
		}
		if err := s.listings.IncrementViewsTx(ctx, tx, l.ID); err != nil {
			return err
		}
		l.ViewsCount++
		viewed = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return viewed, nil
}

// ExpireFeatured clears the featured flag of listings past featured_until.
func (e *Engine) ExpireFeatured(ctx context.Context) (int64, error) {
	var n int64
	err := e.run(ctx, "expire_featured", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		var err error
		n, err = s.listings.ExpireFeaturedTx(ctx, tx, e.clock())
		return err
	})
	return n, err
}

// ExpireListings moves active listings published longer than maxAge ago to
// expired.
func (e *Engine) ExpireListings(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, invalid("max_age", "must be positive")
	}
	var n int64
	err := e.run(ctx, "expire_listings", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		var err error
		n, err = s.listings.ExpireActiveBeforeTx(ctx, tx, now.Add(-maxAge), now)
		return err
	})
	return n, err
}
