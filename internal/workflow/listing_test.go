package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/testutil"
)

func listingInput() ListingInput {
	return ListingInput{
		Title:        "Sea View Apartment",
		Description:  "Two bedrooms near the marina",
		PropertyType: model.PropertyApartment,
		Price:        3_000_000,
		Area:         1200,
		City:         "Kochi",
		Location:     "Marine Drive",
		Bedrooms:     2,
		Bathrooms:    2,
	}
}

func TestCreateListingDraft(t *testing.T) {
	e, db := newEngine(t)
	owner := testutil.CreateUser(t, db, testutil.UserSpec{IsSeller: true})

	l, err := e.CreateListing(context.Background(), owner, listingInput())
	require.NoError(t, err)
	assert.Equal(t, model.ListingDraft, l.Status)
	assert.Regexp(t, `^PROP-[0-9A-F]{8}$`, l.ListingID)
	require.NotNil(t, l.Slug)
	assert.Regexp(t, `^sea-view-apartment-prop-[0-9a-f]{8}$`, *l.Slug)
	require.NotNil(t, l.PricePerArea)
	assert.InDelta(t, 2500, *l.PricePerArea, 0.001)
	assert.Equal(t, model.Unfurnished, l.Furnishing)
	assert.Equal(t, 0, testutil.Count(t, db, "pending_approvals", ""), "drafts are not queued")
}

func TestCreateListingValidation(t *testing.T) {
	e, db := newEngine(t)
	owner := testutil.CreateUser(t, db, testutil.UserSpec{})
	in := listingInput()
	in.PropertyType = "castle"
	in.Price = 0
	bad := "Not A Slug"
	in.Slug = &bad

	_, err := e.CreateListing(context.Background(), owner, in)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "property_type")
	assert.Contains(t, ve.Fields, "price")
	assert.Contains(t, ve.Fields, "slug")
}

func TestListingApprovalFlow(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{IsSeller: true})
	admin := testutil.CreateAdmin(t, db)

	in := listingInput()
	in.Submit = true
	l, err := e.CreateListing(ctx, owner, in)
	require.NoError(t, err)
	assert.Equal(t, model.ListingPendingReview, l.Status)
	require.Equal(t, 1, testutil.Count(t, db, "pending_approvals",
		"approval_type = 'property_listing' AND record_id = ? AND status = 'pending' AND submitted_by = ?", l.ID, owner))

	auditBefore := testutil.Count(t, db, "audit_logs", "")
	require.NoError(t, e.ApproveListing(ctx, l.ID, admin, "looks good"))

	var status string
	var reviewedBy uint64
	var notes string
	var approvedAt *time.Time
	require.NoError(t, db.QueryRow(`SELECT status, reviewed_by, review_notes, approved_at FROM property_listings WHERE id = ?`, l.ID).
		Scan(&status, &reviewedBy, &notes, &approvedAt))
	assert.Equal(t, "active", status)
	assert.Equal(t, admin, reviewedBy)
	assert.Equal(t, "looks good", notes)
	require.NotNil(t, approvedAt)

	assert.Equal(t, 1, testutil.Count(t, db, "pending_approvals",
		"record_id = ? AND status = 'approved' AND approved_by = ? AND admin_notes = 'looks good'", l.ID, admin))
	assert.Equal(t, auditBefore+1, testutil.Count(t, db, "audit_logs", ""))
	assert.Equal(t, 1, testutil.Count(t, db, "audit_logs",
		"action = 'approve' AND record_id = ? AND user_id = ? AND severity = 'low' AND description LIKE '%looks good%'", l.ID, admin))

	err = e.ApproveListing(ctx, l.ID, admin, "")
	assert.ErrorIs(t, err, ErrStateTransition, "already active")
}

func TestApproveListingRequiresActiveAdmin(t *testing.T) {
	e, db := newEngine(t)
	owner := testutil.CreateUser(t, db, testutil.UserSpec{})
	listing := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, Status: model.ListingPendingReview})
	suspended := testutil.CreateUser(t, db, testutil.UserSpec{Role: model.RoleAdmin, Status: model.UserSuspended})

	for _, actor := range []uint64{owner, suspended, 4242} {
		err := e.ApproveListing(context.Background(), listing, actor, "")
		assert.ErrorIs(t, err, ErrAuthorization)
	}
	assert.Equal(t, 1, testutil.Count(t, db, "property_listings", "status = 'pending_review'"))
	assert.Equal(t, 0, testutil.Count(t, db, "audit_logs", ""))
}

func TestApproveListingWithoutQueuedEntry(t *testing.T) {
	e, db := newEngine(t)
	owner := testutil.CreateUser(t, db, testutil.UserSpec{})
	admin := testutil.CreateAdmin(t, db)
	// Inserted directly, so no review entry exists yet.
	listing := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, Status: model.ListingPendingReview})

	require.NoError(t, e.ApproveListing(context.Background(), listing, admin, ""))
	assert.Equal(t, 1, testutil.Count(t, db, "pending_approvals", "record_id = ? AND status = 'approved'", listing))
}

func TestRejectAndResubmit(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{})
	admin := testutil.CreateAdmin(t, db)
	in := listingInput()
	in.Submit = true
	l, err := e.CreateListing(ctx, owner, in)
	require.NoError(t, err)

	var ve *ValidationError
	require.ErrorAs(t, e.RejectListing(ctx, l.ID, admin, " "), &ve)
	require.NoError(t, e.RejectListing(ctx, l.ID, admin, "blurry photos"))
	assert.Equal(t, 1, testutil.Count(t, db, "property_listings", "id = ? AND status = 'rejected' AND rejection_reason = 'blurry photos'", l.ID))
	assert.Equal(t, 1, testutil.Count(t, db, "pending_approvals", "record_id = ? AND status = 'rejected' AND rejection_reason = 'blurry photos'", l.ID))
	assert.Equal(t, 1, testutil.Count(t, db, "audit_logs", "action = 'reject' AND severity = 'medium'"))

	require.NoError(t, e.SubmitListing(ctx, owner, l.ID))
	assert.Equal(t, 1, testutil.Count(t, db, "pending_approvals", "record_id = ? AND status = 'pending'", l.ID))

	require.NoError(t, e.RequestListingChanges(ctx, l.ID, admin, "add floor plan"))
	assert.Equal(t, 1, testutil.Count(t, db, "property_listings", "id = ? AND status = 'draft'", l.ID))
	assert.Equal(t, 1, testutil.Count(t, db, "pending_approvals", "record_id = ? AND status = 'needs_changes'", l.ID))

	other := testutil.CreateUser(t, db, testutil.UserSpec{})
	assert.ErrorIs(t, e.SubmitListing(ctx, other, l.ID), ErrAuthorization)
	require.NoError(t, e.SubmitListing(ctx, owner, l.ID))
	assert.ErrorIs(t, e.SubmitListing(ctx, owner, l.ID), ErrStateTransition)
}

func TestChangeListingStatus(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{})
	admin := testutil.CreateAdmin(t, db)
	draft := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, Status: model.ListingDraft})
	active := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner})

	assert.ErrorIs(t, e.ChangeListingStatus(ctx, owner, draft, model.ListingSold), ErrStateTransition)
	var ve *ValidationError
	assert.ErrorAs(t, e.ChangeListingStatus(ctx, owner, active, model.ListingDraft), &ve)

	require.NoError(t, e.ChangeListingStatus(ctx, owner, active, model.ListingSold))
	assert.Equal(t, 0, testutil.Count(t, db, "audit_logs", ""), "owner changes are not audited")

	other := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner})
	require.NoError(t, e.ChangeListingStatus(ctx, admin, other, model.ListingWithdrawn))
	assert.Equal(t, 1, testutil.Count(t, db, "audit_logs", "record_id = ? AND severity = 'medium'", other))
}

func TestDeleteListingClosesReview(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{})
	in := listingInput()
	in.Submit = true
	l, err := e.CreateListing(ctx, owner, in)
	require.NoError(t, err)

	require.NoError(t, e.DeleteListing(ctx, owner, l.ID))
	assert.Equal(t, 1, testutil.Count(t, db, "property_listings", "id = ? AND deleted_at IS NOT NULL", l.ID))
	assert.Equal(t, 0, testutil.Count(t, db, "pending_approvals", "status IN ('pending', 'under_review')"))
	assert.ErrorIs(t, e.DeleteListing(ctx, owner, l.ID), ErrNotFound)
}

func TestUpdateListingRecomputesPricePerArea(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{})
	l, err := e.CreateListing(ctx, owner, listingInput())
	require.NoError(t, err)

	in := listingInput()
	in.Price = 4_000_000
	in.Area = 0
	updated, err := e.UpdateListing(ctx, owner, l.ID, in)
	require.NoError(t, err)
	assert.Nil(t, updated.PricePerArea)
	assert.Equal(t, 1, testutil.Count(t, db, "property_listings", "id = ? AND price_per_area IS NULL AND price = 4000000", l.ID))

	stranger := testutil.CreateUser(t, db, testutil.UserSpec{})
	_, err = e.UpdateListing(ctx, stranger, l.ID, in)
	assert.ErrorIs(t, err, ErrAuthorization)
}

func TestFeatureListingAndExpiry(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{})
	admin := testutil.CreateAdmin(t, db)
	listing := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner})

	past := testNow.Add(-time.Hour)
	var ve *ValidationError
	require.ErrorAs(t, e.FeatureListing(ctx, admin, listing, true, &past), &ve)

	until := testNow.Add(time.Hour)
	require.NoError(t, e.FeatureListing(ctx, admin, listing, true, &until))
	assert.Equal(t, 1, testutil.Count(t, db, "property_listings", "id = ? AND is_featured = 1", listing))

	n, err := e.ExpireFeatured(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	later := New(dbSource{db}, e.d, Options{Now: func() time.Time { return testNow.Add(2 * time.Hour) }, Logger: quietLogger()})
	n, err = later.ExpireFeatured(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, testutil.Count(t, db, "property_listings", "is_featured = 1"))
}

func TestExpireListings(t *testing.T) {
	e, db := newEngine(t)
	owner := testutil.CreateUser(t, db, testutil.UserSpec{})
	old := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, CreatedAt: testNow.AddDate(0, 0, -100)})
	fresh := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, CreatedAt: testNow.AddDate(0, 0, -10)})

	n, err := e.ExpireListings(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, testutil.Count(t, db, "property_listings", "id = ? AND status = 'expired'", old))
	assert.Equal(t, 1, testutil.Count(t, db, "property_listings", "id = ? AND status = 'active'", fresh))
}

func TestRecordPropertyView(t *testing.T) {
	e, db := newEngine(t)
	owner := testutil.CreateUser(t, db, testutil.UserSpec{})
	listing := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner})
	draft := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, Status: model.ListingDraft})

	l, err := e.RecordPropertyView(context.Background(), ViewInput{PropertyID: listing, SessionID: "s1", ContactedAgent: true})
	require.NoError(t, err)
	assert.Equal(t, 1, l.ViewsCount)
	assert.Equal(t, 1, testutil.Count(t, db, "property_views", "property_id = ? AND contacted_agent = 1", listing))

	_, err = e.RecordPropertyView(context.Background(), ViewInput{PropertyID: draft})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddListingImageDemotesPrimary(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{})
	listing := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner})

	_, err := e.AddListingImage(ctx, owner, listing, ImageInput{URL: "https://img.test/1.jpg", IsPrimary: true})
	require.NoError(t, err)
	second, err := e.AddListingImage(ctx, owner, listing, ImageInput{URL: "https://img.test/2.jpg", IsPrimary: true, DisplayOrder: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, testutil.Count(t, db, "property_images", "property_id = ? AND is_primary = 1", listing))
	assert.Equal(t, 1, testutil.Count(t, db, "property_images", "id = ? AND is_primary = 1", second.ID))
}
