package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/testutil"
)

func withTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()
	fn(tx)
	require.NoError(t, tx.Commit())
}

func fptr(v float64) *float64 { return &v }

func TestRecommendScoresAndOrders(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{IsSeller: true})
	buyer := testutil.CreateBuyer(t, db)

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	l1 := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, City: "Kochi", PropertyType: model.PropertyApartment, Price: 3_000_000, Featured: true, CreatedAt: base})
	l2 := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, City: "Kochi", PropertyType: model.PropertyVilla, Price: 6_000_000, CreatedAt: base.Add(time.Hour)})
	l3 := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, City: "Kollam", PropertyType: model.PropertyApartment, Price: 2_500_000, CreatedAt: base.Add(2 * time.Hour)})
	testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, City: "Kochi", Status: model.ListingDraft})
	testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, City: "Kochi", Deleted: true})

	types, err := model.NewPropertyTypeSet(model.PropertyApartment)
	require.NoError(t, err)
	prefs := model.BuyerPreferences{
		PropertyTypes: types,
		Cities:        []string{"kochi"},
		BudgetMin:     fptr(2_000_000),
		BudgetMax:     fptr(5_000_000),
	}
	repo := NewListingRepo(db, SQLite)
	withTx(t, db, func(tx *sql.Tx) {
		recs, err := repo.RecommendTx(ctx, tx, buyer, prefs, 10)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, []uint64{l1, l3, l2}, []uint64{recs[0].Listing.ID, recs[1].Listing.ID, recs[2].Listing.ID})
		assert.Equal(t, []int{80, 50, 20}, []int{recs[0].Score, recs[1].Score, recs[2].Score})
	})

	_, err = db.Exec(`INSERT INTO user_favorites (user_id, property_id, created_at) VALUES (?, ?, ?)`, buyer, l1, time.Now().UTC())
	require.NoError(t, err)
	withTx(t, db, func(tx *sql.Tx) {
		recs, err := repo.RecommendTx(ctx, tx, buyer, prefs, 10)
		require.NoError(t, err)
		for _, r := range recs {
			assert.NotEqual(t, l1, r.Listing.ID, "favorited listings are excluded")
		}
	})
}

func TestRecommendWithoutPreferences(t *testing.T) {
	db := testutil.NewDB(t)
	owner := testutil.CreateUser(t, db, testutil.UserSpec{IsSeller: true})
	buyer := testutil.CreateBuyer(t, db)
	featured := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, Featured: true})
	testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner})

	withTx(t, db, func(tx *sql.Tx) {
		recs, err := NewListingRepo(db, SQLite).RecommendTx(context.Background(), tx, buyer, model.BuyerPreferences{}, 1)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		// Missing budget bounds mean 0..unbounded, so every listing earns 30.
		assert.Equal(t, featured, recs[0].Listing.ID)
		assert.Equal(t, 40, recs[0].Score)
	})
}

func TestListingCreateComputesPricePerArea(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{IsSeller: true})
	repo := NewListingRepo(db, SQLite)
	now := time.Now().UTC()

	l := &model.Listing{
		ListingID: "PROP-ABCDEF12", OwnerID: owner, Title: "Flat", Description: "d",
		PropertyType: model.PropertyApartment, ListingType: model.ListingForSale,
		Price: 5_000_000, Area: 1000, City: "Kochi", Furnishing: model.Unfurnished,
		Status: model.ListingDraft, Features: map[string]any{"pool": true},
		CreatedAt: now, UpdatedAt: now,
	}
	withTx(t, db, func(tx *sql.Tx) { require.NoError(t, repo.CreateTx(ctx, tx, l)) })

	got, err := repo.GetByID(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PricePerArea)
	assert.InDelta(t, 5000.0, *got.PricePerArea, 0.001)
	assert.Equal(t, true, got.Features["pool"])

	got.Area = 0
	withTx(t, db, func(tx *sql.Tx) { require.NoError(t, repo.UpdateDetailsTx(ctx, tx, got, now)) })
	again, err := repo.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Nil(t, again.PricePerArea)
}

func TestFavoritesCounterFloorsAtZero(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{IsSeller: true})
	id := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner})
	repo := NewListingRepo(db, SQLite)

	withTx(t, db, func(tx *sql.Tx) {
		floored, err := repo.AdjustFavoritesTx(ctx, tx, id, -1)
		require.NoError(t, err)
		assert.True(t, floored)
		l, err := repo.GetByIDTx(ctx, tx, id, true)
		require.NoError(t, err)
		assert.Equal(t, 0, l.FavoritesCount)

		floored, err = repo.AdjustFavoritesTx(ctx, tx, id, 2)
		require.NoError(t, err)
		assert.False(t, floored)

		_, err = repo.AdjustFavoritesTx(ctx, tx, id+100, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFavoriteDrift(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{IsSeller: true})
	buyer := testutil.CreateBuyer(t, db)
	ok := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner})
	drifted := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner})
	_, err := db.Exec(`UPDATE property_listings SET favorites_count = 7 WHERE id = ?`, drifted)
	require.NoError(t, err)

	favs := NewFavoriteRepo(db)
	withTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, favs.CreateTx(ctx, tx, &model.Favorite{UserID: buyer, PropertyID: ok, CreatedAt: time.Now().UTC()}))
		_, err := NewListingRepo(db, SQLite).AdjustFavoritesTx(ctx, tx, ok, 1)
		require.NoError(t, err)
	})
	withTx(t, db, func(tx *sql.Tx) {
		err := favs.CreateTx(ctx, tx, &model.Favorite{UserID: buyer, PropertyID: ok, CreatedAt: time.Now().UTC()})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})
	withTx(t, db, func(tx *sql.Tx) {
		drift, err := favs.DriftTx(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, []FavoriteDrift{{PropertyID: drifted, Stored: 7, Actual: 0}}, drift)
	})
}

func TestUserCreateEnforcesConstraints(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewUserRepo(db, SQLite)
	now := time.Now().UTC()

	short := &model.User{UUID: "u1", Name: "A", Email: "a@x.test", Phone: "1", PasswordHash: "short",
		Role: model.RoleUser, Status: model.UserActive, CreatedAt: now, UpdatedAt: now}
	tx, err := db.Begin()
	require.NoError(t, err)
	assert.ErrorIs(t, repo.CreateTx(ctx, tx, short), ErrCheckViolation)
	require.NoError(t, tx.Rollback())

	agent := &model.User{UUID: "u2", Name: "B", Email: "b@x.test", Phone: "2", PasswordHash: testutil.Hash60,
		Role: model.RoleAgent, Status: model.UserActive, CreatedAt: now, UpdatedAt: now}
	tx, err = db.Begin()
	require.NoError(t, err)
	assert.ErrorIs(t, repo.CreateTx(ctx, tx, agent), ErrCheckViolation, "agents need a license")
	require.NoError(t, tx.Rollback())

	ok := &model.User{UUID: "u3", Name: "C", Email: " C@X.test ", Phone: "3", PasswordHash: testutil.Hash60,
		Role: model.RoleUser, Status: model.UserActive, IsBuyer: true, CreatedAt: now, UpdatedAt: now,
		Preferences: model.BuyerPreferences{Cities: []string{"Kochi", "kochi", "Kollam"}}}
	withTx(t, db, func(tx *sql.Tx) { require.NoError(t, repo.CreateTx(ctx, tx, ok)) })
	withTx(t, db, func(tx *sql.Tx) {
		got, err := repo.GetByIDTx(ctx, tx, ok.ID, false)
		require.NoError(t, err)
		assert.Equal(t, "c@x.test", got.Email)
		assert.Equal(t, []string{"Kochi", "Kollam"}, got.Preferences.Cities)
	})

	dup := &model.User{UUID: "u4", Name: "D", Email: "c@x.test", Phone: "4", PasswordHash: testutil.Hash60,
		Role: model.RoleUser, Status: model.UserActive, CreatedAt: now, UpdatedAt: now}
	tx, err = db.Begin()
	require.NoError(t, err)
	err = repo.CreateTx(ctx, tx, dup)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, "email", DuplicateField(err))
	require.NoError(t, tx.Rollback())
}

func TestPickAutoAssignAgent(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewUserRepo(db, SQLite)

	testutil.CreateUser(t, db, testutil.UserSpec{Role: model.RoleAgent, Rating: 5, Specialization: "commercial"})
	testutil.CreateUser(t, db, testutil.UserSpec{Role: model.RoleAgent, Rating: 4.9, Status: model.UserSuspended})
	first := testutil.CreateAgent(t, db, 4.5, 10)
	testutil.CreateAgent(t, db, 4.5, 10)
	testutil.CreateUser(t, db, testutil.UserSpec{Role: model.RoleAgent, Rating: 4.5, TotalSales: 3, Specialization: "Residential,Luxury"})

	withTx(t, db, func(tx *sql.Tx) {
		got, err := repo.PickAutoAssignAgentTx(ctx, tx, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, first, *got, "ties break on id")
	})
}

func TestPickAutoAssignAgentNone(t *testing.T) {
	db := testutil.NewDB(t)
	withTx(t, db, func(tx *sql.Tx) {
		got, err := NewUserRepo(db, SQLite).PickAutoAssignAgentTx(context.Background(), tx, 0)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestMaxTicketSuffix(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewEnquiryRepo(db, SQLite)
	now := time.Now().UTC()

	withTx(t, db, func(tx *sql.Tx) {
		n, err := repo.MaxTicketSuffixTx(ctx, tx, "20260102")
		require.NoError(t, err)
		assert.Zero(t, n)
		for _, ticket := range []string{"TKT-20260102-000007", "TKT-20260102-000012", "TKT-20260103-000099"} {
			e := &model.Enquiry{TicketNumber: ticket, Name: "n", Email: "e@x.test", Phone: "1", Requirements: "r", CreatedAt: now, UpdatedAt: now}
			require.NoError(t, repo.CreateTx(ctx, tx, e))
		}
		n, err = repo.MaxTicketSuffixTx(ctx, tx, "20260102")
		require.NoError(t, err)
		assert.Equal(t, uint64(12), n)
	})
}

func TestSettingUpsert(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewSettingRepo(db)
	now := time.Now().UTC()

	withTx(t, db, func(tx *sql.Tx) {
		s, err := repo.GetTx(ctx, tx, model.SettingAutoAssignAgents)
		require.NoError(t, err)
		assert.True(t, s.Bool())

		require.NoError(t, repo.UpsertTx(ctx, tx, &model.SystemSetting{Key: model.SettingAutoAssignAgents, Value: "false", UpdatedAt: now}))
		require.NoError(t, repo.UpsertTx(ctx, tx, &model.SystemSetting{Key: "listing_max_age_days", Value: "90", UpdatedAt: now}))

		s, err = repo.GetTx(ctx, tx, model.SettingAutoAssignAgents)
		require.NoError(t, err)
		assert.False(t, s.Bool())
		s, err = repo.GetTx(ctx, tx, "listing_max_age_days")
		require.NoError(t, err)
		assert.Equal(t, "90", s.Value)

		_, err = repo.GetTx(ctx, tx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAuditListFilters(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewAuditRepo(db)
	admin := testutil.CreateAdmin(t, db)
	rec := uint64(42)
	base := time.Now().UTC()

	withTx(t, db, func(tx *sql.Tx) {
		for i, sev := range []model.Severity{model.SeverityLow, model.SeverityCritical, model.SeverityCritical} {
			e := &model.AuditLog{UserID: &admin, Action: model.AuditReconcile, TableName: "property_listings", RecordID: &rec,
				NewValues: map[string]any{"i": i}, Description: "x", Severity: sev, CreatedAt: base.Add(time.Duration(i) * time.Second)}
			require.NoError(t, repo.CreateTx(ctx, tx, e))
		}
	})

	items, total, err := repo.List(ctx, AuditFilter{Severity: model.SeverityCritical}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 1)
	assert.Equal(t, float64(2), items[0].NewValues["i"], "newest first")

	items, total, err = repo.List(ctx, AuditFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 3)
}

func TestAssignmentSingleActivePerPair(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := NewAssignmentRepo(db, SQLite)
	buyer := testutil.CreateBuyer(t, db)
	agent := testutil.CreateAgent(t, db, 4, 1)
	now := time.Now().UTC()

	first := &model.Assignment{UserID: buyer, AgentID: agent, Type: model.AssignmentManual, AssignedAt: now, UpdatedAt: now}
	withTx(t, db, func(tx *sql.Tx) { require.NoError(t, repo.CreateTx(ctx, tx, first)) })

	tx, err := db.Begin()
	require.NoError(t, err)
	err = repo.CreateTx(ctx, tx, &model.Assignment{UserID: buyer, AgentID: agent, Type: model.AssignmentManual, AssignedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, ErrDuplicateKey)
	require.NoError(t, tx.Rollback())

	withTx(t, db, func(tx *sql.Tx) {
		rating := 5
		require.NoError(t, repo.CloseTx(ctx, tx, first.ID, model.AssignmentCompleted, &rating, nil, now))
		require.NoError(t, repo.CreateTx(ctx, tx, &model.Assignment{UserID: buyer, AgentID: agent, Type: model.AssignmentManual, AssignedAt: now, UpdatedAt: now}))
		n, err := repo.CountActiveTx(ctx, tx, buyer)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestProjections(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, testutil.UserSpec{Name: "Owner", IsSeller: true})
	testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, Title: "Sea view flat", City: "Kochi"})
	testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, City: "Kollam", Featured: true})
	testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, Status: model.ListingSold})
	pending := testutil.CreateListing(t, db, testutil.ListingSpec{OwnerID: owner, Title: "Pending villa", Status: model.ListingPendingReview})

	repo := NewProjectionRepo(db, SQLite)
	rows, total, err := repo.ActiveProperties(ctx, PropertySearchQuery{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].IsFeatured)
	assert.Equal(t, "Owner", rows[0].OwnerName)

	rows, total, err = repo.ActiveProperties(ctx, PropertySearchQuery{Text: "sea VIEW", Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "Sea view flat", rows[0].Title)

	now := time.Now().UTC()
	approvals := NewApprovalRepo(db, SQLite)
	withTx(t, db, func(tx *sql.Tx) {
		require.NoError(t, approvals.CreateTx(ctx, tx, &model.PendingApproval{Subject: model.ListingSubject{ListingID: pending}, SubmittedBy: &owner, CreatedAt: now, UpdatedAt: now}))
		require.NoError(t, approvals.CreateTx(ctx, tx, &model.PendingApproval{Subject: model.UserVerificationSubject{UserID: owner}, Priority: model.PriorityUrgent, CreatedAt: now, UpdatedAt: now}))
	})
	summary, total, err := repo.PendingApprovalsSummary(ctx, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, summary, 2)
	assert.Equal(t, "User: Owner", summary[0].ItemTitle)
	assert.Equal(t, "Pending villa", summary[1].ItemTitle)

	dash, err := repo.UserDashboard(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 4, dash.PropertiesListed)
	assert.Equal(t, 2, dash.ActiveListings)
	assert.Equal(t, 1, dash.SoldProperties)
	assert.Nil(t, dash.PreferredAgentName)
}
