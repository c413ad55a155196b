// Package testutil provides a migrated SQLite database and row fixtures for
// package tests.  Fixtures write raw SQL so that repository tests can use
// them without an import cycle.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/property-listing-api/internal/database"
	"github.com/iliyamo/property-listing-api/internal/model"
)

// Hash60 is a syntactically valid bcrypt-length credential hash.
var Hash60 = "$2a$10$" + strings.Repeat("x", 53)

var seq atomic.Uint64

// NewDB opens a fresh SQLite database under t.TempDir and applies the schema.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, "sqlite"))
	return db
}

// UserSpec describes a user fixture.  Zero fields get defaults: a unique
// email and phone, role user, status active.
type UserSpec struct {
	Name           string
	Email          string
	Phone          string
	Role           model.Role
	Status         model.UserStatus
	IsBuyer        bool
	IsSeller       bool
	EmailVerified  bool
	PhoneVerified  bool
	License        string
	Specialization string
	Rating         float64
	TotalSales     int
	PreferredAgent *uint64
	Deleted        bool
}

// CreateUser inserts a user row and returns its id.
func CreateUser(t testing.TB, db *sql.DB, s UserSpec) uint64 {
	t.Helper()
	n := seq.Add(1)
	if s.Name == "" {
		s.Name = fmt.Sprintf("User %d", n)
	}
	if s.Email == "" {
		s.Email = fmt.Sprintf("user%d@example.test", n)
	}
	if s.Phone == "" {
		s.Phone = fmt.Sprintf("+9170000%05d", n)
	}
	if s.Role == "" {
		s.Role = model.RoleUser
	}
	if s.Status == "" {
		s.Status = model.UserActive
	}
	if s.Role == model.RoleAgent && s.License == "" {
		s.License = fmt.Sprintf("LIC-%d", n)
	}
	now := time.Now().UTC()
	var emailAt, phoneAt, deletedAt, license, spec any
	if s.EmailVerified {
		emailAt = now
	}
	if s.PhoneVerified {
		phoneAt = now
	}
	if s.Deleted {
		deletedAt = now
	}
	if s.License != "" {
		license = s.License
	}
	if s.Specialization != "" {
		spec = s.Specialization
	}
	var preferred any
	if s.PreferredAgent != nil {
		preferred = *s.PreferredAgent
	}
	res, err := db.Exec(`INSERT INTO users (uuid, name, email, phone, password_hash, role, status,
			email_verified_at, phone_verified_at, is_buyer, is_seller, preferred_agent_id,
			license_number, specialization, agent_rating, total_sales, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), s.Name, strings.ToLower(s.Email), s.Phone, Hash60, string(s.Role), string(s.Status),
		emailAt, phoneAt, boolInt(s.IsBuyer), boolInt(s.IsSeller), preferred,
		license, spec, s.Rating, s.TotalSales, now, now, deletedAt)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}

// CreateAdmin inserts an active admin.
func CreateAdmin(t testing.TB, db *sql.DB) uint64 {
	t.Helper()
	return CreateUser(t, db, UserSpec{Role: model.RoleAdmin, EmailVerified: true, PhoneVerified: true})
}

// CreateAgent inserts an active agent with the given rating and sales.
func CreateAgent(t testing.TB, db *sql.DB, rating float64, sales int) uint64 {
	t.Helper()
	return CreateUser(t, db, UserSpec{Role: model.RoleAgent, Rating: rating, TotalSales: sales, EmailVerified: true, PhoneVerified: true})
}

// CreateBuyer inserts an active buyer.
func CreateBuyer(t testing.TB, db *sql.DB) uint64 {
	t.Helper()
	return CreateUser(t, db, UserSpec{IsBuyer: true})
}

// ListingSpec describes a listing fixture.  Zero fields get defaults: an
// active apartment in Kochi priced at 1,000,000.
type ListingSpec struct {
	OwnerID      uint64
	Title        string
	City         string
	PropertyType model.PropertyType
	Price        float64
	Area         float64
	Status       model.ListingStatus
	Featured     bool
	CreatedAt    time.Time
	Deleted      bool
}

// CreateListing inserts a listing row and returns its id.
func CreateListing(t testing.TB, db *sql.DB, s ListingSpec) uint64 {
	t.Helper()
	n := seq.Add(1)
	if s.Title == "" {
		s.Title = fmt.Sprintf("Listing %d", n)
	}
	if s.City == "" {
		s.City = "Kochi"
	}
	if s.PropertyType == "" {
		s.PropertyType = model.PropertyApartment
	}
	if s.Price == 0 {
		s.Price = 1_000_000
	}
	if s.Status == "" {
		s.Status = model.ListingActive
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	var deletedAt any
	if s.Deleted {
		deletedAt = s.CreatedAt
	}
	res, err := db.Exec(`INSERT INTO property_listings (listing_id, owner_id, title, description, property_type,
			price, area, city, status, is_featured, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fmt.Sprintf("PROP-T%07d", n), s.OwnerID, s.Title, "fixture", string(s.PropertyType),
		s.Price, s.Area, s.City, string(s.Status), boolInt(s.Featured), s.CreatedAt, s.CreatedAt, deletedAt)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}

// SetSetting overwrites a system setting.
func SetSetting(t testing.TB, db *sql.DB, key, value string) {
	t.Helper()
	_, err := db.Exec(`UPDATE system_settings SET setting_value = ?, updated_at = ? WHERE setting_key = ?`,
		value, time.Now().UTC(), key)
	require.NoError(t, err)
}

// Count runs SELECT COUNT(*) FROM table WHERE where.
func Count(t testing.TB, db *sql.DB, table, where string, args ...any) int {
	t.Helper()
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	require.NoError(t, db.QueryRow(q, args...).Scan(&n))
	return n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
