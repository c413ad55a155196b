package model

import (
	"fmt"
	"strings"
	"time"
)

// PropertyType is the closed set of listing types.
type PropertyType string

const (
	PropertyApartment  PropertyType = "apartment"
	PropertyVilla      PropertyType = "villa"
	PropertyHouse      PropertyType = "house"
	PropertyPlot       PropertyType = "plot"
	PropertyCommercial PropertyType = "commercial"
	PropertyOffice     PropertyType = "office"
	PropertyShop       PropertyType = "shop"
	PropertyWarehouse  PropertyType = "warehouse"
	PropertyPenthouse  PropertyType = "penthouse"
	PropertyStudio     PropertyType = "studio"
)

// PropertyTypes lists every property type in bit order.  The index of a type
// is its bit position in PropertyTypeSet, so new values must be appended.
var PropertyTypes = []PropertyType{
	PropertyApartment, PropertyVilla, PropertyHouse, PropertyPlot, PropertyCommercial,
	PropertyOffice, PropertyShop, PropertyWarehouse, PropertyPenthouse, PropertyStudio,
}

// ParsePropertyType converts a raw value into a PropertyType.
func ParsePropertyType(s string) (PropertyType, error) {
	v := PropertyType(strings.ToLower(strings.TrimSpace(s)))
	if v.bit() < 0 {
		return "", fmt.Errorf("invalid property type %q", s)
	}
	return v, nil
}

func (t PropertyType) bit() int {
	for i, v := range PropertyTypes {
		if v == t {
			return i
		}
	}
	return -1
}

// PropertyTypeSet is a packed set of property types.
type PropertyTypeSet uint16

// NewPropertyTypeSet packs the given types.
func NewPropertyTypeSet(types ...PropertyType) (PropertyTypeSet, error) {
	var s PropertyTypeSet
	for _, t := range types {
		b := t.bit()
		if b < 0 {
			return 0, fmt.Errorf("invalid property type %q", t)
		}
		s |= 1 << uint(b)
	}
	return s, nil
}

// Has reports whether t is in the set.
func (s PropertyTypeSet) Has(t PropertyType) bool {
	b := t.bit()
	return b >= 0 && s&(1<<uint(b)) != 0
}

// Types returns the members in declaration order.
func (s PropertyTypeSet) Types() []PropertyType {
	out := []PropertyType{}
	for _, t := range PropertyTypes {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// ListingStatus is the workflow state of a property listing.
type ListingStatus string

const (
	ListingDraft         ListingStatus = "draft"
	ListingPendingReview ListingStatus = "pending_review"
	ListingApproved      ListingStatus = "approved"
	ListingActive        ListingStatus = "active"
	ListingSold          ListingStatus = "sold"
	ListingRented        ListingStatus = "rented"
	ListingWithdrawn     ListingStatus = "withdrawn"
	ListingExpired       ListingStatus = "expired"
	ListingRejected      ListingStatus = "rejected"
)

// ParseListingStatus converts a raw value into a ListingStatus.
func ParseListingStatus(s string) (ListingStatus, error) {
	switch st := ListingStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case ListingDraft, ListingPendingReview, ListingApproved, ListingActive, ListingSold,
		ListingRented, ListingWithdrawn, ListingExpired, ListingRejected:
		return st, nil
	}
	return "", fmt.Errorf("invalid listing status %q", s)
}

// listingTransitions holds the allowed moves of the listing state machine.
var listingTransitions = map[ListingStatus][]ListingStatus{
	ListingDraft:         {ListingPendingReview, ListingWithdrawn},
	ListingPendingReview: {ListingApproved, ListingActive, ListingRejected, ListingDraft, ListingWithdrawn},
	ListingApproved:      {ListingActive, ListingWithdrawn},
	ListingActive:        {ListingSold, ListingRented, ListingWithdrawn, ListingExpired},
	ListingRejected:      {ListingPendingReview, ListingWithdrawn},
	ListingExpired:       {ListingPendingReview, ListingWithdrawn},
}

// CanTransition reports whether a listing may move from one state to another.
func (s ListingStatus) CanTransition(to ListingStatus) bool {
	for _, v := range listingTransitions[s] {
		if v == to {
			return true
		}
	}
	return false
}

// Furnishing describes how a property is furnished.
type Furnishing string

const (
	Unfurnished    Furnishing = "unfurnished"
	SemiFurnished  Furnishing = "semi_furnished"
	FullyFurnished Furnishing = "fully_furnished"
)

// ParseFurnishing converts a raw value into a Furnishing.
func ParseFurnishing(s string) (Furnishing, error) {
	switch f := Furnishing(strings.ToLower(strings.TrimSpace(s))); f {
	case Unfurnished, SemiFurnished, FullyFurnished:
		return f, nil
	}
	return "", fmt.Errorf("invalid furnishing %q", s)
}

// ListingType distinguishes sale from rental listings.
type ListingType string

const (
	ListingForSale ListingType = "sale"
	ListingForRent ListingType = "rent"
)

// ParseListingType converts a raw value into a ListingType.
func ParseListingType(s string) (ListingType, error) {
	switch t := ListingType(strings.ToLower(strings.TrimSpace(s))); t {
	case ListingForSale, ListingForRent:
		return t, nil
	}
	return "", fmt.Errorf("invalid listing type %q", s)
}

// Listing mirrors the property_listings table.
type Listing struct {
	ID              uint64
	ListingID       string
	OwnerID         uint64
	AssignedAgentID *uint64
	Title           string
	Description     string
	PropertyType    PropertyType
	ListingType     ListingType
	Price           float64
	Area            float64
	PricePerArea    *float64
	City            string
	Location        string
	Latitude        *float64
	Longitude       *float64
	Bedrooms        int
	Bathrooms       int
	ParkingSpaces   int
	Furnishing      Furnishing
	Features        map[string]any
	Status          ListingStatus
	ReviewedBy      *uint64
	ReviewedAt      *time.Time
	ApprovedAt      *time.Time
	ReviewNotes     *string
	RejectionReason *string
	IsFeatured      bool
	FeaturedUntil   *time.Time
	ViewsCount      int
	InquiriesCount  int
	FavoritesCount  int
	Slug            *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// IsDeleted reports whether the listing has been soft deleted.
func (l Listing) IsDeleted() bool { return l.DeletedAt != nil }

// ComputePricePerArea returns price/area, or nil when area is not positive.
func ComputePricePerArea(price, area float64) *float64 {
	if area <= 0 {
		return nil
	}
	v := price / area
	return &v
}

// PropertyImage mirrors property_images.
type PropertyImage struct {
	ID           uint64
	PropertyID   uint64
	ImageURL     string
	Caption      *string
	IsPrimary    bool
	DisplayOrder int
	CreatedAt    time.Time
}

// PropertyView mirrors property_views.  The boolean flags record the
// interest the visitor showed during the session.
type PropertyView struct {
	ID               uint64
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
	ViewedAt         time.Time
}

// Recommendation is a listing with its preference score.
type Recommendation struct {
	Listing Listing
	Score   int
}
