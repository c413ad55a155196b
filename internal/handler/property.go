package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/property-listing-api/internal/middleware"
	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/repository"
	"github.com/iliyamo/property-listing-api/internal/workflow"
)

type listingReq struct {
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	PropertyType    string         `json:"property_type"`
	ListingType     string         `json:"listing_type"`
	Price           float64        `json:"price"`
	Area            float64        `json:"area"`
	City            string         `json:"city"`
	Location        string         `json:"location"`
	Latitude        *float64       `json:"latitude"`
	Longitude       *float64       `json:"longitude"`
	Bedrooms        int            `json:"bedrooms"`
	Bathrooms       int            `json:"bathrooms"`
	ParkingSpaces   int            `json:"parking_spaces"`
	Furnishing      string         `json:"furnishing"`
	Features        map[string]any `json:"features"`
	Slug            *string        `json:"slug"`
	AssignedAgentID *uint64        `json:"assigned_agent_id"`
	Submit          bool           `json:"submit"`
}

func (r listingReq) input() workflow.ListingInput {
	furnishing := strings.ToLower(strings.TrimSpace(r.Furnishing))
	if furnishing == "" {
		furnishing = string(model.Unfurnished)
	}
	listingType := strings.ToLower(strings.TrimSpace(r.ListingType))
	if listingType == "" {
		listingType = string(model.ListingForSale)
	}
	return workflow.ListingInput{
		Title:           strings.TrimSpace(r.Title),
		Description:     r.Description,
		PropertyType:    model.PropertyType(strings.ToLower(strings.TrimSpace(r.PropertyType))),
		ListingType:     model.ListingType(listingType),
		Price:           r.Price,
		Area:            r.Area,
		City:            strings.TrimSpace(r.City),
		Location:        strings.TrimSpace(r.Location),
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		Bedrooms:        r.Bedrooms,
		Bathrooms:       r.Bathrooms,
		ParkingSpaces:   r.ParkingSpaces,
		Furnishing:      model.Furnishing(furnishing),
		Features:        r.Features,
		Slug:            trimmed(r.Slug),
		AssignedAgentID: r.AssignedAgentID,
		Submit:          r.Submit,
	}
}

// ListProperties serves the public search over active listings.
func (h *Handler) ListProperties(c echo.Context) error {
	page, limit := pageParams(c)
	q := repository.PropertySearchQuery{
		Text:         strings.TrimSpace(c.QueryParam("q")),
		City:         strings.TrimSpace(c.QueryParam("city")),
		PropertyType: strings.ToLower(c.QueryParam("property_type")),
		ListingType:  strings.ToLower(c.QueryParam("listing_type")),
		MinPrice:     queryFloat(c, "min_price"),
		MaxPrice:     queryFloat(c, "max_price"),
		MinBedrooms:  queryInt(c, "min_bedrooms", 0),
		FeaturedOnly: queryBool(c, "featured"),
		Page:         page,
		PageSize:     limit,
	}
	ctx, cancel := h.readCtx(c)
	defer cancel()
	db, err := h.db()
	if err != nil {
		return h.fail(c, err)
	}
	rows, total, err := repository.NewProjectionRepo(db, h.d).ActiveProperties(ctx, q)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, paginate(rows, page, limit, total))
}

// GetProperty returns an active listing with its images and records the
// visit.
func (h *Handler) GetProperty(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	in := workflow.ViewInput{
		PropertyID: id,
		SessionID:  c.Request().Header.Get("X-Session-ID"),
		IPAddress:  c.RealIP(),
		UserAgent:  c.Request().UserAgent(),
		Referrer:   c.Request().Referer(),
	}
	if uid, ok := middleware.UserID(c); ok {
		in.UserID = &uid
	}
	l, err := h.eng.RecordPropertyView(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.readCtx(c)
	defer cancel()
	db, err := h.db()
	if err != nil {
		return h.fail(c, err)
	}
	images, err := repository.NewImageRepo(db).ListByProperty(ctx, l.ID)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, echo.Map{
		"listing": viewListing(l),
		"images":  mapSlice(images, viewImage),
	})
}

// CreateProperty creates a listing owned by the caller.
func (h *Handler) CreateProperty(c echo.Context) error {
	var req listingReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	l, err := h.eng.CreateListing(c.Request().Context(), actor(c), req.input())
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, viewListing(l))
}

// UpdateProperty replaces the editable details of a listing.
func (h *Handler) UpdateProperty(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req listingReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	l, err := h.eng.UpdateListing(c.Request().Context(), actor(c), id, req.input())
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, viewListing(l))
}

// SubmitProperty sends a draft or rejected listing for review.
func (h *Handler) SubmitProperty(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.SubmitListing(c.Request().Context(), actor(c), id); err != nil {
		return h.fail(c, err)
	}
	return done(c, "listing submitted for review")
}

// ChangePropertyStatus moves an active listing to a closing status.
func (h *Handler) ChangePropertyStatus(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	to, err := model.ParseListingStatus(req.Status)
	if err != nil {
		return h.fail(c, &workflow.ValidationError{Fields: map[string]string{"status": err.Error()}})
	}
	if err := h.eng.ChangeListingStatus(c.Request().Context(), actor(c), id, to); err != nil {
		return h.fail(c, err)
	}
	return done(c, "listing status updated")
}

// DeleteProperty soft deletes a listing.
func (h *Handler) DeleteProperty(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.DeleteListing(c.Request().Context(), actor(c), id); err != nil {
		return h.fail(c, err)
	}
	return done(c, "listing deleted")
}

// AddPropertyImage attaches an image URL to a listing.
func (h *Handler) AddPropertyImage(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req struct {
		ImageURL     string  `json:"image_url"`
		Caption      *string `json:"caption"`
		IsPrimary    bool    `json:"is_primary"`
		DisplayOrder int     `json:"display_order"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	img, err := h.eng.AddListingImage(c.Request().Context(), actor(c), id, workflow.ImageInput{
		URL:          req.ImageURL,
		Caption:      trimmed(req.Caption),
		IsPrimary:    req.IsPrimary,
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, viewImage(img))
}

// FeatureProperty sets or clears the featured flag (admin).
func (h *Handler) FeatureProperty(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req struct {
		Featured bool       `json:"featured"`
		Until    *time.Time `json:"featured_until"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.FeatureListing(c.Request().Context(), actor(c), id, req.Featured, req.Until); err != nil {
		return h.fail(c, err)
	}
	return done(c, "listing feature flag updated")
}
