package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/repository"
	"github.com/iliyamo/property-listing-api/internal/workflow"
)

// userParam reads :id and checks the caller may act for that user.
func userParam(c echo.Context) (uint64, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return 0, err
	}
	return id, selfOrAdmin(c, id)
}

// Recommendations ranks active listings for the user.
func (h *Handler) Recommendations(c echo.Context) error {
	id, err := userParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	recs, err := h.eng.GetRecommendations(c.Request().Context(), id, queryInt(c, "limit", 0))
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]recommendationView, 0, len(recs))
	for i := range recs {
		out = append(out, recommendationView{Score: recs[i].Score, Listing: viewListing(&recs[i].Listing)})
	}
	return ok(c, http.StatusOK, out)
}

// Dashboard returns the activity summary of the user.
func (h *Handler) Dashboard(c echo.Context) error {
	id, err := userParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.readCtx(c)
	defer cancel()
	db, err := h.db()
	if err != nil {
		return h.fail(c, err)
	}
	d, err := repository.NewProjectionRepo(db, h.d).UserDashboard(ctx, id)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, d)
}

// UpdatePreferences replaces the buyer preferences of the user.
func (h *Handler) UpdatePreferences(c echo.Context) error {
	id, err := userParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req preferencesReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	prefs, err := req.model()
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.UpdateBuyerPreferences(c.Request().Context(), id, prefs); err != nil {
		return h.fail(c, err)
	}
	return done(c, "preferences updated")
}

// SetPreferredAgent switches the user's agent.
func (h *Handler) SetPreferredAgent(c echo.Context) error {
	id, err := userParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req struct {
		AgentID uint64 `json:"agent_id"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if req.AgentID == 0 {
		return h.fail(c, &workflow.ValidationError{Fields: map[string]string{"agent_id": "is required"}})
	}
	if err := h.eng.SetPreferredAgent(c.Request().Context(), id, req.AgentID); err != nil {
		return h.fail(c, err)
	}
	return done(c, "preferred agent updated")
}

// ListFavorites returns the user's favorites.
func (h *Handler) ListFavorites(c echo.Context) error {
	id, err := userParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.readCtx(c)
	defer cancel()
	db, err := h.db()
	if err != nil {
		return h.fail(c, err)
	}
	favs, err := repository.NewFavoriteRepo(db).ListByUser(ctx, id)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, mapSlice(favs, viewFavorite))
}

// AddFavorite saves a listing for the user.
func (h *Handler) AddFavorite(c echo.Context) error {
	id, err := userParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	propertyID, err := paramID(c, "propertyId")
	if err != nil {
		return h.fail(c, err)
	}
	var req struct {
		Notes                *string `json:"notes"`
		NotifyOnPriceChange  *bool   `json:"notify_on_price_change"`
		NotifyOnStatusChange *bool   `json:"notify_on_status_change"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	f, err := h.eng.AddFavorite(c.Request().Context(), id, propertyID, workflow.FavoriteInput{
		Notes:                trimmed(req.Notes),
		NotifyOnPriceChange:  req.NotifyOnPriceChange,
		NotifyOnStatusChange: req.NotifyOnStatusChange,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, viewFavorite(f))
}

// RemoveFavorite drops a saved listing.
func (h *Handler) RemoveFavorite(c echo.Context) error {
	id, err := userParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	propertyID, err := paramID(c, "propertyId")
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.RemoveFavorite(c.Request().Context(), id, propertyID); err != nil {
		return h.fail(c, err)
	}
	return done(c, "favorite removed")
}

// ListAssignments returns the user's agent assignments.
func (h *Handler) ListAssignments(c echo.Context) error {
	id, err := userParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.readCtx(c)
	defer cancel()
	db, err := h.db()
	if err != nil {
		return h.fail(c, err)
	}
	list, err := repository.NewAssignmentRepo(db, h.d).ListByUser(ctx, id)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, mapSlice(list, viewAssignment))
}

// CloseAssignment ends an assignment with optional rating and feedback.
func (h *Handler) CloseAssignment(c echo.Context) error {
	id, err := userParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	assignmentID, err := paramID(c, "assignmentId")
	if err != nil {
		return h.fail(c, err)
	}
	var req struct {
		Status   string  `json:"status"`
		Rating   *int    `json:"rating"`
		Feedback *string `json:"feedback"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	status := model.AssignmentCompleted
	if req.Status != "" {
		if status, err = model.ParseAssignmentStatus(req.Status); err != nil {
			return h.fail(c, &workflow.ValidationError{Fields: map[string]string{"status": err.Error()}})
		}
	}
	if err := h.eng.CloseAssignment(c.Request().Context(), id, assignmentID, status, req.Rating, trimmed(req.Feedback)); err != nil {
		return h.fail(c, err)
	}
	return done(c, "assignment closed")
}
