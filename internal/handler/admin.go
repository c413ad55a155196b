package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/repository"
	"github.com/iliyamo/property-listing-api/internal/workflow"
)

type reviewReq struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// ApproveListing publishes a listing under review.
func (h *Handler) ApproveListing(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req reviewReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.ApproveListing(c.Request().Context(), id, actor(c), strings.TrimSpace(req.Notes)); err != nil {
		return h.fail(c, err)
	}
	return done(c, "listing approved")
}

// RejectListing rejects a listing under review with a reason.
func (h *Handler) RejectListing(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req reviewReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.RejectListing(c.Request().Context(), id, actor(c), strings.TrimSpace(req.Reason)); err != nil {
		return h.fail(c, err)
	}
	return done(c, "listing rejected")
}

// RequestListingChanges sends a listing back to its owner as a draft.
func (h *Handler) RequestListingChanges(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req reviewReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.RequestListingChanges(c.Request().Context(), id, actor(c), strings.TrimSpace(req.Notes)); err != nil {
		return h.fail(c, err)
	}
	return done(c, "changes requested")
}

type agentReq struct {
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Phone           string   `json:"phone"`
	TempPassword    string   `json:"temp_password"`
	LicenseNumber   string   `json:"license_number"`
	AgencyName      *string  `json:"agency_name"`
	CommissionRate  *float64 `json:"commission_rate"`
	ExperienceYears *int     `json:"experience_years"`
	Specialization  []string `json:"specialization"`
	Bio             *string  `json:"bio"`
}

// CreateAgent provisions an agent account with a temporary credential.
func (h *Handler) CreateAgent(c echo.Context) error {
	var req agentReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.eng.AdminCreateAgent(c.Request().Context(), actor(c), workflow.AgentInput{
		Name:            strings.TrimSpace(req.Name),
		Email:           strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:           strings.TrimSpace(req.Phone),
		TempCredential:  req.TempPassword,
		LicenseNumber:   strings.TrimSpace(req.LicenseNumber),
		AgencyName:      trimmed(req.AgencyName),
		CommissionRate:  req.CommissionRate,
		ExperienceYears: req.ExperienceYears,
		Specialization:  req.Specialization,
		Bio:             trimmed(req.Bio),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, echo.Map{"agent_id": res.AgentID})
}

// PendingApprovals lists open approvals, most urgent first.
func (h *Handler) PendingApprovals(c echo.Context) error {
	page, limit := pageParams(c)
	ctx, cancel := h.readCtx(c)
	defer cancel()
	db, err := h.db()
	if err != nil {
		return h.fail(c, err)
	}
	rows, total, err := repository.NewProjectionRepo(db, h.d).PendingApprovalsSummary(ctx, page, limit)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, paginate(rows, page, limit, total))
}

// PendingNotifications lists admin-created agents with undelivered
// credentials.
func (h *Handler) PendingNotifications(c echo.Context) error {
	ctx, cancel := h.readCtx(c)
	defer cancel()
	db, err := h.db()
	if err != nil {
		return h.fail(c, err)
	}
	rows, err := repository.NewProjectionRepo(db, h.d).AgentsPendingNotifications(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, rows)
}

// AuditLogs pages through the audit trail, filtered by table_name,
// record_id, action, severity and user_id.
func (h *Handler) AuditLogs(c echo.Context) error {
	page, limit := pageParams(c)
	f := repository.AuditFilter{
		TableName: c.QueryParam("table_name"),
		Action:    model.AuditAction(strings.ToLower(c.QueryParam("action"))),
	}
	if s := c.QueryParam("severity"); s != "" {
		sev, err := model.ParseSeverity(s)
		if err != nil {
			return h.fail(c, &workflow.ValidationError{Fields: map[string]string{"severity": err.Error()}})
		}
		f.Severity = sev
	}
	for name, dst := range map[string]**uint64{"record_id": &f.RecordID, "user_id": &f.UserID} {
		if v := c.QueryParam(name); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return h.fail(c, &workflow.ValidationError{Fields: map[string]string{name: "must be a positive integer"}})
			}
			*dst = &n
		}
	}
	ctx, cancel := h.readCtx(c)
	defer cancel()
	db, err := h.db()
	if err != nil {
		return h.fail(c, err)
	}
	logs, total, err := repository.NewAuditRepo(db).List(ctx, f, limit, (page-1)*limit)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, paginate(mapSlice(logs, viewAudit), page, limit, int64(total)))
}

// SetSetting writes a system setting.
func (h *Handler) SetSetting(c echo.Context) error {
	var req struct {
		Value       string  `json:"value"`
		Description *string `json:"description"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.SetSetting(c.Request().Context(), actor(c), c.Param("key"), req.Value, trimmed(req.Description)); err != nil {
		return h.fail(c, err)
	}
	return done(c, "setting updated")
}

// ReconcileFavorites recomputes favorites counters on demand.
func (h *Handler) ReconcileFavorites(c echo.Context) error {
	id := actor(c)
	fixed, err := h.eng.ReconcileFavoriteCounts(c.Request().Context(), &id)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, echo.Map{"repaired": fixed})
}
