package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/repository"
	"github.com/iliyamo/property-listing-api/internal/workflow"
)

type enquiryReq struct {
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	Phone         string  `json:"phone"`
	Requirements  string  `json:"requirements"`
	PropertyID    *uint64 `json:"property_id"`
	CreateAccount bool    `json:"create_account"`
	Password      string  `json:"password"`
	Source        string  `json:"source"`
	PageURL       *string `json:"page_url"`
}

// CreateEnquiry accepts a lead from the public form, optionally opening a
// buyer account.
func (h *Handler) CreateEnquiry(c echo.Context) error {
	var req enquiryReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	in := workflow.EnquiryInput{
		Name:          strings.TrimSpace(req.Name),
		Email:         strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:         strings.TrimSpace(req.Phone),
		Requirements:  strings.TrimSpace(req.Requirements),
		PropertyID:    req.PropertyID,
		CreateAccount: req.CreateAccount,
		Source:        strings.TrimSpace(req.Source),
		PageURL:       trimmed(req.PageURL),
	}
	if in.Source == "" {
		in.Source = "website"
	}
	if ua := c.Request().UserAgent(); ua != "" {
		in.UserAgent = &ua
	}
	if req.CreateAccount && req.Password != "" {
		hash, err := h.hashPassword("password", req.Password)
		if err != nil {
			return h.fail(c, err)
		}
		in.CredentialHash = hash
	}
	res, err := h.eng.HandleEnquiry(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, echo.Map{
		"enquiry_id":      res.EnquiryID,
		"ticket_number":   res.TicketNumber,
		"user_id":         res.UserID,
		"account_created": res.AccountCreated,
	})
}

// AssignedEnquiries lists the caller's enquiries (agent).
func (h *Handler) AssignedEnquiries(c echo.Context) error {
	ctx, cancel := h.readCtx(c)
	defer cancel()
	db, err := h.db()
	if err != nil {
		return h.fail(c, err)
	}
	list, err := repository.NewEnquiryRepo(db, h.d).ListAssigned(ctx, actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, mapSlice(list, viewEnquiry))
}

// EnquiryNotes lists the notes of an enquiry assigned to the caller.
func (h *Handler) EnquiryNotes(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := h.readCtx(c)
	defer cancel()
	db, err := h.db()
	if err != nil {
		return h.fail(c, err)
	}
	assigned, err := repository.NewEnquiryRepo(db, h.d).ListAssigned(ctx, actor(c))
	if err != nil {
		return h.fail(c, err)
	}
	mine := false
	for _, e := range assigned {
		mine = mine || e.ID == id
	}
	if !mine {
		return h.fail(c, workflow.ErrAuthorization)
	}
	notes, err := repository.NewNoteRepo(db).List(ctx, id)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, mapSlice(notes, viewNote))
}

// AddEnquiryNote records a note and, on the first one, the first response
// time.
func (h *Handler) AddEnquiryNote(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req struct {
		Note         string     `json:"note"`
		NoteType     string     `json:"note_type"`
		Method       string     `json:"communication_method"`
		NextFollowUp *time.Time `json:"next_follow_up_date"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	in := workflow.NoteInput{Note: req.Note, Type: model.NoteInternal, NextFollowUp: req.NextFollowUp}
	if req.NoteType != "" {
		if in.Type, err = model.ParseNoteType(req.NoteType); err != nil {
			return h.fail(c, &workflow.ValidationError{Fields: map[string]string{"note_type": err.Error()}})
		}
	}
	if req.Method != "" {
		m, err := model.ParseCommunicationMethod(req.Method)
		if err != nil {
			return h.fail(c, &workflow.ValidationError{Fields: map[string]string{"communication_method": err.Error()}})
		}
		in.Method = &m
	}
	n, err := h.eng.AddEnquiryNote(c.Request().Context(), actor(c), id, in)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, viewNote(n))
}

// UpdateEnquiry applies an agent's partial update.
func (h *Handler) UpdateEnquiry(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req struct {
		Status             *string `json:"status"`
		Priority           *string `json:"priority"`
		ResolutionNotes    *string `json:"resolution_notes"`
		SatisfactionRating *int    `json:"customer_satisfaction_rating"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	p := workflow.EnquiryUpdate{ResolutionNotes: req.ResolutionNotes, SatisfactionRating: req.SatisfactionRating}
	if req.Status != nil {
		st, err := model.ParseEnquiryStatus(*req.Status)
		if err != nil {
			return h.fail(c, &workflow.ValidationError{Fields: map[string]string{"status": err.Error()}})
		}
		p.Status = &st
	}
	if req.Priority != nil {
		pr, err := model.ParsePriority(*req.Priority)
		if err != nil {
			return h.fail(c, &workflow.ValidationError{Fields: map[string]string{"priority": err.Error()}})
		}
		p.Priority = &pr
	}
	e, err := h.eng.UpdateEnquiry(c.Request().Context(), actor(c), id, p)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, viewEnquiry(e))
}

// RecordAssignmentActivity adds showings and meetings to an assignment
// (agent).
func (h *Handler) RecordAssignmentActivity(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req struct {
		PropertiesShown   int `json:"properties_shown"`
		MeetingsConducted int `json:"meetings_conducted"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.RecordAssignmentActivity(c.Request().Context(), actor(c), id, req.PropertiesShown, req.MeetingsConducted); err != nil {
		return h.fail(c, err)
	}
	return done(c, "activity recorded")
}

// AssignEnquiry hands a new enquiry to an agent (admin).
func (h *Handler) AssignEnquiry(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	var req struct {
		AgentID uint64 `json:"agent_id"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.AssignEnquiry(c.Request().Context(), actor(c), id, req.AgentID); err != nil {
		return h.fail(c, err)
	}
	return done(c, "enquiry assigned")
}

// CloseEnquiry closes a resolved enquiry (admin).
func (h *Handler) CloseEnquiry(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.eng.CloseEnquiry(c.Request().Context(), actor(c), id); err != nil {
		return h.fail(c, err)
	}
	return done(c, "enquiry closed")
}
