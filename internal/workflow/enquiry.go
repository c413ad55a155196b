package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/repository"
)

// EnquiryInput is a lead submitted through the public form.
type EnquiryInput struct {
	Name           string
	Email          string
	Phone          string
	Requirements   string
	PropertyID     *uint64
	CreateAccount  bool
	CredentialHash string
	Source         string
	PageURL        *string
	UserAgent      *string
}

// EnquiryResult is returned by HandleEnquiry.
type EnquiryResult struct {
	EnquiryID      uint64
	UserID         *uint64
	TicketNumber   string
	AccountCreated bool
}

func (in EnquiryInput) validate() error {
	var c checker
	c.require(strings.TrimSpace(in.Name) != "", "name", "is required")
	c.require(validEmail(in.Email), "email", "must be a valid email address")
	c.require(strings.TrimSpace(in.Phone) != "", "phone", "is required")
	c.require(strings.TrimSpace(in.Requirements) != "", "requirements", "is required")
	if in.CreateAccount && in.CredentialHash != "" {
		c.require(len(in.CredentialHash) >= model.MinCredentialLength, "credential_hash", "must be a full credential hash")
	}
	return c.err()
}

// HandleEnquiry records a lead.  With CreateAccount set and no user sharing
// the email or phone, a pending buyer account is created and bound to the
// enquiry; otherwise the enquiry is bound to the first matching user, if any.
func (e *Engine) HandleEnquiry(ctx context.Context, in EnquiryInput) (*EnquiryResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var res *EnquiryResult
	err := e.run(ctx, "handle_enquiry", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		res = nil
		now := e.clock()

		// Lock the listing first so concurrent leads on it serialize.
		if in.PropertyID != nil {
			if _, err := liveListing(ctx, tx, s, *in.PropertyID); err != nil {
				return err
			}
		}

		existing, err := s.users.FindByEmailOrPhoneTx(ctx, tx, in.Email, in.Phone)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		out := &EnquiryResult{}
		switch {
		case existing != nil:
			out.UserID = u64(existing.ID)
		case in.CreateAccount && in.CredentialHash != "":
			token, code, err := verificationSecrets()
			if err != nil {
				return err
			}
			u := &model.User{
				UUID:                   uuid.NewString(),
				Name:                   strings.TrimSpace(in.Name),
				Email:                  in.Email,
				Phone:                  in.Phone,
				PasswordHash:           in.CredentialHash,
				Role:                   model.RoleUser,
				Status:                 model.UserPendingVerification,
				EmailVerificationToken: &token,
				PhoneVerificationCode:  &code,
				IsBuyer:                true,
				CreatedAt:              now,
				UpdatedAt:              now,
			}
			if err := s.users.CreateTx(ctx, tx, u); err != nil {
				return err
			}
			out.UserID = u64(u.ID)
			out.AccountCreated = true
		}

		en := &model.Enquiry{
			UserID:                      out.UserID,
			Name:                        strings.TrimSpace(in.Name),
			Email:                       strings.ToLower(strings.TrimSpace(in.Email)),
			Phone:                       strings.TrimSpace(in.Phone),
			Requirements:                strings.TrimSpace(in.Requirements),
			PropertyID:                  in.PropertyID,
			Source:                      in.Source,
			PageURL:                     in.PageURL,
			UserAgent:                   in.UserAgent,
			AccountCreationOffered:      in.CreateAccount,
			AccountCreatedDuringEnquiry: out.AccountCreated,
			CreatedAt:                   now,
			UpdatedAt:                   now,
		}
		if err := e.insertEnquiry(ctx, tx, s, en, now); err != nil {
			return err
		}
		if err := countInquiry(ctx, tx, s, in.PropertyID); err != nil {
			return err
		}
		out.EnquiryID = en.ID
		out.TicketNumber = en.TicketNumber
		res = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// NoteInput is a note an agent appends to an enquiry.
type NoteInput struct {
	Note         string
	Type         model.NoteType
	Method       *model.CommunicationMethod
	NextFollowUp *time.Time
}

// assignedEnquiry loads and locks an enquiry and checks agentID is its
// assignee.
func (e *Engine) assignedEnquiry(ctx context.Context, tx *sql.Tx, s *stores, agentID, enquiryID uint64) (*model.Enquiry, error) {
	if _, err := e.requireRole(ctx, tx, s, agentID, model.RoleAgent); err != nil {
		return nil, err
	}
	en, err := s.enquiries.GetByIDTx(ctx, tx, enquiryID, true)
	if err != nil {
		return nil, err
	}
	if en.AssignedTo == nil || *en.AssignedTo != agentID {
		return nil, notAuthorized("agent %d is not assigned to enquiry %d", agentID, enquiryID)
	}
	return en, nil
}

// AddEnquiryNote appends a note to an enquiry assigned to agentID.  The first
// note stamps the enquiry's first response time.
func (e *Engine) AddEnquiryNote(ctx context.Context, agentID, enquiryID uint64, in NoteInput) (*model.EnquiryNote, error) {
	if strings.TrimSpace(in.Note) == "" {
		return nil, invalid("note", "is required")
	}
	if in.Type == "" {
		in.Type = model.NoteInternal
	}
	var note *model.EnquiryNote
	err := e.run(ctx, "add_enquiry_note", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		note = nil
		now := e.clock()
		en, err := e.assignedEnquiry(ctx, tx, s, agentID, enquiryID)
		if err != nil {
			return err
		}
		n := &model.EnquiryNote{
			EnquiryID:        en.ID,
			AuthorID:         agentID,
			Note:             strings.TrimSpace(in.Note),
			Type:             in.Type,
			Method:           in.Method,
			NextFollowUpDate: in.NextFollowUp,
			CreatedAt:        now,
		}
		if err := s.notes.CreateTx(ctx, tx, n); err != nil {
			return err
		}
		if err := markFirstResponse(ctx, tx, s, en.ID, now); err != nil {
			return err
		}
		note = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// EnquiryUpdate is the patch an assigned agent may apply.  Nil fields are
// left unchanged.
type EnquiryUpdate struct {
	Status             *model.EnquiryStatus
	Priority           *model.Priority
	ResolutionNotes    *string
	SatisfactionRating *int
}

func (p EnquiryUpdate) validate() error {
	var c checker
	c.require(p.Status != nil || p.Priority != nil || p.ResolutionNotes != nil || p.SatisfactionRating != nil,
		"patch", "at least one field is required")
	if p.Status != nil {
		c.require(p.Status.AgentSettable(), "status", "must be one of assigned, in_progress, resolved")
	}
	if p.SatisfactionRating != nil {
		c.require(*p.SatisfactionRating >= 1 && *p.SatisfactionRating <= 5, "customer_satisfaction_rating", "must be between 1 and 5")
	}
	return c.err()
}

// UpdateEnquiry applies an agent's patch.  Moving to resolved stamps
// resolved_at; closed enquiries are immutable.
func (e *Engine) UpdateEnquiry(ctx context.Context, agentID, enquiryID uint64, p EnquiryUpdate) (*model.Enquiry, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	var updated *model.Enquiry
	err := e.run(ctx, "update_enquiry", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		updated = nil
		now := e.clock()
		en, err := e.assignedEnquiry(ctx, tx, s, agentID, enquiryID)
		if err != nil {
			return err
		}
		if en.Status == model.EnquiryClosed {
			return badTransition("enquiry %s is closed", en.TicketNumber)
		}
		patch := repository.EnquiryPatch{
			Status:             p.Status,
			Priority:           p.Priority,
			ResolutionNotes:    p.ResolutionNotes,
			SatisfactionRating: p.SatisfactionRating,
		}
		if p.Status != nil && *p.Status == model.EnquiryResolved && en.Status != model.EnquiryResolved {
			patch.ResolvedAt = &now
		}
		if err := s.enquiries.ApplyPatchTx(ctx, tx, en.ID, patch, now); err != nil {
			return err
		}
		updated, err = s.enquiries.GetByIDTx(ctx, tx, en.ID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AssignEnquiry routes a new or assigned enquiry to an active agent.
func (e *Engine) AssignEnquiry(ctx context.Context, adminID, enquiryID, agentID uint64) error {
	return e.run(ctx, "assign_enquiry", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		if _, err := e.requireAdmin(ctx, tx, s, adminID); err != nil {
			return err
		}
		agent, err := liveUser(ctx, tx, s, agentID, false)
		if err != nil {
			return err
		}
		if agent.Role != model.RoleAgent || agent.Status != model.UserActive {
			return invalid("agent_id", "must reference an active agent")
		}
		en, err := s.enquiries.GetByIDTx(ctx, tx, enquiryID, true)
		if err != nil {
			return err
		}
		if en.Status != model.EnquiryNew && en.Status != model.EnquiryAssigned {
			return badTransition("enquiry %s is %s", en.TicketNumber, en.Status)
		}
		if err := s.enquiries.AssignTx(ctx, tx, en.ID, agentID, now); err != nil {
			return err
		}
		old := map[string]any{"status": string(en.Status)}
		if en.AssignedTo != nil {
			old["assigned_to"] = *en.AssignedTo
		}
		return audit(ctx, tx, s, model.AuditLog{
			UserID:      u64(adminID),
			Action:      model.AuditAssign,
			TableName:   "enquiries",
			RecordID:    u64(en.ID),
			OldValues:   old,
			NewValues:   map[string]any{"status": string(model.EnquiryAssigned), "assigned_to": agentID},
			Description: fmt.Sprintf("Enquiry %s assigned to agent %d", en.TicketNumber, agentID),
			Severity:    model.SeverityLow,
		}, now)
	})
}

// CloseEnquiry closes a resolved enquiry.
func (e *Engine) CloseEnquiry(ctx context.Context, adminID, enquiryID uint64) error {
	return e.run(ctx, "close_enquiry", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		if _, err := e.requireAdmin(ctx, tx, s, adminID); err != nil {
			return err
		}
		en, err := s.enquiries.GetByIDTx(ctx, tx, enquiryID, true)
		if err != nil {
			return err
		}
		if en.Status != model.EnquiryResolved {
			return badTransition("enquiry %s is %s, not resolved", en.TicketNumber, en.Status)
		}
		if err := s.enquiries.SetStatusTx(ctx, tx, en.ID, model.EnquiryClosed, now); err != nil {
			return err
		}
		return audit(ctx, tx, s, model.AuditLog{
			UserID:      u64(adminID),
			Action:      model.AuditUpdate,
			TableName:   "enquiries",
			RecordID:    u64(en.ID),
			OldValues:   map[string]any{"status": string(en.Status)},
			NewValues:   map[string]any{"status": string(model.EnquiryClosed)},
			Description: "Enquiry " + en.TicketNumber + " closed",
			Severity:    model.SeverityLow,
		}, now)
	})
}
