package workflow

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/iliyamo/property-listing-api/internal/model"
)

var (
	agentWelcomeEmail = template.Must(template.New("email").Parse(`Dear {{.Name}},

An agent account has been created for you.

Login email: {{.Email}}
Temporary password: {{.TempCredential}}

You will be asked to choose a new password when you first sign in.
`))
	agentWelcomeSMS = template.Must(template.New("sms").Parse(
		`Hi {{.Name}}, your agent account is ready. Login: {{.Email}} Temporary password: {{.TempCredential}}. Change it on first login.`))
)

type welcomeFields struct {
	Name           string
	Email          string
	TempCredential string
}

func render(t *template.Template, f welcomeFields) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, f); err != nil {
		return "", fmt.Errorf("render %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// AgentInput is an agent account provisioned by an admin.
type AgentInput struct {
	Name            string
	Email           string
	Phone           string
	TempCredential  string
	LicenseNumber   string
	AgencyName      *string
	CommissionRate  *float64
	ExperienceYears *int
	Specialization  []string
	Bio             *string
}

func (in AgentInput) validate() error {
	var c checker
	c.require(strings.TrimSpace(in.Name) != "", "name", "is required")
	c.require(validEmail(in.Email), "email", "must be a valid email address")
	c.require(strings.TrimSpace(in.Phone) != "", "phone", "is required")
	c.require(len(in.TempCredential) >= 8, "temp_password", "must be at least 8 characters")
	c.require(strings.TrimSpace(in.LicenseNumber) != "", "license_number", "is required")
	if in.CommissionRate != nil {
		c.require(*in.CommissionRate >= 0 && *in.CommissionRate <= 100, "commission_rate", "must be between 0 and 100")
	}
	if in.ExperienceYears != nil {
		c.require(*in.ExperienceYears >= 0, "experience_years", "must not be negative")
	}
	return c.err()
}

// AgentResult reports the outcome of AdminCreateAgent.  Error is set, and
// Success false, whenever the returned error is non-nil.
type AgentResult struct {
	AgentID uint64
	Success bool
	Error   string
}

func failedAgent(err error) (AgentResult, error) {
	return AgentResult{Success: false, Error: err.Error()}, err
}

// AdminCreateAgent provisions an agent account.  The agent starts pending
// verification; the welcome email and SMS are queued in the outbox with the
// temporary credential, and the creation is audited and recorded as an
// approved user verification.
func (e *Engine) AdminCreateAgent(ctx context.Context, adminID uint64, in AgentInput) (AgentResult, error) {
	if err := in.validate(); err != nil {
		return failedAgent(err)
	}
	if e.hash == nil {
		return failedAgent(errors.New("no credential hasher configured"))
	}
	hash, err := e.hash(in.TempCredential)
	if err != nil {
		return failedAgent(fmt.Errorf("derive credential: %w", err))
	}
	if len(hash) < model.MinCredentialLength {
		return failedAgent(invalid("temp_password", "hasher produced a short credential hash"))
	}

	var agentID uint64
	err = e.run(ctx, "admin_create_agent", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		agentID = 0
		now := e.clock()
		if _, err := e.requireAdmin(ctx, tx, s, adminID); err != nil {
			return err
		}
		existing, err := s.users.FindByEmailOrPhoneTx(ctx, tx, in.Email, in.Phone)
		switch {
		case err == nil:
			field := "phone"
			if strings.EqualFold(existing.Email, strings.TrimSpace(in.Email)) {
				field = "email"
			}
			return fmt.Errorf("%w: %s already registered", ErrDuplicateKey, field)
		case !errors.Is(err, ErrNotFound):
			return err
		}

		token, code, err := verificationSecrets()
		if err != nil {
			return err
		}
		license := strings.TrimSpace(in.LicenseNumber)
		agent := &model.User{
			UUID:                   uuid.NewString(),
			Name:                   strings.TrimSpace(in.Name),
			Email:                  in.Email,
			Phone:                  in.Phone,
			PasswordHash:           hash,
			Role:                   model.RoleAgent,
			Status:                 model.UserPendingVerification,
			EmailVerificationToken: &token,
			PhoneVerificationCode:  &code,
			Agent: model.AgentProfile{
				LicenseNumber:   &license,
				AgencyName:      in.AgencyName,
				CommissionRate:  in.CommissionRate,
				ExperienceYears: in.ExperienceYears,
				Specialization:  in.Specialization,
				Bio:             in.Bio,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.users.CreateTx(ctx, tx, agent); err != nil {
			return err
		}

		fields := welcomeFields{Name: agent.Name, Email: agent.Email, TempCredential: in.TempCredential}
		emailBody, err := render(agentWelcomeEmail, fields)
		if err != nil {
			return err
		}
		smsBody, err := render(agentWelcomeSMS, fields)
		if err != nil {
			return err
		}
		if err := s.notifications.CreateTx(ctx, tx, &model.AdminCreatedNotification{
			UserID:                agent.ID,
			CreatedBy:             adminID,
			TempPassword:          in.TempCredential,
			PasswordResetRequired: true,
			EmailContent:          emailBody,
			SMSContent:            smsBody,
			CreatedAt:             now,
		}); err != nil {
			return err
		}

		if err := audit(ctx, tx, s, model.AuditLog{
			UserID:    u64(adminID),
			Action:    model.AuditCreate,
			TableName: "users",
			RecordID:  u64(agent.ID),
			NewValues: map[string]any{
				"name":           agent.Name,
				"email":          agent.Email,
				"role":           string(model.RoleAgent),
				"license_number": license,
			},
			Description: "Agent account created by admin for " + agent.Email,
			Severity:    model.SeverityMedium,
		}, now); err != nil {
			return err
		}

		approval := &model.PendingApproval{
			Subject:     model.UserVerificationSubject{UserID: agent.ID},
			SubmittedBy: u64(adminID),
			SubmissionData: map[string]any{
				"name":           agent.Name,
				"email":          agent.Email,
				"license_number": license,
				"created_by":     "admin",
			},
			Status:    model.ApprovalApproved,
			Priority:  model.PriorityNormal,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.approvals.CreateTx(ctx, tx, approval); err != nil {
			return err
		}
		if err := s.approvals.DecideTx(ctx, tx, approval.ID, model.ApprovalApproved, adminID, nil, now); err != nil {
			return err
		}
		agentID = agent.ID
		return nil
	})
	if err != nil {
		return failedAgent(err)
	}
	return AgentResult{AgentID: agentID, Success: true}, nil
}

// ResetResult reports the outcome of AgentFirstLoginReset.
type ResetResult struct {
	Success bool
	Message string
}

// AgentFirstLoginReset replaces the temporary credential of an admin-created
// agent and activates the account.  It succeeds once per agent.
func (e *Engine) AgentFirstLoginReset(ctx context.Context, agentID uint64, newHash string) (ResetResult, error) {
	if len(newHash) < model.MinCredentialLength {
		err := invalid("new_password", "must be a full credential hash")
		return ResetResult{Message: err.Error()}, err
	}
	err := e.run(ctx, "agent_first_login_reset", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		agent, err := liveUser(ctx, tx, s, agentID, true)
		if err != nil {
			return err
		}
		if agent.Role != model.RoleAgent {
			return notAuthorized("user %d is not an agent", agentID)
		}
		if _, err := s.notifications.FindResetRequiredTx(ctx, tx, agentID, true); err != nil {
			if errors.Is(err, ErrNotFound) {
				return badTransition("no pending password reset for agent %d", agentID)
			}
			return err
		}
		if err := s.users.CompleteFirstLoginTx(ctx, tx, agentID, newHash, now); err != nil {
			return err
		}
		if err := s.notifications.ClearResetRequiredTx(ctx, tx, agentID); err != nil {
			return err
		}
		return audit(ctx, tx, s, model.AuditLog{
			UserID:      u64(agentID),
			Action:      model.AuditUpdate,
			TableName:   "users",
			RecordID:    u64(agentID),
			OldValues:   map[string]any{"status": string(agent.Status)},
			NewValues:   map[string]any{"status": string(model.UserActive), "password_reset_required": false},
			Description: "Agent completed first login password reset",
			Severity:    model.SeverityLow,
		}, now)
	})
	if err != nil {
		return ResetResult{Message: err.Error()}, err
	}
	return ResetResult{Success: true, Message: "Password updated; account activated"}, nil
}
