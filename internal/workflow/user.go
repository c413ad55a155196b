package workflow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/repository"
)

// verificationSecrets returns a 32-character email token and a 6-digit
// phone code.
func verificationSecrets() (token, code string, err error) {
	token = strings.ReplaceAll(uuid.NewString(), "-", "")
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", "", fmt.Errorf("generate verification code: %w", err)
	}
	return token, fmt.Sprintf("%06d", n.Int64()), nil
}

// requireAgent checks id references a live, active agent.  Failures are
// reported against field.
func requireAgent(ctx context.Context, tx *sql.Tx, s *stores, id uint64, field string) error {
	u, err := s.users.GetByIDTx(ctx, tx, id, false)
	if errors.Is(err, ErrNotFound) {
		return invalid(field, "must reference an active agent")
	}
	if err != nil {
		return err
	}
	if u.IsDeleted() || u.Role != model.RoleAgent || u.Status != model.UserActive {
		return invalid(field, "must reference an active agent")
	}
	return nil
}

func validatePreferences(c *checker, p model.BuyerPreferences) {
	if p.BudgetMin != nil {
		c.require(*p.BudgetMin >= 0, "budget_min", "must not be negative")
	}
	if p.BudgetMax != nil {
		c.require(*p.BudgetMax >= 0, "budget_max", "must not be negative")
	}
	if p.BudgetMin != nil && p.BudgetMax != nil {
		c.require(*p.BudgetMin <= *p.BudgetMax, "budget_max", "must not be below budget_min")
	}
	for _, city := range p.Cities {
		c.require(strings.TrimSpace(city) != "", "preferred_cities", "must not contain empty names")
	}
}

// Registration is a self-service sign-up.
type Registration struct {
	Name             string
	Email            string
	Phone            string
	CredentialHash   string
	IsBuyer          bool
	IsSeller         bool
	Preferences      model.BuyerPreferences
	PreferredAgentID *uint64
}

func (r Registration) validate() error {
	var c checker
	c.require(strings.TrimSpace(r.Name) != "", "name", "is required")
	c.require(validEmail(r.Email), "email", "must be a valid email address")
	c.require(strings.TrimSpace(r.Phone) != "", "phone", "is required")
	c.require(len(r.CredentialHash) >= model.MinCredentialLength, "password", "must be a full credential hash")
	validatePreferences(&c, r.Preferences)
	return c.err()
}

// RegisterUser creates a pending account with fresh verification secrets.
// A chosen preferred agent also gets a user_requested assignment.
func (e *Engine) RegisterUser(ctx context.Context, r Registration) (*model.User, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	var created *model.User
	err := e.run(ctx, "register_user", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		created = nil
		now := e.clock()
		if r.PreferredAgentID != nil {
			if err := requireAgent(ctx, tx, s, *r.PreferredAgentID, "preferred_agent_id"); err != nil {
				return err
			}
		}
		token, code, err := verificationSecrets()
		if err != nil {
			return err
		}
		u := &model.User{
			UUID:                   uuid.NewString(),
			Name:                   strings.TrimSpace(r.Name),
			Email:                  r.Email,
			Phone:                  r.Phone,
			PasswordHash:           r.CredentialHash,
			Role:                   model.RoleUser,
			Status:                 model.UserPendingVerification,
			EmailVerificationToken: &token,
			PhoneVerificationCode:  &code,
			IsBuyer:                r.IsBuyer,
			IsSeller:               r.IsSeller,
			PreferredAgentID:       r.PreferredAgentID,
			Preferences:            r.Preferences,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := s.users.CreateTx(ctx, tx, u); err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				if field := repository.DuplicateField(err); field != "" {
					return fmt.Errorf("%w: %s already registered", ErrDuplicateKey, field)
				}
			}
			return err
		}
		if r.PreferredAgentID != nil {
			if err := s.assignments.CreateTx(ctx, tx, &model.Assignment{
				UserID:     u.ID,
				AgentID:    *r.PreferredAgentID,
				Type:       model.AssignmentUserRequested,
				Status:     model.AssignmentActive,
				AssignedAt: now,
				UpdatedAt:  now,
			}); err != nil {
				return err
			}
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func secretMatches(stored *string, given string) bool {
	return stored != nil && subtle.ConstantTimeCompare([]byte(*stored), []byte(given)) == 1
}

// VerifyEmail confirms the user's email with token.  The first successful
// verification of a buyer may auto-assign an agent; repeating it is a no-op.
func (e *Engine) VerifyEmail(ctx context.Context, userID uint64, token string) (*model.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, invalid("token", "is required")
	}
	return e.verify(ctx, "verify_email", userID, func(ctx context.Context, tx *sql.Tx, s *stores, u *model.User) error {
		if u.EmailVerifiedAt != nil {
			return nil
		}
		if !secretMatches(u.EmailVerificationToken, token) {
			return invalid("token", "does not match")
		}
		now := e.clock()
		if err := s.users.MarkEmailVerifiedTx(ctx, tx, u.ID, now); err != nil {
			return err
		}
		if err := e.autoAssignAgent(ctx, tx, s, u, now); err != nil {
			return err
		}
		u.EmailVerifiedAt = &now
		return nil
	})
}

// VerifyPhone confirms the user's phone with the 6-digit code.
func (e *Engine) VerifyPhone(ctx context.Context, userID uint64, code string) (*model.User, error) {
	if strings.TrimSpace(code) == "" {
		return nil, invalid("code", "is required")
	}
	return e.verify(ctx, "verify_phone", userID, func(ctx context.Context, tx *sql.Tx, s *stores, u *model.User) error {
		if u.PhoneVerifiedAt != nil {
			return nil
		}
		if !secretMatches(u.PhoneVerificationCode, code) {
			return invalid("code", "does not match")
		}
		now := e.clock()
		if err := s.users.MarkPhoneVerifiedTx(ctx, tx, u.ID, now); err != nil {
			return err
		}
		u.PhoneVerifiedAt = &now
		return nil
	})
}

// verify locks the user, runs step, then activates a pending account once
// both channels are verified.  The returned user is re-read after the step.
func (e *Engine) verify(ctx context.Context, op string, userID uint64,
	step func(ctx context.Context, tx *sql.Tx, s *stores, u *model.User) error) (*model.User, error) {
	var out *model.User
	err := e.run(ctx, op, func(ctx context.Context, tx *sql.Tx, s *stores) error {
		out = nil
		u, err := liveUser(ctx, tx, s, userID, true)
		if err != nil {
			return err
		}
		if err := step(ctx, tx, s, u); err != nil {
			return err
		}
		if u.Status == model.UserPendingVerification && u.EmailVerifiedAt != nil && u.PhoneVerifiedAt != nil {
			if err := s.users.SetStatusTx(ctx, tx, u.ID, model.UserActive, e.clock()); err != nil {
				return err
			}
		}
		out, err = s.users.GetByIDTx(ctx, tx, userID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateBuyerPreferences replaces the user's buyer preferences.
func (e *Engine) UpdateBuyerPreferences(ctx context.Context, userID uint64, p model.BuyerPreferences) error {
	var c checker
	validatePreferences(&c, p)
	if err := c.err(); err != nil {
		return err
	}
	return e.run(ctx, "update_buyer_preferences", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		if _, err := liveUser(ctx, tx, s, userID, true); err != nil {
			return err
		}
		return s.users.UpdatePreferencesTx(ctx, tx, userID, p, e.clock())
	})
}

// SetPreferredAgent makes agentID the user's preferred agent, opening a
// user_requested assignment and deactivating the user's other active ones.
func (e *Engine) SetPreferredAgent(ctx context.Context, userID, agentID uint64) error {
	if userID == agentID {
		return invalid("agent_id", "must differ from the user")
	}
	return e.run(ctx, "set_preferred_agent", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		if _, err := liveUser(ctx, tx, s, userID, true); err != nil {
			return err
		}
		if err := requireAgent(ctx, tx, s, agentID, "agent_id"); err != nil {
			return err
		}
		if err := s.users.SetPreferredAgentTx(ctx, tx, userID, &agentID, now); err != nil {
			return err
		}
		if _, err := s.assignments.DeactivateOthersTx(ctx, tx, userID, agentID, now); err != nil {
			return err
		}
		err := s.assignments.CreateTx(ctx, tx, &model.Assignment{
			UserID:     userID,
			AgentID:    agentID,
			Type:       model.AssignmentUserRequested,
			Status:     model.AssignmentActive,
			AssignedAt: now,
			UpdatedAt:  now,
		})
		if errors.Is(err, ErrDuplicateKey) {
			return nil
		}
		return err
	})
}
