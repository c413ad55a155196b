package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/repository"
	"github.com/iliyamo/property-listing-api/internal/utils"
	"github.com/iliyamo/property-listing-api/internal/workflow"
)

// Login lockout policy.
const (
	maxLoginAttempts = 5
	lockoutPeriod    = 30 * time.Minute
	minPasswordLen   = 8
)

type preferencesReq struct {
	PropertyTypes []string `json:"property_types"`
	Bedrooms      []int    `json:"bedrooms"`
	Cities        []string `json:"cities"`
	BudgetMin     *float64 `json:"budget_min"`
	BudgetMax     *float64 `json:"budget_max"`
}

func (p preferencesReq) model() (model.BuyerPreferences, error) {
	types := make([]model.PropertyType, 0, len(p.PropertyTypes))
	for _, t := range p.PropertyTypes {
		types = append(types, model.PropertyType(strings.ToLower(strings.TrimSpace(t))))
	}
	ts, err := model.NewPropertyTypeSet(types...)
	if err != nil {
		return model.BuyerPreferences{}, &workflow.ValidationError{Fields: map[string]string{"property_types": err.Error()}}
	}
	bs, err := model.NewBedroomSet(p.Bedrooms...)
	if err != nil {
		return model.BuyerPreferences{}, &workflow.ValidationError{Fields: map[string]string{"bedrooms": err.Error()}}
	}
	return model.BuyerPreferences{
		PropertyTypes: ts,
		Bedrooms:      bs,
		Cities:        p.Cities,
		BudgetMin:     p.BudgetMin,
		BudgetMax:     p.BudgetMax,
	}, nil
}

type registerReq struct {
	Name             string         `json:"name"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone"`
	Password         string         `json:"password"`
	IsBuyer          bool           `json:"is_buyer"`
	IsSeller         bool           `json:"is_seller"`
	Preferences      preferencesReq `json:"preferences"`
	PreferredAgentID *uint64        `json:"preferred_agent_id"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResp struct {
	User   userView          `json:"user"`
	Access utils.AccessToken `json:"access"`
}

// verificationSecrets are echoed back outside production, where no email
// or SMS provider delivers them.
type verificationSecrets struct {
	EmailToken string `json:"email_token"`
	PhoneCode  string `json:"phone_code"`
}

// hashPassword checks the minimum length and derives the stored credential.
func (h *Handler) hashPassword(field, plain string) (string, error) {
	if len(plain) < minPasswordLen {
		return "", &workflow.ValidationError{Fields: map[string]string{field: "must be at least 8 characters"}}
	}
	if h.hash == nil {
		return "", errors.New("no credential hasher configured")
	}
	return h.hash(plain)
}

// Register creates a pending account.
func (h *Handler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	prefs, err := req.Preferences.model()
	if err != nil {
		return h.fail(c, err)
	}
	hash, err := h.hashPassword("password", req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	u, err := h.eng.RegisterUser(c.Request().Context(), workflow.Registration{
		Name:             req.Name,
		Email:            strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:            strings.TrimSpace(req.Phone),
		CredentialHash:   hash,
		IsBuyer:          req.IsBuyer,
		IsSeller:         req.IsSeller,
		Preferences:      prefs,
		PreferredAgentID: req.PreferredAgentID,
	})
	if err != nil {
		return h.fail(c, err)
	}
	data := echo.Map{"user": viewUser(u)}
	if !h.cfg.IsProduction() && u.EmailVerificationToken != nil && u.PhoneVerificationCode != nil {
		data["verification"] = verificationSecrets{EmailToken: *u.EmailVerificationToken, PhoneCode: *u.PhoneVerificationCode}
	}
	return ok(c, http.StatusCreated, data)
}

// Login verifies credentials and issues an access token.  Five failures in
// a row lock the account for 30 minutes.
func (h *Handler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return h.fail(c, &workflow.ValidationError{Fields: map[string]string{"email": "email and password are required"}})
	}
	ctx, cancel := h.readCtx(c)
	defer cancel()
	db, err := h.db()
	if err != nil {
		return h.fail(c, err)
	}
	users := repository.NewUserRepo(db, h.d)
	now := h.now().UTC()

	u, err := users.GetByEmail(ctx, req.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusUnauthorized, envelope{Error: "invalid_credentials", Message: "invalid email or password"})
	}
	if err != nil {
		return h.fail(c, err)
	}
	if u.IsLocked(now) {
		return c.JSON(http.StatusLocked, envelope{Error: "account_locked", Message: "too many failed attempts, try again later"})
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		if err := users.RecordLoginFailure(ctx, u.ID, now, maxLoginAttempts, lockoutPeriod); err != nil {
			h.log.WithError(err).WithField("user_id", u.ID).Warn("record login failure")
		}
		h.log.WithFields(logrus.Fields{"user_id": u.ID, "ip": c.RealIP()}).Warn("login failed")
		return c.JSON(http.StatusUnauthorized, envelope{Error: "invalid_credentials", Message: "invalid email or password"})
	}
	if u.Status == model.UserSuspended || u.Status == model.UserInactive {
		return h.fail(c, workflow.ErrAuthorization)
	}
	if err := users.RecordLoginSuccess(ctx, u.ID, now); err != nil {
		return h.fail(c, err)
	}
	tok, err := utils.NewAccessToken(h.cfg.JWTSecret, u.ID, string(u.Role), h.cfg.AccessTTLMin)
	if err != nil {
		return h.fail(c, err)
	}
	u.LastLoginAt = &now
	return ok(c, http.StatusOK, authResp{User: viewUser(u), Access: tok})
}

// FirstLoginReset replaces the temporary credential of an admin-created
// agent.
func (h *Handler) FirstLoginReset(c echo.Context) error {
	var req struct {
		NewPassword string `json:"new_password"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	hash, err := h.hashPassword("new_password", req.NewPassword)
	if err != nil {
		return h.fail(c, err)
	}
	res, err := h.eng.AgentFirstLoginReset(c.Request().Context(), actor(c), hash)
	if err != nil {
		return h.fail(c, err)
	}
	return done(c, res.Message)
}

// VerifyEmail confirms the caller's email address.
func (h *Handler) VerifyEmail(c echo.Context) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	u, err := h.eng.VerifyEmail(c.Request().Context(), actor(c), strings.TrimSpace(req.Token))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, viewUser(u))
}

// VerifyPhone confirms the caller's phone number.
func (h *Handler) VerifyPhone(c echo.Context) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	u, err := h.eng.VerifyPhone(c.Request().Context(), actor(c), strings.TrimSpace(req.Code))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, viewUser(u))
}
