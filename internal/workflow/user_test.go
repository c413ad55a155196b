package workflow

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/testutil"
)

func emailToken(t *testing.T, db *sql.DB, userID uint64) string {
	t.Helper()
	var token string
	require.NoError(t, db.QueryRow(`SELECT email_verification_token FROM users WHERE id = ?`, userID).Scan(&token))
	return token
}

func registration(email, phone string) Registration {
	return Registration{
		Name:           "Buyer",
		Email:          email,
		Phone:          phone,
		CredentialHash: testutil.Hash60,
		IsBuyer:        true,
	}
}

func TestRegisterUser(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()

	u, err := e.RegisterUser(ctx, registration("new@x.test", "+911"))
	require.NoError(t, err)
	assert.Equal(t, model.UserPendingVerification, u.Status)
	require.NotNil(t, u.EmailVerificationToken)
	assert.Len(t, *u.EmailVerificationToken, 32)
	require.NotNil(t, u.PhoneVerificationCode)
	assert.Regexp(t, `^\d{6}$`, *u.PhoneVerificationCode)

	_, err = e.RegisterUser(ctx, registration("new@x.test", "+912"))
	require.ErrorIs(t, err, ErrDuplicateKey)
	assert.Contains(t, err.Error(), "email")
	assert.Equal(t, 1, testutil.Count(t, db, "users", ""))

	bad := registration("nope", "")
	bad.CredentialHash = "plain"
	_, err = e.RegisterUser(ctx, bad)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "email")
	assert.Contains(t, ve.Fields, "phone")
	assert.Contains(t, ve.Fields, "password")
}

func TestRegisterUserRejectsDisplayNameEmail(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	_, err := e.RegisterUser(ctx, registration("new@x.test", "+911"))
	require.NoError(t, err)

	_, err = e.RegisterUser(ctx, registration("New <new@x.test>", "+912"))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "email")
	assert.Equal(t, 1, testutil.Count(t, db, "users", ""))

	_, err = e.RegisterUser(ctx, registration("  other@x.test ", "+913"))
	require.NoError(t, err)
}

func TestRegisterUserWithPreferredAgent(t *testing.T) {
	e, db := newEngine(t)
	agent := testutil.CreateAgent(t, db, 4, 2)
	r := registration("b@x.test", "+913")
	r.PreferredAgentID = &agent

	u, err := e.RegisterUser(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.Count(t, db, "user_agent_assignments",
		"user_id = ? AND agent_id = ? AND assignment_type = 'user_requested' AND status = 'active'", u.ID, agent))

	notAgent := testutil.CreateBuyer(t, db)
	r = registration("c@x.test", "+914")
	r.PreferredAgentID = &notAgent
	_, err = e.RegisterUser(context.Background(), r)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "preferred_agent_id")
}

func TestVerifyEmailAutoAssignsAgent(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	weaker := testutil.CreateAgent(t, db, 3.9, 50)
	best := testutil.CreateAgent(t, db, 4.5, 1)

	u, err := e.RegisterUser(ctx, registration("s4@x.test", "+915"))
	require.NoError(t, err)

	token := emailToken(t, db, u.ID)
	verified, err := e.VerifyEmail(ctx, u.ID, token)
	require.NoError(t, err)
	require.NotNil(t, verified.EmailVerifiedAt)
	require.NotNil(t, verified.PreferredAgentID)
	assert.Equal(t, best, *verified.PreferredAgentID)
	assert.NotEqual(t, weaker, *verified.PreferredAgentID)
	assert.Equal(t, 1, testutil.Count(t, db, "user_agent_assignments",
		"user_id = ? AND agent_id = ? AND assignment_type = 'auto' AND status = 'active' AND assignment_reason = ?",
		u.ID, best, model.AutoAssignReason))

	// Verifying again changes nothing.
	_, err = e.VerifyEmail(ctx, u.ID, token)
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.Count(t, db, "user_agent_assignments", "user_id = ?", u.ID))
}

func TestVerifyEmailAutoAssignDisabled(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	testutil.CreateAgent(t, db, 4.5, 1)
	testutil.SetSetting(t, db, model.SettingAutoAssignAgents, "false")

	u, err := e.RegisterUser(ctx, registration("off@x.test", "+916"))
	require.NoError(t, err)
	verified, err := e.VerifyEmail(ctx, u.ID, emailToken(t, db, u.ID))
	require.NoError(t, err)
	assert.Nil(t, verified.PreferredAgentID)
	assert.Equal(t, 0, testutil.Count(t, db, "user_agent_assignments", ""))
}

func TestVerifyEmailSkipsNonBuyers(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	testutil.CreateAgent(t, db, 4.5, 1)
	r := registration("seller@x.test", "+917")
	r.IsBuyer, r.IsSeller = false, true

	u, err := e.RegisterUser(ctx, r)
	require.NoError(t, err)
	_, err = e.VerifyEmail(ctx, u.ID, emailToken(t, db, u.ID))
	require.NoError(t, err)
	assert.Equal(t, 0, testutil.Count(t, db, "user_agent_assignments", ""))
}

func TestVerifyActivatesAccount(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	u, err := e.RegisterUser(ctx, registration("both@x.test", "+918"))
	require.NoError(t, err)

	_, err = e.VerifyEmail(ctx, u.ID, "wrong")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	after, err := e.VerifyEmail(ctx, u.ID, *u.EmailVerificationToken)
	require.NoError(t, err)
	assert.Equal(t, model.UserPendingVerification, after.Status)

	_, err = e.VerifyPhone(ctx, u.ID, "000000x")
	require.ErrorAs(t, err, &ve)
	after, err = e.VerifyPhone(ctx, u.ID, *u.PhoneVerificationCode)
	require.NoError(t, err)
	assert.Equal(t, model.UserActive, after.Status)
	require.NotNil(t, after.PhoneVerifiedAt)
}

func TestSetPreferredAgent(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	buyer := testutil.CreateBuyer(t, db)
	first := testutil.CreateAgent(t, db, 4, 0)
	second := testutil.CreateAgent(t, db, 4, 0)

	require.NoError(t, e.SetPreferredAgent(ctx, buyer, first))
	require.NoError(t, e.SetPreferredAgent(ctx, buyer, second))
	require.NoError(t, e.SetPreferredAgent(ctx, buyer, second), "re-selecting the same agent is a no-op")

	assert.Equal(t, 1, testutil.Count(t, db, "users", "id = ? AND preferred_agent_id = ?", buyer, second))
	assert.Equal(t, 1, testutil.Count(t, db, "user_agent_assignments", "user_id = ? AND status = 'active'", buyer))
	assert.Equal(t, 1, testutil.Count(t, db, "user_agent_assignments", "agent_id = ? AND status = 'inactive'", first))

	var ve *ValidationError
	require.ErrorAs(t, e.SetPreferredAgent(ctx, buyer, buyer), &ve)
}

func TestUpdateBuyerPreferencesValidation(t *testing.T) {
	e, db := newEngine(t)
	buyer := testutil.CreateBuyer(t, db)
	lo, hi := 5.0, 1.0

	err := e.UpdateBuyerPreferences(context.Background(), buyer, model.BuyerPreferences{BudgetMin: &lo, BudgetMax: &hi})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "budget_max")

	err = e.UpdateBuyerPreferences(context.Background(), 999, model.BuyerPreferences{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseAssignmentClearsPreferredAgent(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	buyer := testutil.CreateBuyer(t, db)
	agent := testutil.CreateAgent(t, db, 4, 0)
	require.NoError(t, e.SetPreferredAgent(ctx, buyer, agent))

	var assignment uint64
	require.NoError(t, db.QueryRow(`SELECT id FROM user_agent_assignments WHERE user_id = ?`, buyer).Scan(&assignment))

	require.NoError(t, e.RecordAssignmentActivity(ctx, agent, assignment, 2, 1))
	assert.Equal(t, 1, testutil.Count(t, db, "user_agent_assignments", "id = ? AND properties_shown = 2 AND meetings_conducted = 1", assignment))

	stranger := testutil.CreateBuyer(t, db)
	rating := 5
	assert.ErrorIs(t, e.CloseAssignment(ctx, stranger, assignment, model.AssignmentCompleted, &rating, nil), ErrAuthorization)

	require.NoError(t, e.CloseAssignment(ctx, buyer, assignment, model.AssignmentCompleted, &rating, nil))
	assert.Equal(t, 1, testutil.Count(t, db, "users", "id = ? AND preferred_agent_id IS NULL", buyer))
	assert.Equal(t, 1, testutil.Count(t, db, "user_agent_assignments", "id = ? AND status = 'completed' AND user_rating = 5", assignment))

	assert.ErrorIs(t, e.CloseAssignment(ctx, buyer, assignment, model.AssignmentInactive, nil, nil), ErrStateTransition)
	assert.ErrorIs(t, e.RecordAssignmentActivity(ctx, agent, assignment, 1, 0), ErrStateTransition)
}
