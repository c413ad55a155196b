package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/testutil"
)

func agentInput() AgentInput {
	rate := 2.5
	return AgentInput{
		Name:           "Asha Menon",
		Email:          "asha@agency.test",
		Phone:          "+919000000001",
		TempCredential: "Temp#Pass1",
		LicenseNumber:  "KL-RERA-0042",
		CommissionRate: &rate,
		Specialization: []string{"residential", "luxury"},
	}
}

func TestAdminCreateAgent(t *testing.T) {
	e, db := newEngine(t)
	admin := testutil.CreateAdmin(t, db)

	res, err := e.AdminCreateAgent(context.Background(), admin, agentInput())
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Empty(t, res.Error)
	require.NotZero(t, res.AgentID)

	assert.Equal(t, 1, testutil.Count(t, db, "users",
		"id = ? AND role = 'agent' AND status = 'pending_verification' AND license_number = 'KL-RERA-0042' AND password_hash = ?",
		res.AgentID, testutil.Hash60))
	assert.Equal(t, 1, testutil.Count(t, db, "admin_created_notifications",
		"user_id = ? AND created_by = ? AND password_reset_required = 1 AND email_sent = 0 AND sms_sent = 0", res.AgentID, admin))
	assert.Equal(t, 1, testutil.Count(t, db, "admin_created_notifications",
		"user_id = ? AND email_content LIKE '%Temp#Pass1%' AND sms_content LIKE '%asha@agency.test%'", res.AgentID))
	assert.Equal(t, 1, testutil.Count(t, db, "audit_logs",
		"action = 'create' AND table_name = 'users' AND record_id = ? AND user_id = ? AND severity = 'medium'", res.AgentID, admin))
	assert.Equal(t, 1, testutil.Count(t, db, "pending_approvals",
		"approval_type = 'user_verification' AND record_id = ? AND status = 'approved' AND approved_by = ?", res.AgentID, admin))

	// Every agent carries a license.
	assert.Equal(t, 0, testutil.Count(t, db, "users", "role = 'agent' AND license_number IS NULL"))
}

func TestAdminCreateAgentFailuresLeaveNoRows(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, e *Engine, admin uint64) (uint64, AgentInput)
		check func(t *testing.T, err error)
	}{
		{
			name: "caller is not an admin",
			setup: func(t *testing.T, e *Engine, admin uint64) (uint64, AgentInput) {
				db, _ := e.src.DB()
				return testutil.CreateUser(t, db, testutil.UserSpec{}), agentInput()
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrAuthorization) },
		},
		{
			name: "email already registered",
			setup: func(t *testing.T, e *Engine, admin uint64) (uint64, AgentInput) {
				db, _ := e.src.DB()
				testutil.CreateUser(t, db, testutil.UserSpec{Email: "asha@agency.test"})
				return admin, agentInput()
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrDuplicateKey)
				assert.Contains(t, err.Error(), "email")
			},
		},
		{
			name: "phone already registered",
			setup: func(t *testing.T, e *Engine, admin uint64) (uint64, AgentInput) {
				db, _ := e.src.DB()
				testutil.CreateUser(t, db, testutil.UserSpec{Phone: "+919000000001"})
				return admin, agentInput()
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrDuplicateKey)
				assert.Contains(t, err.Error(), "phone")
			},
		},
		{
			name: "missing license",
			setup: func(t *testing.T, e *Engine, admin uint64) (uint64, AgentInput) {
				in := agentInput()
				in.LicenseNumber = " "
				return admin, in
			},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Contains(t, ve.Fields, "license_number")
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, db := newEngine(t)
			admin := testutil.CreateAdmin(t, db)
			actor, in := tc.setup(t, e, admin)
			users := testutil.Count(t, db, "users", "")

			res, err := e.AdminCreateAgent(context.Background(), actor, in)
			require.Error(t, err)
			tc.check(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, err.Error(), res.Error)

			assert.Equal(t, users, testutil.Count(t, db, "users", ""))
			assert.Equal(t, 0, testutil.Count(t, db, "admin_created_notifications", ""))
			assert.Equal(t, 0, testutil.Count(t, db, "audit_logs", ""))
			assert.Equal(t, 0, testutil.Count(t, db, "pending_approvals", ""))
		})
	}
}

func TestAdminCreateAgentRejectsDisplayNameEmail(t *testing.T) {
	e, db := newEngine(t)
	admin := testutil.CreateAdmin(t, db)
	in := agentInput()
	in.Email = "Asha Menon <asha@agency.test>"

	_, err := e.AdminCreateAgent(context.Background(), admin, in)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "email")
	assert.Equal(t, 1, testutil.Count(t, db, "users", ""))
	assert.Equal(t, 0, testutil.Count(t, db, "admin_created_notifications", ""))
}

func TestAdminCreateAgentHasherFailure(t *testing.T) {
	e, db := newEngine(t, func(o *Options) {
		o.Hasher = func(string) (string, error) { return "", errors.New("cost too high") }
	})
	admin := testutil.CreateAdmin(t, db)

	res, err := e.AdminCreateAgent(context.Background(), admin, agentInput())
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, testutil.Count(t, db, "users", ""))
}

func TestAgentFirstLoginReset(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	admin := testutil.CreateAdmin(t, db)
	created, err := e.AdminCreateAgent(ctx, admin, agentInput())
	require.NoError(t, err)

	res, err := e.AgentFirstLoginReset(ctx, created.AgentID, "short")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.False(t, res.Success)

	newHash := "$2a$10$" + strings.Repeat("y", 53)
	res, err = e.AgentFirstLoginReset(ctx, created.AgentID, newHash)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, testutil.Count(t, db, "users",
		"id = ? AND status = 'active' AND password_hash = ? AND email_verified_at IS NOT NULL AND phone_verified_at IS NOT NULL",
		created.AgentID, newHash))
	assert.Equal(t, 1, testutil.Count(t, db, "admin_created_notifications", "user_id = ? AND password_reset_required = 0", created.AgentID))

	// A second reset is refused.
	res, err = e.AgentFirstLoginReset(ctx, created.AgentID, newHash)
	assert.ErrorIs(t, err, ErrStateTransition)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, 1, testutil.Count(t, db, "audit_logs", "table_name = 'users' AND action = 'update' AND record_id = ?", created.AgentID))
}

func TestAgentFirstLoginResetRejectsNonAgents(t *testing.T) {
	e, db := newEngine(t)
	buyer := testutil.CreateBuyer(t, db)

	_, err := e.AgentFirstLoginReset(context.Background(), buyer, testutil.Hash60)
	assert.ErrorIs(t, err, ErrAuthorization)
	assert.Equal(t, 1, testutil.Count(t, db, "users", "id = ? AND role = ?", buyer, string(model.RoleUser)))
}
