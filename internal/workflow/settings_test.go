package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/testutil"
)

func TestSetSetting(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	admin := testutil.CreateAdmin(t, db)

	var ve *ValidationError
	require.ErrorAs(t, e.SetSetting(ctx, admin, model.SettingAutoAssignAgents, "maybe", nil), &ve)

	require.NoError(t, e.SetSetting(ctx, admin, model.SettingAutoAssignAgents, "FALSE", nil))
	assert.Equal(t, 1, testutil.Count(t, db, "system_settings",
		"setting_key = ? AND setting_value = 'false' AND updated_by = ?", model.SettingAutoAssignAgents, admin))
	assert.Equal(t, 1, testutil.Count(t, db, "audit_logs",
		"table_name = 'system_settings' AND severity = 'medium' AND old_values LIKE '%true%'"))

	desc := "Listings shown per page"
	require.NoError(t, e.SetSetting(ctx, admin, "page_size", "25", &desc))
	assert.Equal(t, 1, testutil.Count(t, db, "system_settings", "setting_key = 'page_size' AND setting_value = '25'"))

	user := testutil.CreateUser(t, db, testutil.UserSpec{})
	assert.ErrorIs(t, e.SetSetting(ctx, user, "page_size", "50", nil), ErrAuthorization)
}

func TestMarkNotificationSent(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	admin := testutil.CreateAdmin(t, db)
	res, err := e.AdminCreateAgent(ctx, admin, agentInput())
	require.NoError(t, err)

	var id uint64
	require.NoError(t, db.QueryRow(`SELECT id FROM admin_created_notifications WHERE user_id = ?`, res.AgentID).Scan(&id))

	require.NoError(t, e.MarkNotificationSent(ctx, id, model.ChannelEmail))
	require.NoError(t, e.MarkNotificationSent(ctx, id, model.ChannelEmail))
	assert.Equal(t, 1, testutil.Count(t, db, "admin_created_notifications",
		"id = ? AND email_sent = 1 AND email_sent_at IS NOT NULL AND sms_sent = 0", id))

	require.NoError(t, e.MarkNotificationSent(ctx, id, model.ChannelSMS))
	assert.Equal(t, 1, testutil.Count(t, db, "admin_created_notifications", "id = ? AND sms_sent = 1", id))

	var ve *ValidationError
	require.ErrorAs(t, e.MarkNotificationSent(ctx, id, "pigeon"), &ve)
	assert.ErrorIs(t, e.MarkNotificationSent(ctx, 999, model.ChannelSMS), ErrNotFound)
}
