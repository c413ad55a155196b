package workflow

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/property-listing-api/internal/model"
)

var booleanSettings = map[string]bool{
	model.SettingAutoAssignAgents: true,
}

// SetSetting writes a system setting and audits the change.
func (e *Engine) SetSetting(ctx context.Context, adminID uint64, key, value string, description *string) error {
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	var c checker
	c.require(key != "", "key", "is required")
	c.require(len(key) <= 100, "key", "must be at most 100 characters")
	if booleanSettings[key] {
		v := strings.ToLower(value)
		c.require(v == "true" || v == "false", "value", "must be true or false")
		value = v
	}
	if err := c.err(); err != nil {
		return err
	}
	return e.run(ctx, "set_setting", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		now := e.clock()
		if _, err := e.requireAdmin(ctx, tx, s, adminID); err != nil {
			return err
		}
		old := map[string]any{}
		prev, err := s.settings.GetTx(ctx, tx, key)
		switch {
		case err == nil:
			old["value"] = prev.Value
		case !errors.Is(err, ErrNotFound):
			return err
		}
		if err := s.settings.UpsertTx(ctx, tx, &model.SystemSetting{
			Key:         key,
			Value:       value,
			Description: description,
			UpdatedBy:   u64(adminID),
			UpdatedAt:   now,
		}); err != nil {
			return err
		}
		return audit(ctx, tx, s, model.AuditLog{
			UserID:      u64(adminID),
			Action:      model.AuditUpdate,
			TableName:   "system_settings",
			OldValues:   old,
			NewValues:   map[string]any{"key": key, "value": value},
			Description: "Setting " + key + " changed",
			Severity:    model.SeverityMedium,
		}, now)
	})
}

// MarkNotificationSent records delivery of a notification on one channel.
// It is idempotent: a channel already marked keeps its first timestamp.
func (e *Engine) MarkNotificationSent(ctx context.Context, notificationID uint64, ch model.Channel) error {
	if _, err := model.ParseChannel(string(ch)); err != nil {
		return invalid("channel", "must be email or sms")
	}
	return e.run(ctx, "mark_notification_sent", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		if _, err := s.notifications.GetByIDTx(ctx, tx, notificationID, true); err != nil {
			return err
		}
		return s.notifications.MarkSentTx(ctx, tx, notificationID, ch, e.clock())
	})
}
