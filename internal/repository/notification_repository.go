package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// NotificationRepo provides access to admin_created_notifications, the
// outbox drained by the delivery worker.
type NotificationRepo struct {
	db *sql.DB
	d  Dialect
}

// NewNotificationRepo returns a NotificationRepo bound to db.
func NewNotificationRepo(db *sql.DB, d Dialect) *NotificationRepo {
	return &NotificationRepo{db: db, d: d}
}

const notificationColumns = `n.id, n.user_id, n.created_by, n.temp_password, n.password_reset_required, n.email_sent,
	n.email_sent_at, n.sms_sent, n.sms_sent_at, n.email_content, n.sms_content, n.dispatch_attempts,
	n.last_dispatched_at, n.created_at`

func notificationTargets(n *model.AdminCreatedNotification, emailAt, smsAt, lastAt *sql.NullTime) []any {
	return []any{&n.ID, &n.UserID, &n.CreatedBy, &n.TempPassword, &n.PasswordResetRequired, &n.EmailSent,
		emailAt, &n.SMSSent, smsAt, &n.EmailContent, &n.SMSContent, &n.DispatchAttempts,
		lastAt, &n.CreatedAt}
}

func scanNotification(s rowScanner) (*model.AdminCreatedNotification, error) {
	var (
		n                      model.AdminCreatedNotification
		emailAt, smsAt, lastAt sql.NullTime
	)
	if err := s.Scan(notificationTargets(&n, &emailAt, &smsAt, &lastAt)...); err != nil {
		return nil, Classify(err)
	}
	n.EmailSentAt = timePtr(emailAt)
	n.SMSSentAt = timePtr(smsAt)
	n.LastDispatchedAt = timePtr(lastAt)
	return &n, nil
}

// CreateTx inserts n.
func (r *NotificationRepo) CreateTx(ctx context.Context, tx *sql.Tx, n *model.AdminCreatedNotification) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO admin_created_notifications (user_id, created_by, temp_password, password_reset_required,
			email_sent, sms_sent, email_content, sms_content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.UserID, n.CreatedBy, n.TempPassword, boolInt(n.PasswordResetRequired),
		boolInt(n.EmailSent), boolInt(n.SMSSent), n.EmailContent, n.SMSContent, n.CreatedAt)
	if err != nil {
		return Classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	n.ID = uint64(id)
	return nil
}

// GetByIDTx loads a notification, locking the row when lock is set.
func (r *NotificationRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64, lock bool) (*model.AdminCreatedNotification, error) {
	q := `SELECT ` + notificationColumns + ` FROM admin_created_notifications n WHERE n.id = ?`
	if lock {
		q += r.d.ForUpdate()
	}
	return scanNotification(tx.QueryRowContext(ctx, q, id))
}

// FindResetRequiredTx returns the newest notification for userID that still
// requires a password reset, or ErrNotFound.
func (r *NotificationRepo) FindResetRequiredTx(ctx context.Context, tx *sql.Tx, userID uint64, lock bool) (*model.AdminCreatedNotification, error) {
	q := `SELECT ` + notificationColumns + ` FROM admin_created_notifications n
		WHERE n.user_id = ? AND n.password_reset_required = 1 ORDER BY n.id DESC LIMIT 1`
	if lock {
		q += r.d.ForUpdate()
	}
	return scanNotification(tx.QueryRowContext(ctx, q, userID))
}

// ClearResetRequiredTx flips password_reset_required off for every
// notification of userID.
func (r *NotificationRepo) ClearResetRequiredTx(ctx context.Context, tx *sql.Tx, userID uint64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE admin_created_notifications SET password_reset_required = 0 WHERE user_id = ?`, userID)
	return Classify(err)
}

// MarkSentTx records delivery on channel.  Already-sent channels keep their
// original timestamp.
func (r *NotificationRepo) MarkSentTx(ctx context.Context, tx *sql.Tx, id uint64, ch model.Channel, now time.Time) error {
	var q string
	switch ch {
	case model.ChannelEmail:
		q = `UPDATE admin_created_notifications SET email_sent = 1, email_sent_at = COALESCE(email_sent_at, ?) WHERE id = ?`
	case model.ChannelSMS:
		q = `UPDATE admin_created_notifications SET sms_sent = 1, sms_sent_at = COALESCE(sms_sent_at, ?) WHERE id = ?`
	default:
		return fmt.Errorf("unknown channel %q", ch)
	}
	_, err := tx.ExecContext(ctx, q, now, id)
	return Classify(err)
}

// Dispatchable is an outbox row joined with the recipient's contact details.
type Dispatchable struct {
	Notification model.AdminCreatedNotification
	Name         string
	Email        string
	Phone        string
}

// ListDispatchable returns notifications with an unsent channel that were
// never dispatched or last dispatched before cutoff, oldest first.
func (r *NotificationRepo) ListDispatchable(ctx context.Context, cutoff time.Time, limit int) ([]Dispatchable, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+`, u.name, u.email, u.phone
		 FROM admin_created_notifications n JOIN users u ON u.id = n.user_id
		 WHERE (n.email_sent = 0 OR n.sms_sent = 0)
		   AND (n.last_dispatched_at IS NULL OR n.last_dispatched_at < ?)
		 ORDER BY n.id LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	var out []Dispatchable
	for rows.Next() {
		var (
			d                      Dispatchable
			emailAt, smsAt, lastAt sql.NullTime
		)
		dest := append(notificationTargets(&d.Notification, &emailAt, &smsAt, &lastAt), &d.Name, &d.Email, &d.Phone)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		d.Notification.EmailSentAt = timePtr(emailAt)
		d.Notification.SMSSentAt = timePtr(smsAt)
		d.Notification.LastDispatchedAt = timePtr(lastAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordDispatch bumps dispatch_attempts and stamps last_dispatched_at.
func (r *NotificationRepo) RecordDispatch(ctx context.Context, id uint64, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE admin_created_notifications SET dispatch_attempts = dispatch_attempts + 1, last_dispatched_at = ? WHERE id = ?`,
		now, id)
	return Classify(err)
}
