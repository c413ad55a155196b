package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// ApprovalRepo provides access to pending_approvals.
type ApprovalRepo struct {
	db *sql.DB
	d  Dialect
}

// NewApprovalRepo returns an ApprovalRepo bound to db.
func NewApprovalRepo(db *sql.DB, d Dialect) *ApprovalRepo { return &ApprovalRepo{db: db, d: d} }

const approvalColumns = `id, approval_type, record_id, submitted_by, submission_data, status, priority,
	assigned_to, review_started_at, approved_by, approved_at, rejected_at, admin_notes, rejection_reason,
	created_at, updated_at`

func scanApproval(s rowScanner) (*model.PendingApproval, error) {
	var (
		a                                   model.PendingApproval
		typ, status, priority               string
		recordID                            uint64
		submittedBy, assignedTo, approvedBy sql.NullInt64
		data, notes, reason                 sql.NullString
		reviewStarted, approvedAt, rejected sql.NullTime
	)
	err := s.Scan(&a.ID, &typ, &recordID, &submittedBy, &data, &status, &priority,
		&assignedTo, &reviewStarted, &approvedBy, &approvedAt, &rejected, &notes, &reason,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, Classify(err)
	}
	subject, err := model.SubjectFor(typ, recordID)
	if err != nil {
		return nil, err
	}
	a.Subject = subject
	a.SubmittedBy = idPtr(submittedBy)
	a.SubmissionData = fromJSON(data)
	a.Status = model.ApprovalStatus(status)
	a.Priority = model.Priority(priority)
	a.AssignedTo = idPtr(assignedTo)
	a.ReviewStartedAt = timePtr(reviewStarted)
	a.ApprovedBy = idPtr(approvedBy)
	a.ApprovedAt = timePtr(approvedAt)
	a.RejectedAt = timePtr(rejected)
	a.AdminNotes = strPtr(notes)
	a.RejectionReason = strPtr(reason)
	return &a, nil
}

// CreateTx enqueues a. The subject determines approval_type, record_id and
// table_name.
func (r *ApprovalRepo) CreateTx(ctx context.Context, tx *sql.Tx, a *model.PendingApproval) error {
	data, err := toJSON(a.SubmissionData)
	if err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = model.ApprovalPending
	}
	if a.Priority == "" {
		a.Priority = model.PriorityNormal
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO pending_approvals (approval_type, record_id, table_name, submitted_by, submission_data,
			status, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.Subject.Type()), a.Subject.RecordID(), a.Subject.TableName(), nullable(a.SubmittedBy), data,
		string(a.Status), string(a.Priority), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return Classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

// FindOpenTx returns the oldest open (pending or under review) entry for
// subject, or ErrNotFound.
func (r *ApprovalRepo) FindOpenTx(ctx context.Context, tx *sql.Tx, subject model.ApprovalSubject, lock bool) (*model.PendingApproval, error) {
	q := `SELECT ` + approvalColumns + ` FROM pending_approvals
		WHERE approval_type = ? AND record_id = ? AND status IN ('pending', 'under_review')
		ORDER BY id LIMIT 1`
	if lock {
		q += r.d.ForUpdate()
	}
	return scanApproval(tx.QueryRowContext(ctx, q, string(subject.Type()), subject.RecordID()))
}

// CountOpenTx counts open entries for subject.
func (r *ApprovalRepo) CountOpenTx(ctx context.Context, tx *sql.Tx, subject model.ApprovalSubject) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_approvals WHERE approval_type = ? AND record_id = ? AND status IN ('pending', 'under_review')`,
		string(subject.Type()), subject.RecordID()).Scan(&n)
	return n, Classify(err)
}

// DecideTx closes entry id with status.  The deciding admin becomes the
// assignee; approvals stamp approved_by and approved_at, rejections stamp
// rejected_at and copy notes into rejection_reason.
func (r *ApprovalRepo) DecideTx(ctx context.Context, tx *sql.Tx, id uint64, status model.ApprovalStatus, adminID uint64, notes *string, now time.Time) error {
	var approvedBy, approvedAt, rejectedAt, reason any
	switch status {
	case model.ApprovalApproved:
		approvedBy, approvedAt = adminID, now
	case model.ApprovalRejected:
		rejectedAt, reason = now, nullable(notes)
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE pending_approvals SET status = ?, assigned_to = ?, review_started_at = COALESCE(review_started_at, ?),
			approved_by = ?, approved_at = ?, rejected_at = ?, admin_notes = ?, rejection_reason = ?, updated_at = ?
		 WHERE id = ?`,
		string(status), adminID, now, approvedBy, approvedAt, rejectedAt, nullable(notes), reason, now, id)
	return Classify(err)
}

// StartReviewTx marks entry id as under review by adminID.
func (r *ApprovalRepo) StartReviewTx(ctx context.Context, tx *sql.Tx, id, adminID uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE pending_approvals SET status = 'under_review', assigned_to = ?, review_started_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		adminID, now, now, id)
	return Classify(err)
}

// ListBySubject returns every entry for subject, oldest first.
func (r *ApprovalRepo) ListBySubject(ctx context.Context, subject model.ApprovalSubject) ([]model.PendingApproval, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM pending_approvals WHERE approval_type = ? AND record_id = ? ORDER BY id`,
		string(subject.Type()), subject.RecordID())
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	out := []model.PendingApproval{}
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
