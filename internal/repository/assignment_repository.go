package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// AssignmentRepo provides access to user_agent_assignments.  At most one
// active assignment may exist per (user, agent) pair; the unique index turns
// a concurrent second insert into ErrDuplicateKey.
type AssignmentRepo struct {
	db *sql.DB
	d  Dialect
}

// NewAssignmentRepo returns an AssignmentRepo bound to db.
func NewAssignmentRepo(db *sql.DB, d Dialect) *AssignmentRepo { return &AssignmentRepo{db: db, d: d} }

const assignmentColumns = `id, user_id, agent_id, assignment_type, status, assignment_reason, properties_shown,
	meetings_conducted, user_rating, user_feedback, assigned_at, completed_at, updated_at`

func scanAssignment(s rowScanner) (*model.Assignment, error) {
	var (
		a                model.Assignment
		typ, status      string
		reason, feedback sql.NullString
		rating           sql.NullInt64
		completed        sql.NullTime
	)
	err := s.Scan(&a.ID, &a.UserID, &a.AgentID, &typ, &status, &reason, &a.PropertiesShown,
		&a.MeetingsConducted, &rating, &feedback, &a.AssignedAt, &completed, &a.UpdatedAt)
	if err != nil {
		return nil, Classify(err)
	}
	a.Type = model.AssignmentType(typ)
	a.Status = model.AssignmentStatus(status)
	a.Reason = strPtr(reason)
	a.UserRating = intPtr(rating)
	a.UserFeedback = strPtr(feedback)
	a.CompletedAt = timePtr(completed)
	return &a, nil
}

// CreateTx inserts a as an active assignment.
func (r *AssignmentRepo) CreateTx(ctx context.Context, tx *sql.Tx, a *model.Assignment) error {
	if a.Status == "" {
		a.Status = model.AssignmentActive
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO user_agent_assignments (user_id, agent_id, assignment_type, status, assignment_reason, assigned_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.AgentID, string(a.Type), string(a.Status), nullable(a.Reason), a.AssignedAt, a.UpdatedAt)
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

// GetByIDTx loads an assignment, locking the row when lock is set.
func (r *AssignmentRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64, lock bool) (*model.Assignment, error) {
	q := `SELECT ` + assignmentColumns + ` FROM user_agent_assignments WHERE id = ?`
	if lock {
		q += r.d.ForUpdate()
	}
	return scanAssignment(tx.QueryRowContext(ctx, q, id))
}

// CountActiveTx counts the active assignments of a user.
func (r *AssignmentRepo) CountActiveTx(ctx context.Context, tx *sql.Tx, userID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_agent_assignments WHERE user_id = ? AND status = 'active'`, userID).Scan(&n)
	return n, Classify(err)
}

// DeactivateOthersTx marks every active assignment of userID that is not
// with keepAgentID as inactive.
func (r *AssignmentRepo) DeactivateOthersTx(ctx context.Context, tx *sql.Tx, userID, keepAgentID uint64, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE user_agent_assignments SET status = 'inactive', updated_at = ?
		 WHERE user_id = ? AND agent_id <> ? AND status = 'active'`, now, userID, keepAgentID)
	if err != nil {
		return 0, Classify(err)
	}
	return res.RowsAffected()
}

// CloseTx ends an assignment with status, optionally recording the user's
// rating and feedback.
func (r *AssignmentRepo) CloseTx(ctx context.Context, tx *sql.Tx, id uint64, status model.AssignmentStatus, rating *int, feedback *string, now time.Time) error {
	var completed any
	if status == model.AssignmentCompleted {
		completed = now
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE user_agent_assignments SET status = ?, user_rating = COALESCE(?, user_rating),
			user_feedback = COALESCE(?, user_feedback), completed_at = ?, updated_at = ? WHERE id = ?`,
		string(status), nullable(rating), nullable(feedback), completed, now, id)
	return Classify(err)
}

// IncrementActivityTx adds to properties_shown and meetings_conducted.
func (r *AssignmentRepo) IncrementActivityTx(ctx context.Context, tx *sql.Tx, id uint64, shown, meetings int, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE user_agent_assignments SET properties_shown = properties_shown + ?, meetings_conducted = meetings_conducted + ?,
			updated_at = ? WHERE id = ?`, shown, meetings, now, id)
	return Classify(err)
}

// ListByUser returns the assignments of a user, newest first.
func (r *AssignmentRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Assignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM user_agent_assignments WHERE user_id = ? ORDER BY assigned_at DESC, id DESC`, userID)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	out := []model.Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
