package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// EnquiryRepo provides access to enquiries.
type EnquiryRepo struct {
	db *sql.DB
	d  Dialect
}

// NewEnquiryRepo returns an EnquiryRepo bound to db.
func NewEnquiryRepo(db *sql.DB, d Dialect) *EnquiryRepo { return &EnquiryRepo{db: db, d: d} }

const enquiryColumns = `id, ticket_number, user_id, name, email, phone, requirements, property_id, source,
	page_url, user_agent, status, priority, assigned_to, first_response_at, resolved_at, resolution_notes,
	customer_satisfaction_rating, account_creation_offered, account_created_during_enquiry, created_at, updated_at`

func scanEnquiry(s rowScanner) (*model.Enquiry, error) {
	var (
		e                            model.Enquiry
		status, priority             string
		userID, propertyID, assignee sql.NullInt64
		rating                       sql.NullInt64
		pageURL, agent, resolution   sql.NullString
		firstResponse, resolvedAt    sql.NullTime
	)
	err := s.Scan(&e.ID, &e.TicketNumber, &userID, &e.Name, &e.Email, &e.Phone, &e.Requirements, &propertyID, &e.Source,
		&pageURL, &agent, &status, &priority, &assignee, &firstResponse, &resolvedAt, &resolution,
		&rating, &e.AccountCreationOffered, &e.AccountCreatedDuringEnquiry, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, Classify(err)
	}
	e.UserID = idPtr(userID)
	e.PropertyID = idPtr(propertyID)
	e.PageURL = strPtr(pageURL)
	e.UserAgent = strPtr(agent)
	e.Status = model.EnquiryStatus(status)
	e.Priority = model.Priority(priority)
	e.AssignedTo = idPtr(assignee)
	e.FirstResponseAt = timePtr(firstResponse)
	e.ResolvedAt = timePtr(resolvedAt)
	e.ResolutionNotes = strPtr(resolution)
	e.SatisfactionRating = intPtr(rating)
	return &e, nil
}

// CreateTx inserts e.  A ticket number collision fails with ErrDuplicateKey.
func (r *EnquiryRepo) CreateTx(ctx context.Context, tx *sql.Tx, e *model.Enquiry) error {
	if e.Status == "" {
		e.Status = model.EnquiryNew
	}
	if e.Priority == "" {
		e.Priority = model.PriorityNormal
	}
	if e.Source == "" {
		e.Source = "website"
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO enquiries (ticket_number, user_id, name, email, phone, requirements, property_id, source,
			page_url, user_agent, status, priority, account_creation_offered, account_created_during_enquiry,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TicketNumber, nullable(e.UserID), e.Name, e.Email, e.Phone, e.Requirements, nullable(e.PropertyID), e.Source,
		nullable(e.PageURL), nullable(e.UserAgent), string(e.Status), string(e.Priority),
		boolInt(e.AccountCreationOffered), boolInt(e.AccountCreatedDuringEnquiry), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return Classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// GetByIDTx loads an enquiry, locking the row when lock is set.
func (r *EnquiryRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64, lock bool) (*model.Enquiry, error) {
	q := `SELECT ` + enquiryColumns + ` FROM enquiries WHERE id = ?`
	if lock {
		q += r.d.ForUpdate()
	}
	return scanEnquiry(tx.QueryRowContext(ctx, q, id))
}

// GetByTicket fetches an enquiry by its ticket number.
func (r *EnquiryRepo) GetByTicket(ctx context.Context, ticket string) (*model.Enquiry, error) {
	return scanEnquiry(r.db.QueryRowContext(ctx, `SELECT `+enquiryColumns+` FROM enquiries WHERE ticket_number = ?`, ticket))
}

// MaxTicketSuffixTx returns the highest numeric suffix used for day
// ("20260102"), or 0 when no ticket exists yet.
func (r *EnquiryRepo) MaxTicketSuffixTx(ctx context.Context, tx *sql.Tx, day string) (uint64, error) {
	prefix := "TKT-" + day + "-"
	var ticket string
	err := tx.QueryRowContext(ctx,
		`SELECT ticket_number FROM enquiries WHERE ticket_number LIKE ? ORDER BY ticket_number DESC LIMIT 1`,
		prefix+"%").Scan(&ticket)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, Classify(err)
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(ticket, prefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed ticket number %q: %w", ticket, err)
	}
	return n, nil
}

// EnquiryPatch lists the agent-editable fields.  Nil fields are left alone.
type EnquiryPatch struct {
	Status             *model.EnquiryStatus
	Priority           *model.Priority
	ResolutionNotes    *string
	SatisfactionRating *int
	ResolvedAt         *time.Time
}

// Empty reports whether the patch changes nothing.
func (p EnquiryPatch) Empty() bool {
	return p.Status == nil && p.Priority == nil && p.ResolutionNotes == nil && p.SatisfactionRating == nil
}

// ApplyPatchTx writes the non-nil fields of p.
func (r *EnquiryRepo) ApplyPatchTx(ctx context.Context, tx *sql.Tx, id uint64, p EnquiryPatch, now time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{now}
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*p.Priority))
	}
	if p.ResolutionNotes != nil {
		sets = append(sets, "resolution_notes = ?")
		args = append(args, *p.ResolutionNotes)
	}
	if p.SatisfactionRating != nil {
		sets = append(sets, "customer_satisfaction_rating = ?")
		args = append(args, *p.SatisfactionRating)
	}
	if p.ResolvedAt != nil {
		sets = append(sets, "resolved_at = ?")
		args = append(args, *p.ResolvedAt)
	}
	args = append(args, id)
	_, err := tx.ExecContext(ctx, `UPDATE enquiries SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	return Classify(err)
}

// SetFirstResponseTx stamps first_response_at unless it is already set.
func (r *EnquiryRepo) SetFirstResponseTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE enquiries SET first_response_at = ?, updated_at = ? WHERE id = ? AND first_response_at IS NULL`, now, now, id)
	return Classify(err)
}

// AssignTx hands the enquiry to agentID and moves it to assigned.
func (r *EnquiryRepo) AssignTx(ctx context.Context, tx *sql.Tx, id, agentID uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE enquiries SET assigned_to = ?, status = 'assigned', updated_at = ? WHERE id = ?`, agentID, now, id)
	return Classify(err)
}

// SetStatusTx moves the enquiry to status.
func (r *EnquiryRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.EnquiryStatus, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE enquiries SET status = ?, updated_at = ? WHERE id = ?`, string(status), now, id)
	return Classify(err)
}

// ListAssigned returns the enquiries assigned to agentID, newest first.
func (r *EnquiryRepo) ListAssigned(ctx context.Context, agentID uint64) ([]model.Enquiry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+enquiryColumns+` FROM enquiries WHERE assigned_to = ? ORDER BY created_at DESC, id DESC`, agentID)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	out := []model.Enquiry{}
	for rows.Next() {
		e, err := scanEnquiry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// NoteRepo provides access to enquiry_notes.
type NoteRepo struct {
	db *sql.DB
}

// NewNoteRepo returns a NoteRepo bound to db.
func NewNoteRepo(db *sql.DB) *NoteRepo { return &NoteRepo{db: db} }

// CreateTx inserts n.
func (r *NoteRepo) CreateTx(ctx context.Context, tx *sql.Tx, n *model.EnquiryNote) error {
	var method any
	if n.Method != nil {
		method = string(*n.Method)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO enquiry_notes (enquiry_id, user_id, note, note_type, communication_method, next_follow_up_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.EnquiryID, n.AuthorID, n.Note, string(n.Type), method, nullable(n.NextFollowUpDate), n.CreatedAt)
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

// CountTx counts the notes of an enquiry.
func (r *NoteRepo) CountTx(ctx context.Context, tx *sql.Tx, enquiryID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM enquiry_notes WHERE enquiry_id = ?`, enquiryID).Scan(&n)
	return n, Classify(err)
}

// List returns the notes of an enquiry in creation order.
func (r *NoteRepo) List(ctx context.Context, enquiryID uint64) ([]model.EnquiryNote, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, enquiry_id, user_id, note, note_type, communication_method, next_follow_up_date, created_at
		 FROM enquiry_notes WHERE enquiry_id = ? ORDER BY created_at, id`, enquiryID)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	out := []model.EnquiryNote{}
	for rows.Next() {
		var (
			n      model.EnquiryNote
			typ    string
			method sql.NullString
			follow sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.EnquiryID, &n.AuthorID, &n.Note, &typ, &method, &follow, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = model.NoteType(typ)
		if method.Valid {
			m := model.CommunicationMethod(method.String)
			n.Method = &m
		}
		n.NextFollowUpDate = timePtr(follow)
		out = append(out, n)
	}
	return out, rows.Err()
}
