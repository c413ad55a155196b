package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// AuditRepo appends to and reads audit_logs.  Rows are never updated.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo returns an AuditRepo bound to db.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

// CreateTx appends entry inside tx.
func (r *AuditRepo) CreateTx(ctx context.Context, tx *sql.Tx, entry *model.AuditLog) error {
	oldValues, err := toJSON(entry.OldValues)
	if err != nil {
		return err
	}
	newValues, err := toJSON(entry.NewValues)
	if err != nil {
		return err
	}
	if entry.Severity == "" {
		entry.Severity = model.SeverityLow
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit_logs (user_id, action, table_name, record_id, old_values, new_values, description, severity, ip_address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullable(entry.UserID), string(entry.Action), entry.TableName, nullable(entry.RecordID),
		oldValues, newValues, entry.Description, string(entry.Severity), nullable(entry.IPAddress), entry.CreatedAt)
	if err != nil {
		return Classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = uint64(id)
	return nil
}

// AuditFilter narrows List.  Zero values match everything.
type AuditFilter struct {
	TableName string
	RecordID  *uint64
	Action    model.AuditAction
	Severity  model.Severity
	UserID    *uint64
}

func (f AuditFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.TableName != "" {
		conds = append(conds, "table_name = ?")
		args = append(args, f.TableName)
	}
	if f.RecordID != nil {
		conds = append(conds, "record_id = ?")
		args = append(args, *f.RecordID)
	}
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, string(f.Action))
	}
	if f.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.UserID != nil {
		conds = append(conds, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of matching entries, newest first, and the total
// number of matches.
func (r *AuditRepo) List(ctx context.Context, f AuditFilter, limit, offset int) ([]model.AuditLog, int, error) {
	where, args := f.where()
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, Classify(err)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, action, table_name, record_id, old_values, new_values, description, severity, ip_address, created_at
		 FROM audit_logs`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, Classify(err)
	}
	defer rows.Close()
	out := []model.AuditLog{}
	for rows.Next() {
		var (
			e                  model.AuditLog
			action, severity   string
			userID, recordID   sql.NullInt64
			oldValues, newVals sql.NullString
			ip                 sql.NullString
		)
		if err := rows.Scan(&e.ID, &userID, &action, &e.TableName, &recordID, &oldValues, &newVals,
			&e.Description, &severity, &ip, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.UserID = idPtr(userID)
		e.Action = model.AuditAction(action)
		e.RecordID = idPtr(recordID)
		e.OldValues = fromJSON(oldValues)
		e.NewValues = fromJSON(newVals)
		e.Severity = model.Severity(severity)
		e.IPAddress = strPtr(ip)
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// SettingRepo provides access to system_settings.
type SettingRepo struct {
	db *sql.DB
}

// NewSettingRepo returns a SettingRepo bound to db.
func NewSettingRepo(db *sql.DB) *SettingRepo { return &SettingRepo{db: db} }

// GetTx loads a setting by key.
func (r *SettingRepo) GetTx(ctx context.Context, tx *sql.Tx, key string) (*model.SystemSetting, error) {
	var (
		s         model.SystemSetting
		desc      sql.NullString
		updatedBy sql.NullInt64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT setting_key, setting_value, description, updated_by, updated_at FROM system_settings WHERE setting_key = ?`, key).
		Scan(&s.Key, &s.Value, &desc, &updatedBy, &s.UpdatedAt)
	if err != nil {
		return nil, Classify(err)
	}
	s.Description = strPtr(desc)
	s.UpdatedBy = idPtr(updatedBy)
	return &s, nil
}

// UpsertTx writes s, inserting the key when it does not exist yet.
func (r *SettingRepo) UpsertTx(ctx context.Context, tx *sql.Tx, s *model.SystemSetting) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE system_settings SET setting_value = ?, description = COALESCE(?, description), updated_by = ?, updated_at = ?
		 WHERE setting_key = ?`,
		s.Value, nullable(s.Description), nullable(s.UpdatedBy), s.UpdatedAt, s.Key)
	if err != nil {
		return Classify(err)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO system_settings (setting_key, setting_value, description, updated_by, updated_at) VALUES (?, ?, ?, ?, ?)`,
		s.Key, s.Value, nullable(s.Description), nullable(s.UpdatedBy), s.UpdatedAt)
	return Classify(err)
}
