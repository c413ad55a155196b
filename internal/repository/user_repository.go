package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/property-listing-api/internal/model"
)

// UserRepo provides access to the users table and the normalized preferred
// cities table.  Methods with a Tx suffix run inside the caller's
// transaction; the caller commits or rolls back.
type UserRepo struct {
	db *sql.DB
	d  Dialect
}

// NewUserRepo returns a UserRepo bound to db.
func NewUserRepo(db *sql.DB, d Dialect) *UserRepo { return &UserRepo{db: db, d: d} }

const userColumns = `id, uuid, name, email, phone, password_hash, role, status,
	email_verified_at, phone_verified_at, email_verification_token, phone_verification_code,
	is_buyer, is_seller, preferred_agent_id, preferred_property_types, preferred_bedrooms,
	budget_min, budget_max, license_number, agency_name, commission_rate, experience_years,
	specialization, bio, agent_rating, total_sales, login_attempts, locked_until, last_login_at,
	created_at, updated_at, deleted_at`

func scanUser(s rowScanner) (*model.User, error) {
	var (
		u                      model.User
		role, status           string
		emailAt, phoneAt       sql.NullTime
		lockedUntil, lastLogin sql.NullTime
		deletedAt              sql.NullTime
		token, code            sql.NullString
		license, agency        sql.NullString
		spec, bio              sql.NullString
		preferredAgent         sql.NullInt64
		experience             sql.NullInt64
		budgetMin, budgetMax   sql.NullFloat64
		commission             sql.NullFloat64
		types, bedrooms        int64
	)
	err := s.Scan(
		&u.ID, &u.UUID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &role, &status,
		&emailAt, &phoneAt, &token, &code,
		&u.IsBuyer, &u.IsSeller, &preferredAgent, &types, &bedrooms,
		&budgetMin, &budgetMax, &license, &agency, &commission, &experience,
		&spec, &bio, &u.Agent.Rating, &u.Agent.TotalSales, &u.LoginAttempts, &lockedUntil, &lastLogin,
		&u.CreatedAt, &u.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, Classify(err)
	}
	u.Role = model.Role(role)
	u.Status = model.UserStatus(status)
	u.EmailVerifiedAt = timePtr(emailAt)
	u.PhoneVerifiedAt = timePtr(phoneAt)
	u.EmailVerificationToken = strPtr(token)
	u.PhoneVerificationCode = strPtr(code)
	u.PreferredAgentID = idPtr(preferredAgent)
	u.Preferences.PropertyTypes = model.PropertyTypeSet(types)
	u.Preferences.Bedrooms = model.BedroomSet(bedrooms)
	u.Preferences.BudgetMin = floatPtr(budgetMin)
	u.Preferences.BudgetMax = floatPtr(budgetMax)
	u.Agent.LicenseNumber = strPtr(license)
	u.Agent.AgencyName = strPtr(agency)
	u.Agent.CommissionRate = floatPtr(commission)
	u.Agent.ExperienceYears = intPtr(experience)
	u.Agent.Specialization = splitSpecialization(spec)
	u.Agent.Bio = strPtr(bio)
	u.LockedUntil = timePtr(lockedUntil)
	u.LastLoginAt = timePtr(lastLogin)
	u.DeletedAt = timePtr(deletedAt)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func splitSpecialization(v sql.NullString) []string {
	if !v.Valid {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v.String, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinSpecialization(s []string) any {
	var parts []string
	for _, p := range s {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return strings.Join(parts, ",")
}

// CreateTx inserts u and its preferred cities.  ID is populated on success.
// CreatedAt and UpdatedAt must be set by the caller.
func (r *UserRepo) CreateTx(ctx context.Context, tx *sql.Tx, u *model.User) error {
	const q = `INSERT INTO users (uuid, name, email, phone, password_hash, role, status,
		email_verified_at, phone_verified_at, email_verification_token, phone_verification_code,
		is_buyer, is_seller, preferred_agent_id, preferred_property_types, preferred_bedrooms,
		budget_min, budget_max, license_number, agency_name, commission_rate, experience_years,
		specialization, bio, agent_rating, total_sales, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		u.UUID, u.Name, strings.ToLower(strings.TrimSpace(u.Email)), strings.TrimSpace(u.Phone), u.PasswordHash,
		string(u.Role), string(u.Status),
		nullable(u.EmailVerifiedAt), nullable(u.PhoneVerifiedAt), nullable(u.EmailVerificationToken), nullable(u.PhoneVerificationCode),
		boolInt(u.IsBuyer), boolInt(u.IsSeller), nullable(u.PreferredAgentID),
		int64(u.Preferences.PropertyTypes), int64(u.Preferences.Bedrooms),
		nullable(u.Preferences.BudgetMin), nullable(u.Preferences.BudgetMax),
		nullable(u.Agent.LicenseNumber), nullable(u.Agent.AgencyName), nullable(u.Agent.CommissionRate), nullable(u.Agent.ExperienceYears),
		joinSpecialization(u.Agent.Specialization), nullable(u.Agent.Bio), u.Agent.Rating, u.Agent.TotalSales,
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return Classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	return r.replaceCitiesTx(ctx, tx, u.ID, u.Preferences.Cities)
}

// GetByIDTx loads a user, including soft-deleted rows.  With lock set the row
// stays locked until the transaction ends.
func (r *UserRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64, lock bool) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	if lock {
		q += r.d.ForUpdate()
	}
	u, err := scanUser(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, err
	}
	if u.Preferences.Cities, err = r.citiesTx(ctx, tx, id); err != nil {
		return nil, err
	}
	return u, nil
}

// GetByID fetches a user outside of any transaction.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetByEmail fetches a live user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? AND deleted_at IS NULL LIMIT 1`, email))
}

// FindByEmailOrPhoneTx returns the first user, by id, whose email or phone
// matches.  Soft-deleted users are included because uniqueness is global.
func (r *UserRepo) FindByEmailOrPhoneTx(ctx context.Context, tx *sql.Tx, email, phone string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE email = ? OR phone = ? ORDER BY id LIMIT 1`
	return scanUser(tx.QueryRowContext(ctx, q, strings.ToLower(strings.TrimSpace(email)), strings.TrimSpace(phone)))
}

func (r *UserRepo) citiesTx(ctx context.Context, tx *sql.Tx, userID uint64) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT city FROM user_preferred_cities WHERE user_id = ? ORDER BY city`, userID)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *UserRepo) replaceCitiesTx(ctx context.Context, tx *sql.Tx, userID uint64, cities []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_preferred_cities WHERE user_id = ?`, userID); err != nil {
		return Classify(err)
	}
	seen := map[string]bool{}
	for _, c := range cities {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_preferred_cities (user_id, city) VALUES (?, ?)`, userID, c); err != nil {
			return Classify(err)
		}
	}
	return nil
}

// UpdatePreferencesTx replaces the buyer preferences of a user.
func (r *UserRepo) UpdatePreferencesTx(ctx context.Context, tx *sql.Tx, userID uint64, p model.BuyerPreferences, now time.Time) error {
	const q = `UPDATE users SET preferred_property_types = ?, preferred_bedrooms = ?, budget_min = ?, budget_max = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, q, int64(p.PropertyTypes), int64(p.Bedrooms), nullable(p.BudgetMin), nullable(p.BudgetMax), now, userID); err != nil {
		return Classify(err)
	}
	return r.replaceCitiesTx(ctx, tx, userID, p.Cities)
}

// SetPreferredAgentTx sets or clears preferred_agent_id.
func (r *UserRepo) SetPreferredAgentTx(ctx context.Context, tx *sql.Tx, userID uint64, agentID *uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET preferred_agent_id = ?, updated_at = ? WHERE id = ?`, nullable(agentID), now, userID)
	return Classify(err)
}

// MarkEmailVerifiedTx stamps email_verified_at and clears the token.
func (r *UserRepo) MarkEmailVerifiedTx(ctx context.Context, tx *sql.Tx, userID uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET email_verified_at = ?, email_verification_token = NULL, updated_at = ? WHERE id = ?`, now, now, userID)
	return Classify(err)
}

// MarkPhoneVerifiedTx stamps phone_verified_at and clears the code.
func (r *UserRepo) MarkPhoneVerifiedTx(ctx context.Context, tx *sql.Tx, userID uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET phone_verified_at = ?, phone_verification_code = NULL, updated_at = ? WHERE id = ?`, now, now, userID)
	return Classify(err)
}

// SetStatusTx changes the account status.
func (r *UserRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, userID uint64, status model.UserStatus, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET status = ?, updated_at = ? WHERE id = ?`, string(status), now, userID)
	return Classify(err)
}

// CompleteFirstLoginTx stores the replacement credential of an admin-created
// agent, activates the account and marks both contact channels verified.
func (r *UserRepo) CompleteFirstLoginTx(ctx context.Context, tx *sql.Tx, userID uint64, credentialHash string, now time.Time) error {
	const q = `UPDATE users SET password_hash = ?, status = ?, email_verified_at = ?, phone_verified_at = ?,
		email_verification_token = NULL, phone_verification_code = NULL, login_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, credentialHash, string(model.UserActive), now, now, now, userID)
	return Classify(err)
}

// PickAutoAssignAgentTx selects the best active agent handling residential
// clients: highest rating, then most sales, then lowest id.  Rows locked by
// concurrent verifications are skipped on MySQL.
func (r *UserRepo) PickAutoAssignAgentTx(ctx context.Context, tx *sql.Tx, excludeUserID uint64) (*uint64, error) {
	q := `SELECT id FROM users
		WHERE role = 'agent' AND status = 'active' AND deleted_at IS NULL AND id <> ?
		  AND (specialization IS NULL OR specialization = '' OR LOWER(specialization) LIKE ?)
		ORDER BY agent_rating DESC, total_sales DESC, id ASC
		LIMIT 1` + r.d.SkipLocked()
	var id uint64
	err := tx.QueryRowContext(ctx, q, excludeUserID, "%residential%").Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Classify(err)
	}
	return &id, nil
}

// RecordLoginFailure increments login_attempts and locks the account for
// lockFor once maxAttempts consecutive failures are reached.
func (r *UserRepo) RecordLoginFailure(ctx context.Context, userID uint64, now time.Time, maxAttempts int, lockFor time.Duration) error {
	const q = `UPDATE users SET
		login_attempts = login_attempts + 1,
		locked_until = CASE WHEN login_attempts + 1 >= ? THEN ? ELSE locked_until END,
		updated_at = ?
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, maxAttempts, now.Add(lockFor), now, userID)
	return Classify(err)
}

// RecordLoginSuccess resets the security counters.
func (r *UserRepo) RecordLoginSuccess(ctx context.Context, userID uint64, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET login_attempts = 0, locked_until = NULL, last_login_at = ?, updated_at = ? WHERE id = ?`,
		now, now, userID)
	return Classify(err)
}
