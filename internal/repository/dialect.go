package repository

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// Dialect selects the SQL variations between the production MySQL backend
// and the embedded SQLite backend.  Everything else in the repositories is
// written in the common subset.
type Dialect int

const (
	MySQL Dialect = iota
	SQLite
)

// DialectFor maps a driver name onto a Dialect.
func DialectFor(driver string) Dialect {
	if strings.EqualFold(driver, "sqlite") {
		return SQLite
	}
	return MySQL
}

// ForUpdate is appended to SELECTs that must hold a row lock until commit.
// SQLite serializes writers at the database level and has no row locks.
func (d Dialect) ForUpdate() string {
	if d == MySQL {
		return " FOR UPDATE"
	}
	return ""
}

// SkipLocked is like ForUpdate but skips rows locked by other transactions.
func (d Dialect) SkipLocked() string {
	if d == MySQL {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

// Concat joins SQL string expressions.
func (d Dialect) Concat(parts ...string) string {
	if d == MySQL {
		return "CONCAT(" + strings.Join(parts, ", ") + ")"
	}
	return "(" + strings.Join(parts, " || ") + ")"
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func idPtr(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	id := uint64(v.Int64)
	return &id
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// nullable converts an optional pointer into a driver value.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func toJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func fromJSON(v sql.NullString) map[string]any {
	if !v.Valid || v.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v.String), &m); err != nil {
		return nil
	}
	return m
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
