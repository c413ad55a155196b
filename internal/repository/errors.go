// Package repository defines the error taxonomy shared by every repository
// together with the per-table data access types.  Driver errors are
// translated in one place, Classify, so higher layers only ever compare
// against the sentinels below with errors.Is.
package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrNotFound is returned when a referenced row does not exist or is
	// not visible (soft deleted).
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey signals a unique index violation.  Under concurrency
	// the losing writer receives it.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrForeignKey signals that a referenced row is absent, or that a row
	// is still referenced by a restricting foreign key.
	ErrForeignKey = errors.New("foreign key violation")
	// ErrCheckViolation covers CHECK constraints such as the credential
	// length and the agent license rule.
	ErrCheckViolation = errors.New("check constraint violation")
	// ErrTransient marks failures worth retrying: lost connections,
	// deadlocks and lock wait timeouts.
	ErrTransient = errors.New("transient database error")
)

var taxonomy = []error{ErrNotFound, ErrDuplicateKey, ErrForeignKey, ErrCheckViolation, ErrTransient}

// Classify maps a driver error onto the taxonomy.  The original error stays
// in the chain so callers can still inspect it.  Errors that already belong
// to the taxonomy, and errors that match nothing, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, s := range taxonomy {
		if errors.Is(err, s) {
			return err
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1062, 1586:
			return fmt.Errorf("%w: %w", ErrDuplicateKey, err)
		case 1451, 1452, 1216, 1217:
			return fmt.Errorf("%w: %w", ErrForeignKey, err)
		case 3819:
			return fmt.Errorf("%w: %w", ErrCheckViolation, err)
		case 1205, 1213, 2006, 2013:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %w", ErrDuplicateKey, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %w", ErrForeignKey, err)
	case strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%w: %w", ErrCheckViolation, err)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

var (
	mysqlKeyRe  = regexp.MustCompile(`for key '([^']+)'`)
	sqliteKeyRe = regexp.MustCompile(`UNIQUE constraint failed: ([a-z_]+\.[a-z_]+)`)
)

// DuplicateKeyName extracts the violated key or column from a duplicate key
// error, e.g. "uq_users_email" on MySQL or "users.email" on SQLite.  It
// returns "" when the name cannot be determined.
func DuplicateKeyName(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if m := mysqlKeyRe.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	if m := sqliteKeyRe.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}

// DuplicateField maps DuplicateKeyName onto a plain column name such as
// "email" or "phone".
func DuplicateField(err error) string {
	name := DuplicateKeyName(err)
	if i := strings.LastIndexAny(name, "._"); i >= 0 {
		return name[i+1:]
	}
	return name
}
