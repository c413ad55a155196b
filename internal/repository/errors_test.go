package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestClassifyMySQLErrors(t *testing.T) {
	cases := []struct {
		number uint16
		want   error
	}{
		{1062, ErrDuplicateKey},
		{1452, ErrForeignKey},
		{1451, ErrForeignKey},
		{3819, ErrCheckViolation},
		{1213, ErrTransient},
		{1205, ErrTransient},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.number), func(t *testing.T) {
			err := Classify(&mysql.MySQLError{Number: tc.number, Message: "boom"})
			assert.ErrorIs(t, err, tc.want)
			var me *mysql.MySQLError
			assert.True(t, errors.As(err, &me), "driver error stays in the chain")
		})
	}
}

func TestClassifySQLiteMessages(t *testing.T) {
	assert.ErrorIs(t, Classify(errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)")), ErrDuplicateKey)
	assert.ErrorIs(t, Classify(errors.New("FOREIGN KEY constraint failed (787)")), ErrForeignKey)
	assert.ErrorIs(t, Classify(errors.New("CHECK constraint failed: length(password_hash) >= 60")), ErrCheckViolation)
	assert.ErrorIs(t, Classify(errors.New("database is locked (5) (SQLITE_BUSY)")), ErrTransient)
}

func TestClassifyPassThrough(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.ErrorIs(t, Classify(sql.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, Classify(driver.ErrBadConn), ErrTransient)

	wrapped := fmt.Errorf("lookup: %w", ErrNotFound)
	assert.Same(t, wrapped, Classify(wrapped))

	plain := errors.New("syntax error")
	assert.Equal(t, plain, Classify(plain))
}

func TestDuplicateField(t *testing.T) {
	assert.Equal(t, "email", DuplicateField(errors.New("UNIQUE constraint failed: users.email")))
	assert.Equal(t, "phone", DuplicateField(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'uq_users_phone'"}))
	assert.Equal(t, "", DuplicateField(errors.New("nope")))
}

func TestDialectClauses(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", MySQL.ForUpdate())
	assert.Equal(t, "", SQLite.ForUpdate())
	assert.Equal(t, " FOR UPDATE SKIP LOCKED", MySQL.SkipLocked())
	assert.Equal(t, SQLite, DialectFor("sqlite"))
	assert.Equal(t, MySQL, DialectFor("mysql"))
	assert.Equal(t, "CONCAT('a', b)", MySQL.Concat("'a'", "b"))
	assert.Equal(t, "('a' || b)", SQLite.Concat("'a'", "b"))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}
