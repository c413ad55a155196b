package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/property-listing-api/internal/database"
	"github.com/iliyamo/property-listing-api/internal/metrics"
	"github.com/iliyamo/property-listing-api/internal/repository"
	"github.com/iliyamo/property-listing-api/internal/testutil"
)

var testNow = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

type dbSource struct{ db *sql.DB }

func (s dbSource) DB() (*sql.DB, error) { return s.db, nil }

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testHasher(string) (string, error) { return testutil.Hash60, nil }

// newEngine returns an engine over a fresh database with a fixed clock and
// retries disabled.  opts may adjust the options before construction.
func newEngine(t *testing.T, opts ...func(*Options)) (*Engine, *sql.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	o := Options{
		Now:          func() time.Time { return testNow },
		RetryBackoff: []time.Duration{},
		Hasher:       testHasher,
		Logger:       quietLogger(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(dbSource{db}, repository.SQLite, o), db
}

func TestRunCommitsAndRollsBack(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()

	err := e.run(ctx, "test_commit", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		_, err := tx.ExecContext(ctx, `UPDATE system_settings SET setting_value = 'false' WHERE setting_key = 'auto_assign_agents'`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.Count(t, db, "system_settings", "setting_value = 'false'"))

	err = e.run(ctx, "test_rollback", func(ctx context.Context, tx *sql.Tx, s *stores) error {
		if _, err := tx.ExecContext(ctx, `UPDATE system_settings SET setting_value = 'true'`); err != nil {
			return err
		}
		return invalid("field", "boom")
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "boom", ve.Fields["field"])
	assert.Equal(t, 1, testutil.Count(t, db, "system_settings", "setting_value = 'false'"), "failed attempt leaves no effect")
}

func TestRunMapsDeadlineToTimeout(t *testing.T) {
	e, db := newEngine(t, func(o *Options) { o.OpTimeout = time.Nanosecond })
	admin := testutil.CreateAdmin(t, db)

	err := e.SetSetting(context.Background(), admin, "auto_assign_agents", "false", nil)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, testutil.Count(t, db, "audit_logs", ""))
}

type flakySource struct {
	db       *sql.DB
	failures int32
	calls    atomic.Int32
}

func (s *flakySource) DB() (*sql.DB, error) {
	if s.calls.Add(1) <= s.failures {
		return nil, fmt.Errorf("%w: connection reset", repository.ErrTransient)
	}
	return s.db, nil
}

func TestRunRetriesTransientFailures(t *testing.T) {
	db := testutil.NewDB(t)
	src := &flakySource{db: db, failures: 2}
	e := New(src, repository.SQLite, Options{
		Now:          func() time.Time { return testNow },
		RetryBackoff: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		Logger:       quietLogger(),
	})
	before := promtest.ToFloat64(metrics.WorkflowRetries.WithLabelValues("expire_featured"))

	_, err := e.ExpireFeatured(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load())
	assert.Equal(t, before+2, promtest.ToFloat64(metrics.WorkflowRetries.WithLabelValues("expire_featured")))
}

func TestRunSurfacesTransientAfterRetries(t *testing.T) {
	db := testutil.NewDB(t)
	src := &flakySource{db: db, failures: 10}
	e := New(src, repository.SQLite, Options{
		RetryBackoff: []time.Duration{time.Millisecond, time.Millisecond},
		Logger:       quietLogger(),
	})

	_, err := e.ExpireFeatured(context.Background())
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(3), src.calls.Load(), "one attempt plus two retries")
}

type closedSource struct{}

func (closedSource) DB() (*sql.DB, error) { return nil, database.ErrPoolClosed }

func TestRunRefusesClosedPool(t *testing.T) {
	e := New(closedSource{}, repository.SQLite, Options{Logger: quietLogger()})
	_, err := e.GetRecommendations(context.Background(), 1, 5)
	assert.ErrorIs(t, err, database.ErrPoolClosed)
}

func TestTicketCounter(t *testing.T) {
	c := NewTicketCounter()
	_, ok := c.Next("20260102")
	assert.False(t, ok, "unseeded")

	c.Seed("20260102", 7)
	n, ok := c.Next("20260102")
	require.True(t, ok)
	assert.Equal(t, uint64(8), n)

	c.Seed("20260102", 3)
	n, _ = c.Next("20260102")
	assert.Equal(t, uint64(9), n, "seeding never moves the counter back")

	_, ok = c.Next("20260103")
	assert.False(t, ok, "a new day needs a new seed")
	c.Seed("20260103", 0)
	n, _ = c.Next("20260103")
	assert.Equal(t, uint64(1), n)
}

func TestOutcomeLabels(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "validation", outcome(invalid("a", "b")))
	assert.Equal(t, "authorization", outcome(notAuthorized("x")))
	assert.Equal(t, "conflict", outcome(badTransition("x")))
	assert.Equal(t, "not_found", outcome(fmt.Errorf("%w: x", ErrNotFound)))
	assert.Equal(t, "timeout", outcome(fmt.Errorf("%w: x", ErrTimeout)))
	assert.Equal(t, "error", outcome(io.EOF))
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	var c checker
	c.require(false, "phone", "is required")
	c.require(false, "email", "is invalid")
	c.require(false, "email", "second message ignored")
	assert.EqualError(t, c.err(), "validation failed: email: is invalid; phone: is required")
}
