// Package workflow implements the listing and lead workflow engine.  Every
// exported operation runs as one database transaction: the primary write,
// the invariant maintainers it triggers and the audit entries either all
// commit or all roll back.
package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/metrics"
	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/repository"
)

// Source hands out the shared connection pool.  database.Pool satisfies it;
// DB fails once the pool has been closed.
type Source interface {
	DB() (*sql.DB, error)
}

// Hasher derives a credential hash from a plain secret.
type Hasher func(plain string) (string, error)

// DefaultRetryBackoff are the waits between attempts of an operation that
// failed with ErrTransient.
var DefaultRetryBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}

// Options configures an Engine.  Zero values select defaults.
type Options struct {
	Now            func() time.Time
	OpTimeout      time.Duration   // per attempt, default 5s
	AcquireTimeout time.Duration   // connection acquisition, default 30s
	RetryBackoff   []time.Duration // nil selects DefaultRetryBackoff; empty disables retries
	Hasher         Hasher
	Logger         logrus.FieldLogger
	Tickets        TicketSource
}

// Engine runs the workflow operations.
type Engine struct {
	src     Source
	d       repository.Dialect
	now     func() time.Time
	timeout time.Duration
	acquire time.Duration
	backoff []time.Duration
	hash    Hasher
	log     logrus.FieldLogger
	tickets TicketSource
}

// New returns an Engine drawing connections from src.
func New(src Source, d repository.Dialect, opts Options) *Engine {
	e := &Engine{
		src:     src,
		d:       d,
		now:     opts.Now,
		timeout: opts.OpTimeout,
		acquire: opts.AcquireTimeout,
		backoff: opts.RetryBackoff,
		hash:    opts.Hasher,
		log:     opts.Logger,
		tickets: opts.Tickets,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.timeout <= 0 {
		e.timeout = 5 * time.Second
	}
	if e.acquire <= 0 {
		e.acquire = 30 * time.Second
	}
	if e.backoff == nil {
		e.backoff = DefaultRetryBackoff
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.tickets == nil {
		e.tickets = NewTicketCounter()
	}
	return e
}

// stores groups the repositories an operation works with.  They are bound
// to the pool only for their non-transactional reads; inside run every call
// goes through the transaction.
type stores struct {
	users         *repository.UserRepo
	listings      *repository.ListingRepo
	images        *repository.ImageRepo
	views         *repository.ViewRepo
	approvals     *repository.ApprovalRepo
	favorites     *repository.FavoriteRepo
	enquiries     *repository.EnquiryRepo
	notes         *repository.NoteRepo
	assignments   *repository.AssignmentRepo
	settings      *repository.SettingRepo
	audit         *repository.AuditRepo
	notifications *repository.NotificationRepo
}

func newStores(db *sql.DB, d repository.Dialect) *stores {
	return &stores{
		users:         repository.NewUserRepo(db, d),
		listings:      repository.NewListingRepo(db, d),
		images:        repository.NewImageRepo(db),
		views:         repository.NewViewRepo(),
		approvals:     repository.NewApprovalRepo(db, d),
		favorites:     repository.NewFavoriteRepo(db),
		enquiries:     repository.NewEnquiryRepo(db, d),
		notes:         repository.NewNoteRepo(db),
		assignments:   repository.NewAssignmentRepo(db, d),
		settings:      repository.NewSettingRepo(db),
		audit:         repository.NewAuditRepo(db),
		notifications: repository.NewNotificationRepo(db, d),
	}
}

type txFunc func(ctx context.Context, tx *sql.Tx, s *stores) error

// run executes fn in a transaction, retrying the whole attempt on
// ErrTransient after each configured backoff.  fn may run more than once and
// must reset any result it captures.
func (e *Engine) run(ctx context.Context, op string, fn txFunc) error {
	started := time.Now()
	var err error
	for attempt := 0; ; attempt++ {
		err = e.attempt(ctx, fn)
		if err == nil || !errors.Is(err, ErrTransient) || attempt >= len(e.backoff) {
			break
		}
		metrics.WorkflowRetries.WithLabelValues(op).Inc()
		e.log.WithError(err).WithFields(logrus.Fields{"op": op, "attempt": attempt + 1}).Warn("transient failure, retrying")
		wait := time.NewTimer(e.backoff[attempt])
		select {
		case <-ctx.Done():
			wait.Stop()
			metrics.ObserveOp(op, outcome(err), started)
			return err
		case <-wait.C:
		}
	}

	metrics.ObserveOp(op, outcome(err), started)
	entry := e.log.WithFields(logrus.Fields{"op": op, "duration": time.Since(started).String()})
	switch {
	case err == nil:
		entry.Debug("workflow operation committed")
	case errors.Is(err, ErrAuthorization):
		entry.WithError(err).WithField("severity", model.SeverityMedium).Warn("workflow operation denied")
	case outcome(err) == "error" || errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransient):
		entry.WithError(err).Error("workflow operation failed")
	default:
		entry.WithError(err).Info("workflow operation rejected")
	}
	return err
}

func (e *Engine) attempt(ctx context.Context, fn txFunc) error {
	db, err := e.src.DB()
	if err != nil {
		return err
	}

	actx, cancel := context.WithTimeout(ctx, e.acquire)
	conn, err := db.Conn(actx)
	cancel()
	if err != nil {
		return translate(actx, err)
	}
	defer conn.Close()

	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := conn.BeginTx(opCtx, nil)
	if err != nil {
		return translate(opCtx, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(opCtx, tx, newStores(db, e.d)); err != nil {
		return translate(opCtx, err)
	}
	if err := tx.Commit(); err != nil {
		return translate(opCtx, err)
	}
	committed = true
	return nil
}

// translate maps deadline expiry onto ErrTimeout and driver errors onto the
// repository taxonomy.
func translate(ctx context.Context, err error) error {
	if errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return repository.Classify(err)
}

func (e *Engine) clock() time.Time { return e.now().UTC() }

// requireAdmin loads actorID and checks it is a live, active admin.
func (e *Engine) requireAdmin(ctx context.Context, tx *sql.Tx, s *stores, actorID uint64) (*model.User, error) {
	return e.requireRole(ctx, tx, s, actorID, model.RoleAdmin)
}

func (e *Engine) requireRole(ctx context.Context, tx *sql.Tx, s *stores, actorID uint64, role model.Role) (*model.User, error) {
	u, err := s.users.GetByIDTx(ctx, tx, actorID, false)
	if errors.Is(err, ErrNotFound) {
		return nil, notAuthorized("user %d does not exist", actorID)
	}
	if err != nil {
		return nil, err
	}
	if u.IsDeleted() || u.Role != role || u.Status != model.UserActive {
		return nil, notAuthorized("user %d is not an active %s", actorID, role)
	}
	return u, nil
}

// liveUser loads a user that has not been soft deleted.
func liveUser(ctx context.Context, tx *sql.Tx, s *stores, id uint64, lock bool) (*model.User, error) {
	u, err := s.users.GetByIDTx(ctx, tx, id, lock)
	if err != nil {
		return nil, err
	}
	if u.IsDeleted() {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return u, nil
}

// liveListing loads and locks a listing that has not been soft deleted.
func liveListing(ctx context.Context, tx *sql.Tx, s *stores, id uint64) (*model.Listing, error) {
	l, err := s.listings.GetByIDTx(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if l.IsDeleted() {
		return nil, fmt.Errorf("%w: listing %d", ErrNotFound, id)
	}
	return l, nil
}

// audit appends an entry stamped with now.
func audit(ctx context.Context, tx *sql.Tx, s *stores, entry model.AuditLog, now time.Time) error {
	entry.CreatedAt = now
	return s.audit.CreateTx(ctx, tx, &entry)
}

func u64(v uint64) *uint64 { return &v }
