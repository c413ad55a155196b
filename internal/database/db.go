package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/config"
	"github.com/iliyamo/property-listing-api/internal/metrics"
)

var (
	// ErrFatal is reported when the pool cannot be re-established after the
	// configured number of reconnect attempts.
	ErrFatal = errors.New("database: pool unrecoverable")
	// ErrPoolClosed is returned by DB after Close has been called.
	ErrPoolClosed = errors.New("database: pool closed")
)

// Pool owns the process-wide *sql.DB.  It must be initialised with Init
// before use; after Close every call to DB fails with ErrPoolClosed.
type Pool struct {
	cfg    config.DBConfig
	log    logrus.FieldLogger
	open   func(config.DBConfig) (*sql.DB, error)
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewPool returns an uninitialised pool for cfg.
func NewPool(cfg config.DBConfig, log logrus.FieldLogger) *Pool {
	p := &Pool{cfg: cfg, log: log, open: Open}
	if p.log == nil {
		p.log = logrus.StandardLogger()
	}
	return p
}

// Wrap adopts an already opened handle.  Tests and the SQLite mode use it.
func Wrap(db *sql.DB, driver string) *Pool {
	return &Pool{cfg: config.DBConfig{Driver: driver, InitAttempts: 1, MaxReconnects: 1}, log: logrus.StandardLogger(), db: db}
}

// Driver names the SQL dialect behind the pool.
func (p *Pool) Driver() string { return p.cfg.Driver }

// Init opens the pool, retrying with a linear backoff.  After InitAttempts
// failures it returns an error wrapping ErrFatal.
func (p *Pool) Init(ctx context.Context) error {
	attempts := p.cfg.InitAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		db, err := p.open(p.cfg)
		if err == nil {
			p.mu.Lock()
			p.db, p.closed = db, false
			p.mu.Unlock()
			p.log.WithFields(logrus.Fields{"driver": p.cfg.Driver, "attempt": i}).Info("database pool ready")
			return nil
		}
		lastErr = err
		p.log.WithError(err).WithField("attempt", i).Warn("database connect failed")
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i) * time.Second):
		}
	}
	return fmt.Errorf("%w: %d attempts: %v", ErrFatal, attempts, lastErr)
}

// DB returns the live handle or ErrPoolClosed.
func (p *Pool) DB() (*sql.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || p.db == nil {
		return nil, ErrPoolClosed
	}
	return p.db, nil
}

// Close refuses new work and drains the pool.  database/sql waits for
// checked-out connections to be returned; if ctx expires first Close returns
// the context error and the drain continues in the background.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed || p.db == nil {
		p.closed = true
		p.mu.Unlock()
		return nil
	}
	db := p.db
	p.closed = true
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- db.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Monitor pings the pool every PingInterval.  database/sql re-dials broken
// connections on its own; Monitor only counts consecutive failures and calls
// onFatal with ErrFatal once MaxReconnects pings in a row have failed.  It
// returns when ctx is cancelled or after reporting.
func (p *Pool) Monitor(ctx context.Context, onFatal func(error)) {
	interval := p.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	limit := p.cfg.MaxReconnects
	if limit < 1 {
		limit = 5
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		db, err := p.DB()
		if err != nil {
			return
		}
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pctx)
		cancel()
		if err == nil {
			metrics.RecordDBStats(db.Stats())
			if failures > 0 {
				p.log.WithField("failures", failures).Info("database reachable again")
			}
			failures = 0
			continue
		}
		failures++
		p.log.WithError(err).WithFields(logrus.Fields{"attempt": failures, "max": limit}).Warn("database ping failed")
		if failures >= limit {
			onFatal(fmt.Errorf("%w: %d reconnect attempts: %v", ErrFatal, failures, err))
			return
		}
	}
}

// Open connects to the configured backend and verifies the connection.
func Open(cfg config.DBConfig) (*sql.DB, error) {
	if cfg.Driver == "sqlite" {
		return OpenSQLite(cfg.SQLitePath)
	}
	db, err := sql.Open("mysql", MySQLDSN(cfg))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.ConnectionLimit)
	db.SetMaxIdleConns(cfg.ConnectionLimit)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// MySQLDSN renders the driver DSN.  parseTime maps DATETIME to time.Time and
// loc=UTC keeps stored instants consistent.
func MySQLDSN(cfg config.DBConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Host + ":" + cfg.Port
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	mc.Timeout = cfg.AcquireTimeout
	mc.ReadTimeout = cfg.Timeout
	mc.WriteTimeout = cfg.Timeout
	mc.MultiStatements = false
	// RowsAffected counts matched rows, as SQLite does.
	mc.ClientFoundRows = true
	if cfg.TLSMode != "" {
		mc.TLSConfig = cfg.TLSMode
	}
	return mc.FormatDSN()
}
