package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/property-listing-api/internal/metrics"
	"github.com/iliyamo/property-listing-api/internal/model"
)

// maxTicketAttempts bounds the inserts tried for one enquiry.
const maxTicketAttempts = 5

// TicketSource hands out ticket suffixes for a day ("20060102").
type TicketSource interface {
	// Next returns the next suffix for day.  ok is false until the source
	// has been seeded for that day.
	Next(day string) (suffix uint64, ok bool)
	// Seed raises the counter for day to at least highest.
	Seed(day string, highest uint64)
}

// TicketCounter is the per-process monotonic TicketSource.  It starts over
// when the day changes.
type TicketCounter struct {
	mu     sync.Mutex
	day    string
	last   uint64
	seeded bool
}

// NewTicketCounter returns an unseeded counter.
func NewTicketCounter() *TicketCounter { return &TicketCounter{} }

func (c *TicketCounter) Next(day string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seeded || c.day != day {
		return 0, false
	}
	c.last++
	return c.last, true
}

func (c *TicketCounter) Seed(day string, highest uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.day != day {
		c.day, c.last = day, 0
	}
	if highest > c.last {
		c.last = highest
	}
	c.seeded = true
}

func ticketNumber(day string, n uint64) string {
	return fmt.Sprintf("TKT-%s-%06d", day, n)
}

// insertEnquiry assigns a ticket number to en and inserts it, drawing a new
// suffix after every collision.
func (e *Engine) insertEnquiry(ctx context.Context, tx *sql.Tx, s *stores, en *model.Enquiry, now time.Time) error {
	day := now.Format("20060102")
	for attempt := 1; attempt <= maxTicketAttempts; attempt++ {
		n, ok := e.tickets.Next(day)
		if !ok {
			if err := e.seedTickets(ctx, tx, s, day); err != nil {
				return err
			}
			if n, ok = e.tickets.Next(day); !ok {
				return fmt.Errorf("ticket source not seeded for %s", day)
			}
		}
		en.TicketNumber = ticketNumber(day, n)
		err := s.enquiries.CreateTx(ctx, tx, en)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateKey) {
			return err
		}
		metrics.TicketCollisions.Inc()
		e.log.WithField("ticket", en.TicketNumber).WithField("attempt", attempt).Warn("ticket number collision")
		if err := e.seedTickets(ctx, tx, s, day); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: no free ticket number after %d attempts", ErrTransient, maxTicketAttempts)
}

func (e *Engine) seedTickets(ctx context.Context, tx *sql.Tx, s *stores, day string) error {
	highest, err := s.enquiries.MaxTicketSuffixTx(ctx, tx, day)
	if err != nil {
		return err
	}
	e.tickets.Seed(day, highest)
	return nil
}
