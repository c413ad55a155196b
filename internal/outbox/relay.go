// Package outbox moves admin-created notifications from the database to
// their recipients.  The Relay publishes unsent channels to the broker; the
// Worker consumes them, hands them to a Sender and records the delivery
// through the workflow engine.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/metrics"
	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/queue"
	"github.com/iliyamo/property-listing-api/internal/repository"
)

// Store lists and stamps outbox rows.  *repository.NotificationRepo
// satisfies it.
type Store interface {
	ListDispatchable(ctx context.Context, cutoff time.Time, limit int) ([]repository.Dispatchable, error)
	RecordDispatch(ctx context.Context, id uint64, now time.Time) error
}

// Publisher sends one event to the broker.
type Publisher interface {
	Publish(ctx context.Context, ev queue.NotificationEvent) error
}

// RelayOptions tunes a Relay.  Zero values select defaults.
type RelayOptions struct {
	RedispatchAfter time.Duration // default 10m
	BatchSize       int           // default 50
	Now             func() time.Time
	Logger          logrus.FieldLogger
}

// Relay publishes pending notifications.
type Relay struct {
	store      Store
	pub        Publisher
	redispatch time.Duration
	batch      int
	now        func() time.Time
	log        logrus.FieldLogger
}

// NewRelay returns a Relay reading from store and publishing to pub.
func NewRelay(store Store, pub Publisher, opts RelayOptions) *Relay {
	r := &Relay{
		store:      store,
		pub:        pub,
		redispatch: opts.RedispatchAfter,
		batch:      opts.BatchSize,
		now:        opts.Now,
		log:        opts.Logger,
	}
	if r.redispatch <= 0 {
		r.redispatch = 10 * time.Minute
	}
	if r.batch <= 0 {
		r.batch = 50
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	return r
}

// RunOnce publishes one event per unsent channel of every notification that
// is due, and returns the number of events published.  Rows whose publish
// fails are left undispatched and picked up by the next run.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	now := r.now().UTC()
	due, err := r.store.ListDispatchable(ctx, now.Add(-r.redispatch), r.batch)
	if err != nil {
		return 0, fmt.Errorf("list dispatchable notifications: %w", err)
	}
	published := 0
	for _, d := range due {
		n, err := r.dispatch(ctx, d, now)
		published += n
		if err != nil {
			return published, err
		}
	}
	if published > 0 {
		r.log.WithField("events", published).Info("outbox: notifications dispatched")
	}
	return published, nil
}

func (r *Relay) dispatch(ctx context.Context, d repository.Dispatchable, now time.Time) (int, error) {
	n := d.Notification
	published := 0
	for _, ch := range n.Unsent() {
		ev := queue.NotificationEvent{
			NotificationID: n.ID,
			UserID:         n.UserID,
			Channel:        string(ch),
			Name:           d.Name,
			Attempt:        n.DispatchAttempts + 1,
			DispatchedAt:   now.Format(time.RFC3339),
		}
		if ch == model.ChannelEmail {
			ev.Recipient, ev.Body = d.Email, n.EmailContent
		} else {
			ev.Recipient, ev.Body = d.Phone, n.SMSContent
		}
		if err := r.pub.Publish(ctx, ev); err != nil {
			return published, fmt.Errorf("publish notification %d (%s): %w", n.ID, ch, err)
		}
		metrics.OutboxDispatched.WithLabelValues(string(ch)).Inc()
		published++
	}
	if err := r.store.RecordDispatch(ctx, n.ID, now); err != nil {
		return published, fmt.Errorf("record dispatch of notification %d: %w", n.ID, err)
	}
	return published, nil
}
