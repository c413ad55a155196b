package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/metrics"
	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/queue"
)

// Marker records a delivered channel.  *workflow.Engine satisfies it.
type Marker interface {
	MarkNotificationSent(ctx context.Context, notificationID uint64, ch model.Channel) error
}

// Worker delivers consumed notification events.
type Worker struct {
	sender Sender
	marker Marker
	log    logrus.FieldLogger
}

// NewWorker returns a Worker sending through sender and recording
// deliveries with marker.
func NewWorker(sender Sender, marker Marker, log logrus.FieldLogger) *Worker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{sender: sender, marker: marker, log: log}
}

// Handle decodes one event, sends it and marks the channel delivered.  It is
// a queue.Handler.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var ev queue.NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal notification event: %w", err)
	}
	ch, err := model.ParseChannel(ev.Channel)
	if err != nil {
		return err
	}
	if err := w.sender.Send(ctx, ev); err != nil {
		metrics.OutboxDelivered.WithLabelValues(string(ch), "failed").Inc()
		return fmt.Errorf("send notification %d (%s): %w", ev.NotificationID, ch, err)
	}
	if err := w.marker.MarkNotificationSent(ctx, ev.NotificationID, ch); err != nil {
		metrics.OutboxDelivered.WithLabelValues(string(ch), "unrecorded").Inc()
		return fmt.Errorf("mark notification %d (%s) sent: %w", ev.NotificationID, ch, err)
	}
	metrics.OutboxDelivered.WithLabelValues(string(ch), "sent").Inc()
	w.log.WithFields(logrus.Fields{
		"notification_id": ev.NotificationID,
		"channel":         ch,
	}).Debug("outbox: notification delivered")
	return nil
}

// Run consumes events from c until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, c *queue.Consumer) error {
	return c.Run(ctx, w.Handle)
}
