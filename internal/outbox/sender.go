package outbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iliyamo/property-listing-api/internal/queue"
)

// Sender delivers a notification over its channel.
type Sender interface {
	Send(ctx context.Context, ev queue.NotificationEvent) error
}

// LogSender appends one line per delivery to <dir>/notifications.log.  It
// stands in for email and SMS providers.
type LogSender struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewLogSender returns a LogSender writing under dir.
func NewLogSender(dir string) *LogSender {
	return &LogSender{dir: dir, now: time.Now}
}

// Path is the file the sender appends to.
func (s *LogSender) Path() string { return filepath.Join(s.dir, "notifications.log") }

// Send records ev.  The body is not written since it carries the temporary
// credential.
func (s *LogSender) Send(_ context.Context, ev queue.NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.dir, err)
	}
	f, err := os.OpenFile(s.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open notification log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] Notification sent | notification_id=%d | user_id=%d | channel=%s | to=%q | name=%q | attempt=%d | chars=%d\n",
		s.now().UTC().Format(time.RFC3339), ev.NotificationID, ev.UserID, ev.Channel, ev.Recipient, ev.Name, ev.Attempt, len(ev.Body))
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write notification log: %w", err)
	}
	return nil
}
