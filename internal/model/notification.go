package model

import (
	"fmt"
	"strings"
	"time"
)

// Channel is a delivery channel of the admin-created notification outbox.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// ParseChannel converts a raw value into a Channel.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelEmail, ChannelSMS:
		return c, nil
	}
	return "", fmt.Errorf("invalid channel %q", s)
}

// AdminCreatedNotification mirrors admin_created_notifications, the outbox
// row written when an admin provisions an agent account.
type AdminCreatedNotification struct {
	ID                    uint64
	UserID                uint64
	CreatedBy             uint64
	TempPassword          string
	PasswordResetRequired bool
	EmailSent             bool
	EmailSentAt           *time.Time
	SMSSent               bool
	SMSSentAt             *time.Time
	EmailContent          string
	SMSContent            string
	DispatchAttempts      int
	LastDispatchedAt      *time.Time
	CreatedAt             time.Time
}

// Unsent lists the channels that still need delivery.
func (n AdminCreatedNotification) Unsent() []Channel {
	var out []Channel
	if !n.EmailSent {
		out = append(out, ChannelEmail)
	}
	if !n.SMSSent {
		out = append(out, ChannelSMS)
	}
	return out
}
