// Package queue carries notification events over RabbitMQ: the payload
// type, a publisher guarded by a circuit breaker and a reconnecting
// consumer.
package queue

// NotificationQueue is the durable queue the outbox relay publishes to.
const NotificationQueue = "notifications.agent_created"

// NotificationEvent asks the delivery worker to send one channel of an
// admin-created notification.  Recipient is an email address or a phone
// number depending on Channel.
type NotificationEvent struct {
	NotificationID uint64 `json:"notification_id"`
	UserID         uint64 `json:"user_id"`
	Channel        string `json:"channel"`
	Name           string `json:"name"`
	Recipient      string `json:"recipient"`
	Body           string `json:"body"`
	Attempt        int    `json:"attempt"`
	DispatchedAt   string `json:"dispatched_at"`
}
