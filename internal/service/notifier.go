package service

import (
	"context"
	"log/slog"

	"github.com/iliyamo/cohort-pools/internal/logging"
	"github.com/iliyamo/cohort-pools/internal/queue"
)

// LogNotifier writes notifications to the log only.  It is used when the
// broker is disabled.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: logging.For(log, logging.Notifications)}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, ev queue.NotificationEvent) {
	n.log.Info("notification", "user_id", ev.UserID, "type", ev.Type, "entity_id", ev.EntityID, "title", ev.Title)
}

// Publisher is the part of queue.Publisher the broker notifier needs.
type Publisher interface {
	Publish(ctx context.Context, ev queue.NotificationEvent) error
}

// BrokerNotifier publishes notifications to the message broker.  A
// publish failure is logged and the notification is dropped.
type BrokerNotifier struct {
	pub Publisher
	log *slog.Logger
}

// NewBrokerNotifier returns a BrokerNotifier over pub.
func NewBrokerNotifier(pub Publisher, log *slog.Logger) *BrokerNotifier {
	return &BrokerNotifier{pub: pub, log: logging.For(log, logging.Notifications)}
}

// Notify implements Notifier.
func (n *BrokerNotifier) Notify(ctx context.Context, ev queue.NotificationEvent) {
	if err := n.pub.Publish(ctx, ev); err != nil {
		n.log.Warn("notification dropped", "error", err, "user_id", ev.UserID, "type", ev.Type, "entity_id", ev.EntityID)
	}
}
