// Package notify records notification events and hands them to a
// delivery dispatcher. Delivery itself (push, SMS) happens outside the
// core; failures to dispatch never fail the triggering operation.
package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/repository"
)

// Dispatcher delivers a notification to the client over some channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, client *models.Client, n *models.Notification) error
}

// NoopDispatcher records nothing beyond the stored notification.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(ctx context.Context, client *models.Client, n *models.Notification) error {
	return nil
}

// Notifier persists notification records and forwards them to the
// configured dispatcher.
type Notifier struct {
	notifications repository.NotificationRepository
	clients       repository.ClientRepository
	dispatcher    Dispatcher
	log           *logrus.Logger
}

func NewNotifier(notifications repository.NotificationRepository, clients repository.ClientRepository, dispatcher Dispatcher, log *logrus.Logger) *Notifier {
	if dispatcher == nil {
		dispatcher = NoopDispatcher{}
	}
	return &Notifier{
		notifications: notifications,
		clients:       clients,
		dispatcher:    dispatcher,
		log:           log,
	}
}

// Notify stores the notification and attempts delivery. The stored
// record is the source of truth; dispatch errors are logged and
// swallowed.
func (n *Notifier) Notify(ctx context.Context, notification *models.Notification) error {
	if notification.Channel == "" {
		notification.Channel = models.ChannelPush
	}
	if err := n.notifications.Create(ctx, notification); err != nil {
		return err
	}

	client, err := n.clients.GetByID(ctx, notification.ClientID)
	if err != nil {
		n.log.Warnf("Notification %d stored but client %d lookup failed: %v", notification.ID, notification.ClientID, err)
		return nil
	}
	if err := n.dispatcher.Dispatch(ctx, client, notification); err != nil {
		n.log.Warnf("Failed to dispatch notification %d to client %d: %v", notification.ID, client.ID, err)
	}
	return nil
}

// ListForClient returns the client's notification history.
func (n *Notifier) ListForClient(ctx context.Context, clientID int64, page repository.Page) ([]*models.Notification, error) {
	return n.notifications.ListByClient(ctx, clientID, page)
}

// MarkRead flags a notification as read.
func (n *Notifier) MarkRead(ctx context.Context, id int64) error {
	return n.notifications.MarkRead(ctx, id, time.Now())
}
