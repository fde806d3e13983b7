package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

const notificationListSize = 100

// Notify persists n and pushes it to the recipient's latest connection. It
// satisfies deadline.Notifier.
func (s *Service) Notify(ctx context.Context, n store.Notification) error {
	if n.ID == "" {
		n.ID = util.NewID("ntf")
	}
	if n.Type == "" {
		n.Type = store.NotifyGeneric
	}
	saved, err := s.store.InsertNotification(ctx, n)
	if err != nil {
		return err
	}
	s.emitter.EmitToUser(saved.RecipientID, realtime.EventNotificationNew, map[string]any{"notification": notificationView(saved)})
	return nil
}

// notifyAfterCommit schedules Notify off the request path.
func (s *Service) notifyAfterCommit(n store.Notification) {
	if n.RecipientID == "" {
		return
	}
	s.hooks.Dispatch("notification:"+n.Type, func(ctx context.Context) error {
		return s.Notify(ctx, n)
	})
}

func (s *Service) ListNotifications(ctx context.Context, userID string) ([]NotificationView, error) {
	items, err := s.store.ListNotifications(ctx, userID, notificationListSize)
	if err != nil {
		return nil, err
	}
	out := make([]NotificationView, 0, len(items))
	for _, item := range items {
		out = append(out, notificationView(item))
	}
	return out, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, id, userID string) (NotificationView, error) {
	item, err := s.store.MarkNotificationRead(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return NotificationView{}, notFoundError("Notification not found")
	}
	if err != nil {
		return NotificationView{}, err
	}
	return notificationView(item), nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"user_id": userID, "count": n}).Debug("notifications marked read")
	return n, nil
}

func (s *Service) DeleteNotification(ctx context.Context, id, userID string) error {
	err := s.store.DeleteNotification(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError("Notification not found")
	}
	return err
}
