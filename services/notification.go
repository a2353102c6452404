package services

import (
	"context"
	"log/slog"
	"time"

	"cubis-academy/models"
)

// NotificationStore persists notifications for later listing.
type NotificationStore interface {
	Insert(ctx context.Context, n *models.Notification) error
	ListForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// NotificationService records notifications and pushes them to connected
// clients. The store is optional; without one notifications are live only.
type NotificationService struct {
	store NotificationStore
	hub   *Hub
	log   *slog.Logger
}

func NewNotificationService(store NotificationStore, hub *Hub, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{store: store, hub: hub, log: logger}
}

// Persistent reports whether notifications outlive the live push.
func (s *NotificationService) Persistent() bool {
	return s.store != nil
}

// Notify records and delivers a notification. It never fails the caller;
// delivery problems are logged.
func (s *NotificationService) Notify(ctx context.Context, userID, notificationType, title, body string, data map[string]interface{}) *models.Notification {
	n := &models.Notification{
		UserID:    userID,
		Type:      notificationType,
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	if s.store != nil {
		if err := s.store.Insert(ctx, n); err != nil {
			s.log.Error("Failed to save notification", "error", err, "userID", userID, "type", notificationType)
		}
	}

	if s.hub != nil {
		delivered := s.hub.SendToUser(userID, "notification", n)
		s.log.Debug("Notification pushed", "userID", userID, "type", notificationType, "connections", delivered)
	}
	return n
}

// List returns the newest notifications of userID, or an empty list when no
// store is configured.
func (s *NotificationService) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if s.store == nil {
		return []models.Notification{}, nil
	}
	return s.store.ListForUser(ctx, userID, limit)
}

// MarkRead flags a stored notification as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	if s.store == nil {
		return ErrNotificationNotFound
	}
	return s.store.MarkRead(ctx, userID, id)
}
