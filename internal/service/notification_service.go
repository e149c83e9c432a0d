package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/garage-core/internal/events"
)

// NotificationService reports session changes to the log.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventSessionRestored, n.handleSessionChanged)
	n.dispatcher.Subscribe(events.EventSessionLoggedIn, n.handleSessionChanged)
	n.dispatcher.Subscribe(events.EventSessionLoggedOut, n.handleSessionChanged)
	n.dispatcher.Subscribe(events.EventSessionFailed, n.handleSessionFailed)
	n.dispatcher.Subscribe(events.EventSessionUserUpdated, n.handleUserUpdated)
}

func (n *NotificationService) handleSessionChanged(_ context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("event_id", event.ID),
		zap.String("user_id", event.UserID),
		zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleSessionFailed(_ context.Context, event events.Event) error {
	fields := []zap.Field{zap.String("event_id", event.ID)}
	if p, ok := event.Payload.(events.SessionChangedPayload); ok {
		fields = append(fields, zap.String("error", p.Error))
	}
	n.logger.Warn(string(event.Type), fields...)
	return nil
}

func (n *NotificationService) handleUserUpdated(_ context.Context, event events.Event) error {
	n.logger.Debug(string(event.Type), zap.String("event_id", event.ID), zap.String("user_id", event.UserID))
	return nil
}
