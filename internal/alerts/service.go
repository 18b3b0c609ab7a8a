package alerts

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// NotificationRepository is the read and upkeep side of notifications.
type NotificationRepository interface {
	ListActive(ctx context.Context, role string, now time.Time) ([]Notification, error)
	Dismiss(ctx context.Context, id int64, actor *int64, at time.Time) (Notification, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Service exposes notification upkeep to staff and jobs.
type Service struct {
	repo   NotificationRepository
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds Service.
func NewService(repo NotificationRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// Active lists live notifications, optionally for one role.
func (s *Service) Active(ctx context.Context, role string) ([]Notification, error) {
	return s.repo.ListActive(ctx, strings.ToLower(strings.TrimSpace(role)), s.clock())
}

// Dismiss hides a notification from every role.
func (s *Service) Dismiss(ctx context.Context, id int64, actor *int64) (Notification, error) {
	n, err := s.repo.Dismiss(ctx, id, actor, s.clock())
	if err != nil {
		return Notification{}, err
	}
	s.logger.Info("low-stock notification dismissed", slog.Int64("notification_id", id))
	return n, nil
}

// PurgeExpired removes notifications past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired notifications purged", slog.Int64("count", n))
	}
	return n, nil
}
