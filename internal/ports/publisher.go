package ports

import "github.com/bnema/venue-concierge/internal/domain"

type EventPublisher interface {
	Publish(kind domain.NotificationKind, payload any) (domain.Notification, error)
}
