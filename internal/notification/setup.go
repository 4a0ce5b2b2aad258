package notification

import (
	"ms-registration/internal/config"
	"ms-registration/internal/logger"
	notificationdb "ms-registration/internal/notification/db"

	"github.com/uptrace/bun"
)

// NewFromConfig builds a Service backed by postgres, SMTP and, when publisher
// is set, Kafka push delivery.
func NewFromConfig(cfg *config.Config, db *bun.DB, publisher Publisher, queue Queue, log *logger.Logger) (*Service, error) {
	renderer, err := NewRenderer(cfg.Email.FrontendRoot)
	if err != nil {
		return nil, err
	}
	var pusher Pusher
	if publisher != nil {
		pusher = NewKafkaPusher(publisher, cfg.Kafka.Topics.PushNotifications)
	}
	return NewService(
		&notificationdb.DB{Bun: db},
		NewDispatchLog(db, log),
		queue,
		NewSMTPMailer(cfg.Email),
		pusher,
		renderer,
		log,
	), nil
}
