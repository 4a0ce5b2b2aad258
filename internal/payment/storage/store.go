package storage

import (
	"context"

	"ms-registration/internal/models"
)

type Store interface {
	// Payment operations
	HasPaidPayment(ctx context.Context, userID string, eventID int64) (bool, error)
	SavePayment(ctx context.Context, payment *models.Payment) error
	DeletePayment(ctx context.Context, id int64) error
	UpdatePayment(ctx context.Context, payment *models.Payment, columns ...string) error
	TransitionPayment(ctx context.Context, payment *models.Payment, from []models.PaymentStatus, columns ...string) (bool, error)
	GetPaymentByAuthority(ctx context.Context, authority string) (*models.Payment, error)
	GetPaymentByRefID(ctx context.Context, refID string) (*models.Payment, error)

	// Event lookup for coupon previews
	GetEventByID(ctx context.Context, id int64) (*models.Event, error)

	// Health and maintenance
	HealthCheck(ctx context.Context) error
}
