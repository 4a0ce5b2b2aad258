package storage

import (
	"context"
	"fmt"
	"time"

	"ms-registration/internal/logger"
	"ms-registration/internal/models"

	"github.com/uptrace/bun"
)

// BunStore keeps payments in the shared registration database.
type BunStore struct {
	db  *bun.DB
	log *logger.Logger
}

func NewBunStore(db *bun.DB, log *logger.Logger) *BunStore {
	log.Info("DATABASE", "Payment storage ready")
	return &BunStore{db: db, log: log}
}

// HasPaidPayment reports whether userID already paid for eventID.
func (s *BunStore) HasPaidPayment(ctx context.Context, userID string, eventID int64) (bool, error) {
	return s.db.NewSelect().
		Model((*models.Payment)(nil)).
		Where("user_id = ?", userID).
		Where("event_id = ?", eventID).
		Where("status = ?", models.PaymentPaid).
		Exists(ctx)
}

// SavePayment inserts a payment; the amount invariant is checked by the model hook.
func (s *BunStore) SavePayment(ctx context.Context, payment *models.Payment) error {
	s.log.LogDatabase("INSERT", "payments", fmt.Sprintf("Saving payment for user %s event %d", payment.UserID, payment.EventID))
	if _, err := s.db.NewInsert().Model(payment).Returning("id").Exec(ctx); err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to save payment: %v", err))
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *BunStore) DeletePayment(ctx context.Context, id int64) error {
	s.log.LogDatabase("DELETE", "payments", fmt.Sprintf("Deleting payment %d", id))
	_, err := s.db.NewDelete().
		Model((*models.Payment)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete payment %d: %w", id, err)
	}
	return nil
}

// UpdatePayment writes the named columns plus updated_at.
func (s *BunStore) UpdatePayment(ctx context.Context, payment *models.Payment, columns ...string) error {
	_, err := s.TransitionPayment(ctx, payment, nil, columns...)
	return err
}

// TransitionPayment writes the named columns only while the stored status is
// one of from; a nil from matches any status. It reports whether a row changed.
func (s *BunStore) TransitionPayment(ctx context.Context, payment *models.Payment, from []models.PaymentStatus, columns ...string) (bool, error) {
	s.log.LogDatabase("UPDATE", "payments", fmt.Sprintf("Updating payment %d %v", payment.ID, columns))
	payment.UpdatedAt = time.Now()
	cols := append(append([]string{}, columns...), "updated_at")
	q := s.db.NewUpdate().
		Model(payment).
		Column(cols...).
		WherePK()
	if len(from) > 0 {
		q = q.Where("status IN (?)", bun.In(from))
	}
	res, err := q.Exec(ctx)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to update payment %d: %v", payment.ID, err))
		return false, fmt.Errorf("failed to update payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *BunStore) GetPaymentByAuthority(ctx context.Context, authority string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.NewSelect().
		Model(&payment).
		Where("payment.authority = ?", authority).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByRefID loads a settled payment together with its event.
func (s *BunStore) GetPaymentByRefID(ctx context.Context, refID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.NewSelect().
		Model(&payment).
		Relation("Event").
		Where("payment.ref_id = ?", refID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *BunStore) GetEventByID(ctx context.Context, id int64) (*models.Event, error) {
	var event models.Event
	err := s.db.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Where("is_deleted = ?", false).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *BunStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
