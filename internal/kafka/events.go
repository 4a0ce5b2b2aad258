package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ms-registration/internal/config"
	"ms-registration/internal/models"
)

const (
	EventRegistrationConfirmed = "registration.confirmed"
	EventRegistrationCancelled = "registration.cancelled"
	EventPaymentPaid           = "payment.paid"
	EventPaymentFailed         = "payment.failed"
)

// JSONPublisher is satisfied by *Producer.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, v interface{}) error
}

// EventPublisher maps settled registrations and payments onto their topics.
type EventPublisher struct {
	publisher JSONPublisher
	topics    config.TopicConfig
}

func NewEventPublisher(publisher JSONPublisher, topics config.TopicConfig) *EventPublisher {
	return &EventPublisher{publisher: publisher, topics: topics}
}

func (p *EventPublisher) PublishRegistrationConfirmed(ctx context.Context, reg models.Registration) error {
	return p.publishRegistration(ctx, p.topics.RegistrationConfirmed, EventRegistrationConfirmed, reg)
}

func (p *EventPublisher) PublishRegistrationCancelled(ctx context.Context, reg models.Registration) error {
	return p.publishRegistration(ctx, p.topics.RegistrationCancelled, EventRegistrationCancelled, reg)
}

func (p *EventPublisher) publishRegistration(ctx context.Context, topic, eventType string, reg models.Registration) error {
	evt := models.DomainEvent{
		Type:           eventType,
		EventID:        reg.EventID,
		UserID:         reg.UserID,
		RegistrationID: reg.ID,
		Status:         string(reg.Status),
		Amount:         reg.Price(0),
		OccurredAt:     time.Now().UTC().Format(time.RFC3339),
	}
	return p.publisher.PublishJSON(ctx, topic, registrationKey(reg.ID), evt)
}

func (p *EventPublisher) PublishPaymentPaid(ctx context.Context, payment models.Payment) error {
	return p.publishPayment(ctx, p.topics.PaymentPaid, EventPaymentPaid, payment)
}

func (p *EventPublisher) PublishPaymentFailed(ctx context.Context, payment models.Payment) error {
	return p.publishPayment(ctx, p.topics.PaymentFailed, EventPaymentFailed, payment)
}

func (p *EventPublisher) publishPayment(ctx context.Context, topic, eventType string, payment models.Payment) error {
	evt := models.DomainEvent{
		Type:       eventType,
		EventID:    payment.EventID,
		UserID:     payment.UserID,
		PaymentID:  payment.ID,
		Status:     string(payment.Status),
		Amount:     payment.Amount,
		RefID:      payment.RefID,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
	if payment.RegistrationID != nil {
		evt.RegistrationID = *payment.RegistrationID
	}
	return p.publisher.PublishJSON(ctx, topic, "payment:"+strconv.FormatInt(payment.ID, 10), evt)
}

func registrationKey(id int64) string {
	return fmt.Sprintf("registration:%d", id)
}
