package kafka

import (
	"context"
	"testing"

	"ms-registration/internal/config"
	"ms-registration/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJSON(ctx context.Context, topic, key string, v interface{}) error {
	args := m.Called(ctx, topic, key, v)
	return args.Error(0)
}

var testTopics = config.TopicConfig{
	RegistrationConfirmed: "t.confirmed",
	RegistrationCancelled: "t.cancelled",
	PaymentPaid:           "t.paid",
	PaymentFailed:         "t.failed",
}

func TestPublishRegistrationConfirmed(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("PublishJSON", mock.Anything, "t.confirmed", "registration:12", mock.Anything).Return(nil)

	price := int64(70000)
	reg := models.Registration{ID: 12, EventID: 3, UserID: "u1", Status: models.RegistrationConfirmed, FinalPrice: &price}
	require.NoError(t, NewEventPublisher(pub, testTopics).PublishRegistrationConfirmed(context.Background(), reg))

	evt := pub.Calls[0].Arguments.Get(3).(models.DomainEvent)
	assert.Equal(t, EventRegistrationConfirmed, evt.Type)
	assert.Equal(t, int64(3), evt.EventID)
	assert.Equal(t, int64(12), evt.RegistrationID)
	assert.Equal(t, int64(70000), evt.Amount)
	assert.Equal(t, "confirmed", evt.Status)
	assert.NotEmpty(t, evt.OccurredAt)
}

func TestPublishPaymentPaid(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("PublishJSON", mock.Anything, "t.paid", "payment:5", mock.Anything).Return(nil)

	regID := int64(9)
	payment := models.Payment{ID: 5, EventID: 3, UserID: "u1", RegistrationID: &regID, Amount: 70000, Status: models.PaymentPaid, RefID: "123456"}
	require.NoError(t, NewEventPublisher(pub, testTopics).PublishPaymentPaid(context.Background(), payment))

	evt := pub.Calls[0].Arguments.Get(3).(models.DomainEvent)
	assert.Equal(t, EventPaymentPaid, evt.Type)
	assert.Equal(t, int64(9), evt.RegistrationID)
	assert.Equal(t, "123456", evt.RefID)
	pub.AssertExpectations(t)
}
