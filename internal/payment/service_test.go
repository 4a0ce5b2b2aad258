package payment_test

import (
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"ms-registration/internal/config"
	"ms-registration/internal/database/dbtest"
	"ms-registration/internal/discount"
	discountdb "ms-registration/internal/discount/db"
	"ms-registration/internal/logger"
	"ms-registration/internal/models"
	"ms-registration/internal/payment"
	"ms-registration/internal/payment/services"
	"ms-registration/internal/payment/storage"
	"ms-registration/internal/registration"
	regdb "ms-registration/internal/registration/db"
	regredis "ms-registration/internal/registration/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// Mock implementations
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Request(ctx context.Context, amount int64, description string, metadata map[string]string) (string, error) {
	args := m.Called(ctx, amount, description, metadata)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) Verify(ctx context.Context, amount int64, authority string) (*models.GatewayData, error) {
	args := m.Called(ctx, amount, authority)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GatewayData), args.Error(1)
}

func (m *MockGateway) StartPayURL(authority string) string {
	return "https://gateway.test/StartPay/" + authority
}

type MockKafka struct {
	mock.Mock
}

func (m *MockKafka) PublishPaymentPaid(ctx context.Context, p models.Payment) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockKafka) PublishPaymentFailed(ctx context.Context, p models.Payment) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockKafka) PublishRegistrationConfirmed(ctx context.Context, reg models.Registration) error {
	return m.Called(ctx, reg).Error(0)
}

func (m *MockKafka) PublishRegistrationCancelled(ctx context.Context, reg models.Registration) error {
	return m.Called(ctx, reg).Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) QueueRegistrationConfirmation(ctx context.Context, reg models.Registration) error {
	return m.Called(ctx, reg).Error(0)
}

func (m *MockNotifier) QueueRegistrationCancellation(ctx context.Context, reg models.Registration) error {
	return m.Called(ctx, reg).Error(0)
}

const frontend = "http://frontend.test/payments/result"

type fixture struct {
	svc      *payment.Service
	bun      *bun.DB
	regs     *regdb.DB
	codes    *discountdb.DB
	gateway  *MockGateway
	kafka    *MockKafka
	notifier *MockNotifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewWithWriter("payment-test", io.Discard)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	bunDB := dbtest.New(t)
	regs := &regdb.DB{Bun: bunDB}
	codes := &discountdb.DB{Bun: bunDB}
	engine := discount.NewEngine(codes, log)

	kafka := new(MockKafka)
	kafka.On("PublishPaymentPaid", mock.Anything, mock.Anything).Return(nil)
	kafka.On("PublishPaymentFailed", mock.Anything, mock.Anything).Return(nil)
	kafka.On("PublishRegistrationConfirmed", mock.Anything, mock.Anything).Return(nil)
	kafka.On("PublishRegistrationCancelled", mock.Anything, mock.Anything).Return(nil)
	notifier := new(MockNotifier)
	notifier.On("QueueRegistrationConfirmation", mock.Anything, mock.Anything).Return(nil)
	notifier.On("QueueRegistrationCancellation", mock.Anything, mock.Anything).Return(nil)

	lock := regredis.NewRedis(client, config.LockConfig{TTL: 5 * time.Second, Wait: 3 * time.Second}, log)
	regSvc := registration.NewService(regs, lock, engine, notifier, kafka, nil, log)

	gateway := new(MockGateway)
	svc := payment.NewService(storage.NewBunStore(bunDB, log), gateway, regSvc, engine, kafka, frontend, log)
	return &fixture{svc: svc, bun: bunDB, regs: regs, codes: codes, gateway: gateway, kafka: kafka, notifier: notifier}
}

func (f *fixture) payments(t *testing.T) []models.Payment {
	t.Helper()
	var out []models.Payment
	require.NoError(t, f.bun.NewSelect().Model(&out).Order("id").Scan(context.Background()))
	return out
}

func (f *fixture) start(t *testing.T, eventID int64, userID, authority string) *models.CreatePaymentResponse {
	t.Helper()
	f.gateway.On("Request", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(authority, nil).Once()
	resp, err := f.svc.CreatePayment(context.Background(), userID, models.CreatePaymentRequest{EventID: eventID})
	require.NoError(t, err)
	return resp
}

func TestCreatePayment(t *testing.T) {
	f := setup(t)
	event := dbtest.SeedEvent(t, f.bun, 50000, nil)

	resp := f.start(t, event.ID, "alice", "AUTH-1")
	require.NotNil(t, resp.StartPayURL)
	assert.Equal(t, "https://gateway.test/StartPay/AUTH-1", *resp.StartPayURL)
	assert.Equal(t, "AUTH-1", *resp.Authority)
	assert.Equal(t, int64(50000), resp.Amount)
	assert.Equal(t, int64(50000), resp.BaseAmount)

	payments := f.payments(t)
	require.Len(t, payments, 1)
	p := payments[0]
	assert.Equal(t, models.PaymentPending, p.Status)
	assert.Equal(t, "AUTH-1", *p.Authority)
	require.NotNil(t, p.RegistrationID)

	reg, err := f.regs.GetRegistrationByID(context.Background(), *p.RegistrationID, false)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationPending, reg.Status)

	f.gateway.AssertCalled(t, "Request", mock.Anything, int64(50000), "Registration for Event", mock.MatchedBy(func(md map[string]string) bool {
		return md["user_id"] == "alice" && md["payment_id"] != "" && md["event_id"] != ""
	}))
}

func TestCreatePaymentWithDiscount(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	event := dbtest.SeedEvent(t, f.bun, 100000, nil)
	dc := &models.DiscountCode{Code: "HALF", Type: models.DiscountPercent, Value: 50, IsActive: true, CreatedAt: time.Now()}
	require.NoError(t, f.codes.CreateDiscountCode(ctx, dc))

	f.gateway.On("Request", mock.Anything, int64(50000), mock.Anything, mock.Anything).Return("AUTH-2", nil).Once()
	resp, err := f.svc.CreatePayment(ctx, "bob", models.CreatePaymentRequest{EventID: event.ID, DiscountCode: "HALF"})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), resp.Amount)
	assert.Equal(t, int64(50000), resp.DiscountAmount)

	p := f.payments(t)[0]
	assert.Equal(t, p.BaseAmount, p.Amount+p.DiscountAmount)
	require.NotNil(t, p.DiscountCodeID)
	assert.Equal(t, dc.ID, *p.DiscountCodeID)

	// the pending payment now counts against the code
	used, err := f.codes.CountDiscountUsage(ctx, dc.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestCreatePaymentFreeSkipsGateway(t *testing.T) {
	f := setup(t)
	event := dbtest.SeedEvent(t, f.bun, 0, nil)

	resp, err := f.svc.CreatePayment(context.Background(), "carol", models.CreatePaymentRequest{EventID: event.ID})
	require.NoError(t, err)
	assert.Nil(t, resp.StartPayURL)
	assert.Nil(t, resp.Authority)
	assert.Equal(t, int64(0), resp.Amount)
	assert.Empty(t, f.payments(t))
	f.gateway.AssertNotCalled(t, "Request", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	reg, err := f.regs.FindActiveRegistration(context.Background(), event.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationConfirmed, reg.Status)
	f.notifier.AssertNumberOfCalls(t, "QueueRegistrationConfirmation", 1)
}

func TestCreatePaymentGatewayFailureRollsBack(t *testing.T) {
	f := setup(t)
	event := dbtest.SeedEvent(t, f.bun, 50000, nil)

	f.gateway.On("Request", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", &services.GatewayError{Op: "request", Code: -9, Message: "validation error"}).Once()

	_, err := f.svc.CreatePayment(context.Background(), "dave", models.CreatePaymentRequest{EventID: event.ID})
	var gwErr *services.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Empty(t, f.payments(t))

	// the registration intent survives the failed request
	reg, err := f.regs.FindActiveRegistration(context.Background(), event.ID, "dave")
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, models.RegistrationPending, reg.Status)
}

func TestCreatePaymentRejectsValidationErrors(t *testing.T) {
	f := setup(t)
	event := dbtest.SeedEvent(t, f.bun, 50000, nil)

	_, err := f.svc.CreatePayment(context.Background(), "erin", models.CreatePaymentRequest{EventID: event.ID, DiscountCode: "NOPE"})
	assert.ErrorIs(t, err, discount.ErrInvalidDiscount)

	_, err = f.svc.CreatePayment(context.Background(), "erin", models.CreatePaymentRequest{EventID: 9999})
	assert.ErrorIs(t, err, registration.ErrEventNotFound)
	assert.Empty(t, f.payments(t))
}

func TestCallbackPaidIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	event := dbtest.SeedEvent(t, f.bun, 50000, nil)
	f.start(t, event.ID, "frank", "AUTH-3")

	f.gateway.On("Verify", mock.Anything, int64(50000), "AUTH-3").
		Return(&models.GatewayData{Code: 100, RefID: "777", CardPan: "6037******1234", CardHash: "HASH"}, nil).Once()

	target, err := f.svc.HandleCallback(ctx, "AUTH-3", "OK")
	require.NoError(t, err)
	u, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, "/payments/result", u.Path)
	assert.Equal(t, "success", u.Query().Get("status"))
	assert.Equal(t, "777", u.Query().Get("ref_id"))

	again, err := f.svc.HandleCallback(ctx, "AUTH-3", "OK")
	require.NoError(t, err)
	assert.Equal(t, target, again)

	f.gateway.AssertNumberOfCalls(t, "Verify", 1)
	f.notifier.AssertNumberOfCalls(t, "QueueRegistrationConfirmation", 1)
	f.kafka.AssertNumberOfCalls(t, "PublishPaymentPaid", 1)

	p := f.payments(t)[0]
	assert.Equal(t, models.PaymentPaid, p.Status)
	assert.Equal(t, "777", p.RefID)
	assert.Equal(t, "6037******1234", p.CardPan)
	assert.NotNil(t, p.VerifiedAt)

	reg, err := f.regs.GetRegistrationByID(ctx, *p.RegistrationID, false)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationConfirmed, reg.Status)
	assert.NotNil(t, reg.ConfirmationEmailSentAt)

	// no double purchase once paid
	_, err = f.svc.CreatePayment(ctx, "frank", models.CreatePaymentRequest{EventID: event.ID})
	assert.ErrorIs(t, err, payment.ErrPaymentExists)

	detail, err := f.svc.GetByRefID(ctx, "777")
	require.NoError(t, err)
	assert.Equal(t, "AUTH-3", detail.Authority)
	assert.Equal(t, event.ID, detail.Event.ID)
	assert.Equal(t, models.PaymentPaid, detail.Status)
}

func TestCallbackAlreadyVerifiedCode(t *testing.T) {
	f := setup(t)
	event := dbtest.SeedEvent(t, f.bun, 50000, nil)
	f.start(t, event.ID, "gina", "AUTH-4")

	f.gateway.On("Verify", mock.Anything, int64(50000), "AUTH-4").Return(&models.GatewayData{Code: 101, RefID: "888"}, nil).Once()

	target, err := f.svc.HandleCallback(context.Background(), "AUTH-4", "OK")
	require.NoError(t, err)
	assert.Contains(t, target, "status=success")
	assert.Equal(t, models.PaymentPaid, f.payments(t)[0].Status)
}

func TestCallbackFailures(t *testing.T) {
	tests := []struct {
		name   string
		status string
		verify func(*MockGateway, string)
		want   models.PaymentStatus
	}{
		{"payer cancelled", "NOK", nil, models.PaymentCanceled},
		{"verify transport error", "OK", func(g *MockGateway, a string) {
			g.On("Verify", mock.Anything, int64(50000), a).Return(nil, &services.GatewayError{Op: "verify", Err: errors.New("timeout")}).Once()
		}, models.PaymentFailed},
		{"verify rejected", "OK", func(g *MockGateway, a string) {
			g.On("Verify", mock.Anything, int64(50000), a).Return(&models.GatewayData{Code: -51}, nil).Once()
		}, models.PaymentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			event := dbtest.SeedEvent(t, f.bun, 50000, nil)
			f.start(t, event.ID, "hank", "AUTH-F")
			if tt.verify != nil {
				tt.verify(f.gateway, "AUTH-F")
			}

			target, err := f.svc.HandleCallback(context.Background(), "AUTH-F", tt.status)
			require.NoError(t, err)
			assert.Contains(t, target, "status=failed")
			assert.NotContains(t, target, "ref_id")
			assert.Equal(t, tt.want, f.payments(t)[0].Status)
			f.notifier.AssertNotCalled(t, "QueueRegistrationConfirmation", mock.Anything, mock.Anything)

			// a replay keeps the terminal status and never verifies
			again, err := f.svc.HandleCallback(context.Background(), "AUTH-F", "OK")
			require.NoError(t, err)
			assert.Equal(t, target, again)
			assert.Equal(t, tt.want, f.payments(t)[0].Status)
		})
	}
}

func TestCallbackUnknownAuthority(t *testing.T) {
	f := setup(t)
	_, err := f.svc.HandleCallback(context.Background(), "missing", "OK")
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)

	_, err = f.svc.HandleCallback(context.Background(), "", "OK")
	assert.ErrorIs(t, err, payment.ErrMissingAuthority)
}

func TestCheckCoupon(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	event := dbtest.SeedEvent(t, f.bun, 100000, nil)
	dc := &models.DiscountCode{Code: "FIXED", Type: models.DiscountFixed, Value: 30000, IsActive: true, CreatedAt: time.Now()}
	require.NoError(t, f.codes.CreateDiscountCode(ctx, dc))

	resp, err := f.svc.CheckCoupon(ctx, "ivan", models.CouponCheckRequest{EventID: event.ID, Code: "FIXED"})
	require.NoError(t, err)
	assert.Equal(t, int64(30000), resp.DiscountAmount)
	assert.Equal(t, int64(70000), resp.FinalPrice)

	_, err = f.svc.CheckCoupon(ctx, "ivan", models.CouponCheckRequest{EventID: event.ID, Code: ""})
	assert.ErrorIs(t, err, discount.ErrInvalidDiscount)

	_, err = f.svc.CheckCoupon(ctx, "ivan", models.CouponCheckRequest{EventID: 9999, Code: "FIXED"})
	assert.ErrorIs(t, err, payment.ErrEventNotFound)

	// previews never create registrations
	reg, err := f.regs.FindActiveRegistration(ctx, event.ID, "ivan")
	require.NoError(t, err)
	assert.Nil(t, reg)
}
