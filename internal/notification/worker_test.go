package notification_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ms-registration/internal/config"
	"ms-registration/internal/logger"
	"ms-registration/internal/models"
	"ms-registration/internal/notification"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcProcessor func(ctx context.Context, task models.NotificationTask) error

func (f funcProcessor) Process(ctx context.Context, task models.NotificationTask) error {
	return f(ctx, task)
}

func fastConfig(workers int) config.NotificationConfig {
	return config.NotificationConfig{
		Workers:        workers,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		TaskTimeout:    time.Second,
	}
}

func quietLogger() *logger.Logger {
	return logger.NewWithWriter("test", io.Discard)
}

func TestHandleRetriesUntilSuccess(t *testing.T) {
	var calls int32
	pool := notification.NewPool(funcProcessor(func(ctx context.Context, task models.NotificationTask) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("smtp unavailable")
		}
		return nil
	}), fastConfig(1), quietLogger())

	require.NoError(t, pool.Handle(context.Background(), models.NotificationTask{Kind: models.KindEventAnnouncement, EventID: 1, UserID: "alice"}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHandleGivesUp(t *testing.T) {
	var calls int32
	boom := errors.New("smtp unavailable")
	pool := notification.NewPool(funcProcessor(func(ctx context.Context, task models.NotificationTask) error {
		atomic.AddInt32(&calls, 1)
		return boom
	}), fastConfig(1), quietLogger())

	err := pool.Handle(context.Background(), models.NotificationTask{Kind: models.KindEventAnnouncement, EventID: 1, UserID: "alice"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "first attempt plus three retries")
}

func TestHandlePermanentErrorIsNotRetried(t *testing.T) {
	var calls int32
	missing := errors.New("event gone")
	pool := notification.NewPool(funcProcessor(func(ctx context.Context, task models.NotificationTask) error {
		atomic.AddInt32(&calls, 1)
		return backoff.Permanent(missing)
	}), fastConfig(1), quietLogger())

	err := pool.Handle(context.Background(), models.NotificationTask{Kind: models.KindEventAnnouncement, EventID: 1, UserID: "alice"})
	assert.ErrorIs(t, err, missing)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRunDrainsMemoryQueue(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	pool := notification.NewPool(funcProcessor(func(ctx context.Context, task models.NotificationTask) error {
		mu.Lock()
		seen[task.UserID] = true
		mu.Unlock()
		return nil
	}), fastConfig(4), quietLogger())

	queue := notification.NewMemoryQueue(16)
	users := []string{"a", "b", "c", "d", "e", "f"}
	for _, u := range users {
		require.NoError(t, queue.Enqueue(context.Background(), models.NotificationTask{Kind: models.KindEventAnnouncement, EventID: 1, UserID: u}))
	}
	queue.Close()

	require.NoError(t, pool.Run(context.Background(), queue.Tasks()))
	assert.Len(t, seen, len(users))

	err := queue.Enqueue(context.Background(), models.NotificationTask{Kind: models.KindEventAnnouncement, EventID: 1, UserID: "late"})
	assert.ErrorIs(t, err, notification.ErrQueueClosed)
}

type fakeSource struct {
	messages []kafka.Message
	errs     []error
}

func (f *fakeSource) Run(ctx context.Context, handle func(context.Context, kafka.Message) error) error {
	for _, m := range f.messages {
		f.errs = append(f.errs, handle(ctx, m))
	}
	return nil
}

func TestRunSourcesDecodesMessages(t *testing.T) {
	var calls int32
	pool := notification.NewPool(funcProcessor(func(ctx context.Context, task models.NotificationTask) error {
		assert.Equal(t, models.KindRegistrationConfirmation, task.Kind)
		atomic.AddInt32(&calls, 1)
		return nil
	}), fastConfig(1), quietLogger())

	src := &fakeSource{messages: []kafka.Message{
		{Value: []byte(`{"kind":"registration_confirmation","event_id":1,"user_id":"alice","registration_id":3,"context":"registration:3"}`)},
		{Value: []byte(`not json`)},
		{Value: []byte(`{"kind":"registration_confirmation"}`)},
	}}
	require.NoError(t, pool.RunSources(context.Background(), src))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Len(t, src.errs, 3)
	assert.NoError(t, src.errs[0])
	assert.Error(t, src.errs[1])
	assert.Error(t, src.errs[2])
}
