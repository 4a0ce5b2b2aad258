package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"ms-registration/internal/models"
)

var ErrQueueClosed = errors.New("notification queue closed")

// Queue accepts tasks for asynchronous delivery.
type Queue interface {
	Enqueue(ctx context.Context, task models.NotificationTask) error
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v interface{}) error
}

// KafkaQueue writes tasks to the task topic, keyed by recipient so one
// user's messages stay on one partition.
type KafkaQueue struct {
	publisher Publisher
	topic     string
}

func NewKafkaQueue(publisher Publisher, topic string) *KafkaQueue {
	return &KafkaQueue{publisher: publisher, topic: topic}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, task models.NotificationTask) error {
	return q.publisher.PublishJSON(ctx, q.topic, task.UserID, task)
}

// DecodeTask parses a task message read from the task topic.
func DecodeTask(data []byte) (models.NotificationTask, error) {
	var task models.NotificationTask
	if err := json.Unmarshal(data, &task); err != nil {
		return task, fmt.Errorf("decode notification task: %w", err)
	}
	if task.Kind == "" || task.EventID == 0 || task.UserID == "" {
		return task, fmt.Errorf("decode notification task: missing kind, event or user")
	}
	return task, nil
}

// MemoryQueue runs tasks inside the current process. Enqueue blocks while
// the buffer is full.
type MemoryQueue struct {
	mu     sync.RWMutex
	tasks  chan models.NotificationTask
	closed bool
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	return &MemoryQueue{tasks: make(chan models.NotificationTask, buffer)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task models.NotificationTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tasks is drained by Pool.Run.
func (q *MemoryQueue) Tasks() <-chan models.NotificationTask {
	return q.tasks
}

// Close stops intake; tasks already buffered are still delivered.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}
