package notification

import (
	"context"
	"fmt"
	"time"

	"ms-registration/internal/config"
	"ms-registration/internal/logger"
	"ms-registration/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// Processor delivers one task. Errors wrapped with backoff.Permanent are
// not retried.
type Processor interface {
	Process(ctx context.Context, task models.NotificationTask) error
}

// MessageSource is satisfied by *kafka.Consumer from internal/kafka.
type MessageSource interface {
	Run(ctx context.Context, handle func(context.Context, kafka.Message) error) error
}

type Pool struct {
	processor Processor
	cfg       config.NotificationConfig
	logger    *logger.Logger
}

func NewPool(processor Processor, cfg config.NotificationConfig, log *logger.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pool{processor: processor, cfg: cfg, logger: log}
}

// Run starts the workers on tasks and returns once tasks is closed and
// drained, or ctx is cancelled.
func (p *Pool) Run(ctx context.Context, tasks <-chan models.NotificationTask) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.logger.Debug("WORKER", fmt.Sprintf("worker %d started", worker))
			for {
				select {
				case <-ctx.Done():
					return nil
				case task, ok := <-tasks:
					if !ok {
						return nil
					}
					_ = p.Handle(ctx, task)
				}
			}
		})
	}
	return g.Wait()
}

// RunSources consumes task messages from every source concurrently, one
// worker per source.
func (p *Pool) RunSources(ctx context.Context, sources ...MessageSource) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			return src.Run(ctx, p.HandleMessage)
		})
	}
	return g.Wait()
}

// HandleMessage decodes and delivers one task message. Undecodable messages
// are reported and skipped.
func (p *Pool) HandleMessage(ctx context.Context, msg kafka.Message) error {
	task, err := DecodeTask(msg.Value)
	if err != nil {
		return err
	}
	return p.Handle(ctx, task)
}

// Handle delivers one task with bounded exponential retry. Every attempt goes
// back through the dispatch log claim.
func (p *Pool) Handle(ctx context.Context, task models.NotificationTask) error {
	b := backoff.NewExponentialBackOff()
	if p.cfg.InitialBackoff > 0 {
		b.InitialInterval = p.cfg.InitialBackoff
	}
	if p.cfg.MaxBackoff > 0 {
		b.MaxInterval = p.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		actx := ctx
		if p.cfg.TaskTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
			defer cancel()
		}
		return p.processor.Process(actx, task)
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("WORKER", fmt.Sprintf("%s for user %s (event %d) attempt %d failed, retrying in %s: %v",
			task.Kind, task.UserID, task.EventID, attempt, wait, err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.cfg.MaxRetries), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		p.logger.Error("WORKER", fmt.Sprintf("%s for user %s (event %d) gave up after %d attempts: %v",
			task.Kind, task.UserID, task.EventID, attempt, err))
		return err
	}
	return nil
}
