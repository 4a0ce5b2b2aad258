package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ms-registration/internal/config"
	"ms-registration/internal/kafka"
	"ms-registration/internal/logger"
	"ms-registration/internal/models"
	"ms-registration/internal/notification"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

func announceCmd() *cobra.Command {
	var (
		subject  string
		body     string
		bodyFile string
		statuses []string
	)
	cmd := &cobra.Command{
		Use:   "announce [event-id]",
		Short: "Send an announcement to an event's registrants",
		Long: `Queue one announcement email per registration of the event.

Recipients default to confirmed, attended and pending registrations whose user
has an email address. Re-running the same subject and body does not send twice.

Examples:
  registration-cli announce 12 --subject "Venue change" --body "<p>Hall B</p>"
  registration-cli announce 12 --subject "Slides" --body-file slides.html --status confirmed,attended`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q", args[0])
			}
			if bodyFile != "" {
				raw, err := os.ReadFile(bodyFile)
				if err != nil {
					return err
				}
				body = string(raw)
			}
			if strings.TrimSpace(subject) == "" || strings.TrimSpace(body) == "" {
				return fmt.Errorf("--subject and --body (or --body-file) are required")
			}
			var wanted []models.RegistrationStatus
			for _, s := range statuses {
				wanted = append(wanted, models.RegistrationStatus(strings.TrimSpace(s)))
			}

			return withNotifier(cmd.Context(), func(svc *notification.Service) error {
				queued, err := svc.QueueEventAnnouncement(cmd.Context(), eventID, subject, body, wanted)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %d announcement(s) for event %d\n", queued, eventID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "email subject")
	cmd.Flags().StringVarP(&body, "body", "b", "", "HTML body")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "read the HTML body from a file")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "registration statuses to target")
	return cmd
}

func resendConfirmationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend-confirmation [registration-id]",
		Short: "Queue the confirmation email again; a no-op if it was already sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid registration id %q", args[0])
			}
			return withNotifier(cmd.Context(), func(svc *notification.Service) error {
				if err := svc.ResendConfirmation(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "confirmation queued for registration %d\n", id)
				return nil
			})
		},
	}
}

// withNotifier hands fn a notification service. In kafka mode tasks go to the
// worker topic; otherwise they are delivered here before returning.
func withNotifier(ctx context.Context, fn func(svc *notification.Service) error) error {
	log := newLogger()
	cfg, db, err := openDB(ctx, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Kafka.Enabled && cfg.Notification.QueueMode == "kafka" {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		svc, err := notification.NewFromConfig(cfg, db, producer, notification.NewKafkaQueue(producer, cfg.Kafka.Topics.NotificationTasks), log)
		if err != nil {
			return err
		}
		return fn(svc)
	}
	return runInline(ctx, cfg, db, log, fn)
}

func runInline(ctx context.Context, cfg *config.Config, db *bun.DB, log *logger.Logger, fn func(svc *notification.Service) error) error {
	queue := notification.NewMemoryQueue(cfg.Notification.Workers * 64)
	svc, err := notification.NewFromConfig(cfg, db, nil, queue, log)
	if err != nil {
		return err
	}
	pool := notification.NewPool(svc, cfg.Notification, log)

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx, queue.Tasks()) }()

	fnErr := fn(svc)
	queue.Close()
	if err := <-done; err != nil {
		return err
	}
	return fnErr
}
