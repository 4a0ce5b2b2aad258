package models

import (
	"time"

	"github.com/uptrace/bun"
)

type NotificationKind string

const (
	KindRegistrationConfirmation NotificationKind = "registration_confirmation"
	KindRegistrationCancellation NotificationKind = "registration_cancellation"
	KindEventAnnouncement        NotificationKind = "event_announcement"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationLog is the dispatch ledger row for one (event, user, kind, context).
type NotificationLog struct {
	bun.BaseModel `bun:"table:notification_logs"`

	ID          int64              `bun:"id,pk,autoincrement" json:"id"`
	EventID     int64              `bun:"event_id,notnull" json:"event_id"`
	UserID      string             `bun:"user_id,notnull" json:"user_id"`
	Kind        NotificationKind   `bun:"kind,notnull" json:"kind"`
	ContextHash string             `bun:"context_hash,notnull,default:''" json:"context_hash"`
	Status      NotificationStatus `bun:"status,notnull,default:'pending'" json:"status"`
	Error       string             `bun:"error,notnull,default:''" json:"error,omitempty"`
	SentAt      *time.Time         `bun:"sent_at" json:"sent_at,omitempty"`
	CreatedAt   time.Time          `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time          `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// NotificationTask is one unit of fan-out work: a single message to a single
// recipient. It travels through the task queue as JSON.
type NotificationTask struct {
	Kind           NotificationKind `json:"kind"`
	EventID        int64            `json:"event_id"`
	UserID         string           `json:"user_id"`
	RegistrationID int64            `json:"registration_id"`
	Subject        string           `json:"subject,omitempty"`
	Body           string           `json:"body,omitempty"`
	Context        string           `json:"context,omitempty"`
	EnqueuedAt     time.Time        `json:"enqueued_at"`
}

type AnnouncementRequest struct {
	Subject  string               `json:"subject"`
	Body     string               `json:"body"`
	Statuses []RegistrationStatus `json:"statuses,omitempty"`
}

type AnnouncementResponse struct {
	EventID int64 `json:"event_id"`
	Queued  int   `json:"queued"`
}

// PushMessage is published to the push topic for the external push gateway.
type PushMessage struct {
	DeviceToken string    `json:"device_token"`
	DeviceType  string    `json:"device_type"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
}
