package notification

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"ms-registration/internal/logger"
	"ms-registration/internal/models"

	"github.com/uptrace/bun"
)

const maxErrorLength = 1000

// DispatchLog records which (event, user, kind, context) messages have been
// claimed or sent, so retries and duplicate tasks never send twice.
type DispatchLog struct {
	db     bun.IDB
	logger *logger.Logger
	now    func() time.Time
}

func NewDispatchLog(db bun.IDB, log *logger.Logger) *DispatchLog {
	return &DispatchLog{db: db, logger: log, now: time.Now}
}

// ContextHash is the hex sha256 of a message scope, or "" for no scope.
func ContextHash(scope string) string {
	if scope == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(scope))
	return hex.EncodeToString(sum[:])
}

// Claim reserves the right to send one message. alreadyClaimed is true when
// another attempt holds the row (pending) or the message went out (sent); a
// failed row is handed back out as pending.
func (d *DispatchLog) Claim(ctx context.Context, eventID int64, userID string, kind models.NotificationKind, scope string) (*models.NotificationLog, bool, error) {
	now := d.now()
	hash := ContextHash(scope)

	// Step 1: insert the row unless the key exists
	entry := &models.NotificationLog{
		EventID:     eventID,
		UserID:      userID,
		Kind:        kind,
		ContextHash: hash,
		Status:      models.NotificationPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	res, err := d.db.NewInsert().
		Model(entry).
		On("CONFLICT (event_id, user_id, kind, context_hash) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("claim insert: %w", err)
	}
	inserted := affected(res) == 1

	// Step 2: take over a row whose last attempt failed
	reset := false
	if !inserted {
		res, err := d.db.NewUpdate().
			Model((*models.NotificationLog)(nil)).
			Set("status = ?", models.NotificationPending).
			Set("error = ?", "").
			Set("updated_at = ?", now).
			Where("event_id = ?", eventID).
			Where("user_id = ?", userID).
			Where("kind = ?", kind).
			Where("context_hash = ?", hash).
			Where("status = ?", models.NotificationFailed).
			Exec(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("claim reset: %w", err)
		}
		reset = affected(res) == 1
	}

	// Step 3: read back the row as it stands now
	var row models.NotificationLog
	err = d.db.NewSelect().
		Model(&row).
		Where("event_id = ?", eventID).
		Where("user_id = ?", userID).
		Where("kind = ?", kind).
		Where("context_hash = ?", hash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("claim read: %w", err)
	}
	return &row, !inserted && !reset, nil
}

func (d *DispatchLog) MarkSent(ctx context.Context, entry *models.NotificationLog) error {
	now := d.now()
	_, err := d.db.NewUpdate().
		Model((*models.NotificationLog)(nil)).
		Set("status = ?", models.NotificationSent).
		Set("sent_at = ?", now).
		Set("error = ?", "").
		Set("updated_at = ?", now).
		Where("id = ?", entry.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark sent %d: %w", entry.ID, err)
	}
	entry.Status = models.NotificationSent
	entry.SentAt = &now
	entry.Error = ""
	return nil
}

func (d *DispatchLog) MarkFailed(ctx context.Context, entry *models.NotificationLog, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	_, err := d.db.NewUpdate().
		Model((*models.NotificationLog)(nil)).
		Set("status = ?", models.NotificationFailed).
		Set("sent_at = NULL").
		Set("error = ?", msg).
		Set("updated_at = ?", d.now()).
		Where("id = ?", entry.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", entry.ID, err)
	}
	entry.Status = models.NotificationFailed
	entry.SentAt = nil
	entry.Error = msg
	return nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
