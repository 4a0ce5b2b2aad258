// Package dbtest opens throwaway sqlite databases with the full schema.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"ms-registration/internal/database"
	"ms-registration/internal/models"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

// New returns an in-memory sqlite database private to t, closed on cleanup.
func New(t *testing.T) *bun.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	sqldb, err := sql.Open("sqlite", dsn)
	require.NoError(t, err, "open in-memory database")
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.CreateSchema(context.Background(), bunDB))

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

// SeedUser inserts a user with an email address.
func SeedUser(t *testing.T, db *bun.DB, id string) *models.User {
	t.Helper()
	user := &models.User{ID: id, Email: id + "@example.com", FullName: "User " + id, CreatedAt: time.Now()}
	_, err := db.NewInsert().Model(user).Exec(context.Background())
	require.NoError(t, err)
	return user
}

// SeedEvent inserts a published event with the given price and capacity.
func SeedEvent(t *testing.T, db *bun.DB, price int64, capacity *int) *models.Event {
	t.Helper()
	now := time.Now()
	event := &models.Event{
		Title:     "Event",
		Slug:      fmt.Sprintf("event-%d", now.UnixNano()),
		StartTime: now.Add(48 * time.Hour),
		EndTime:   now.Add(50 * time.Hour),
		Status:    models.EventStatusPublished,
		Capacity:  capacity,
		Price:     price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := db.NewInsert().Model(event).Returning("id").Exec(context.Background())
	require.NoError(t, err)
	return event
}
