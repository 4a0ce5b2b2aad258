package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistrationWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	before, after := now.Add(-time.Hour), now.Add(time.Hour)

	tests := []struct {
		name   string
		start  *time.Time
		end    *time.Time
		notYet bool
		ended  bool
	}{
		{name: "no window"},
		{name: "inside window", start: &before, end: &after},
		{name: "not yet open", start: &after, notYet: true},
		{name: "ended", end: &before, ended: true},
		{name: "exactly at end", end: &now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Event{RegistrationStartDate: tt.start, RegistrationEndDate: tt.end}
			assert.Equal(t, tt.notYet, e.RegistrationNotYetOpen(now))
			assert.Equal(t, tt.ended, e.RegistrationEnded(now))
		})
	}
}

func TestEventHelpers(t *testing.T) {
	assert.True(t, (&Event{Price: 0}).IsFree())
	assert.False(t, (&Event{Price: 50000}).IsFree())

	assert.True(t, RegistrationConfirmed.IsActive())
	assert.True(t, RegistrationPending.IsActive())
	assert.False(t, RegistrationCancelled.IsActive())
}
