package registration

import (
	"testing"

	"ms-registration/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.RegistrationStatus
		want     bool
	}{
		{models.RegistrationPending, models.RegistrationConfirmed, true},
		{models.RegistrationPending, models.RegistrationCancelled, true},
		{models.RegistrationPending, models.RegistrationAttended, false},
		{models.RegistrationConfirmed, models.RegistrationAttended, true},
		{models.RegistrationConfirmed, models.RegistrationCancelled, true},
		{models.RegistrationConfirmed, models.RegistrationPending, false},
		{models.RegistrationCancelled, models.RegistrationPending, false},
		{models.RegistrationCancelled, models.RegistrationConfirmed, false},
		{models.RegistrationAttended, models.RegistrationCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}
