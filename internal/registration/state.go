package registration

import "ms-registration/internal/models"

// transitions lists the ordinary lifecycle. Cancelled and attended are
// absorbing; only staff can move a registration out of them.
var transitions = map[models.RegistrationStatus][]models.RegistrationStatus{
	models.RegistrationPending:   {models.RegistrationConfirmed, models.RegistrationCancelled},
	models.RegistrationConfirmed: {models.RegistrationCancelled, models.RegistrationAttended},
}

// CanTransition reports whether from → to is an ordinary transition.
func CanTransition(from, to models.RegistrationStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Actor is whoever asks for a status change.
type Actor struct {
	UserID  string
	IsStaff bool
}

func (a Actor) owns(reg *models.Registration) bool {
	return reg.UserID == a.UserID
}
