package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateTicketID returns a fresh opaque ticket identifier.
func GenerateTicketID() string {
	return uuid.NewString()
}

// GenerateLockToken identifies the holder of a redis lock.
func GenerateLockToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
