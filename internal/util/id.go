package util

import "github.com/google/uuid"

// NewID returns a random identifier for jobs, consumers and request tracing.
func NewID() string {
	return uuid.NewString()
}
