package util

import "github.com/google/uuid"

// NewID returns a new random record identifier.
func NewID() string {
	return uuid.NewString()
}
