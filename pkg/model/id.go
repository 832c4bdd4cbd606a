package model

import "github.com/google/uuid"

// NewID generates a new random identifier, used for subscriber IDs,
// tool-call IDs, and snapshot IDs throughout the runtime.
func NewID() string {
	return uuid.NewString()
}
