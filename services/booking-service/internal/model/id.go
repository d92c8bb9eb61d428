package model

import "github.com/google/uuid"

// ValidID reports whether id could name a stored entity. Anything else is
// answered as not found without touching storage.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
