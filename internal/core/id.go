package core

import "github.com/google/uuid"

// GenerateID returns a new random entity id.
func GenerateID() string {
	return uuid.New().String()
}
