package models

import "time"

// User is the owner of raw prompts, events and categories.
// ID is the identity provider's subject claim.
type User struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}
