package domain

import "time"

// Identity holds a user's local password credential. Grant and deactivate
// re-prove account ownership against it before mutating role state.
type Identity struct {
	ID           string
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
}
