package users

import "time"

// DefaultDisplayName is shown for authors with neither a name nor an email.
const DefaultDisplayName = "Usuario"

type User struct {
	ID        string    `json:"id"`
	Name      *string   `json:"name,omitempty"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName resolves name, then email, then DefaultDisplayName.
// Empty strings fall through like absent values.
func (u User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	if u.Email != nil && *u.Email != "" {
		return *u.Email
	}
	return DefaultDisplayName
}
