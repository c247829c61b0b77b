package user

import "time"

// User is a member of the travel app. Accounts are owned by the session
// service; this package only reads them.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
