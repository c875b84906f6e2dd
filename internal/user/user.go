package user

import "time"

// User is a registered account. Password is stored as given; hashing is
// left to whoever provisions credentials.
type User struct {
	Username  string    `json:"username" bson:"username"`
	Password  string    `json:"password" bson:"password"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	LastLogin time.Time `json:"last_login" bson:"last_login"`
}

// New creates a user record with CreatedAt and LastLogin set to now.
func New(username, password string) *User {
	ts := time.Now().UTC().Truncate(time.Millisecond)
	return &User{
		Username:  username,
		Password:  password,
		CreatedAt: ts,
		LastLogin: ts,
	}
}
