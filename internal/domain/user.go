package domain

// User is a registered account. Username is the identity key.
type User struct {
	Username string
	Email    string
	Password string
}
