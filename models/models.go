package models

// User is an account record as kept by the store. Password holds the
// bcrypt hash, never the cleartext.
type User struct {
	Username     string
	Password     string
	Groups       []string
	LoggedIn     bool
	SessionToken string
}

// Message is a single mailbox entry. FromGroup is set only when the
// message arrived through a group fan-out.
type Message struct {
	Body      string
	From      string
	FromGroup string
}
