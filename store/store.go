// Package store defines the storage collaborator behind the chat core
// and provides in-memory and SQLite-backed implementations.
package store

import (
	"errors"

	"github.com/gablg1/http-sucks-chat/models"
)

var (
	ErrUserExists   = errors.New("store: user already exists")
	ErrGroupExists  = errors.New("store: group already exists")
	ErrUnknownUser  = errors.New("store: unknown user")
	ErrUnknownGroup = errors.New("store: unknown group")
	ErrNoSession    = errors.New("store: no session for token")
)

// Store is the persistence contract consumed by the chat core. Find
// patterns are Go regular expressions matched against the full name; an
// empty pattern matches everything. Implementations must be safe for
// concurrent use.
type Store interface {
	// Accounts. CreateUser hashes the password before storing it and
	// fails ErrUserExists on a taken username. DeleteUser cascades:
	// group memberships and any queued mailbox entries go with the
	// account.
	CreateUser(username, password string) error
	Authenticate(username, password string) (bool, error)
	UserExists(username string) (bool, error)
	GetUser(username string) (models.User, error)
	DeleteUser(username string) error
	FindUsers(pattern string) ([]string, error)

	// Sessions. SetSession marks the user logged in under token;
	// ClearSession logs the user out. UserForSession resolves a live
	// token to its username or fails ErrNoSession.
	SetSession(username, token string) error
	ClearSession(username string) error
	UserForSession(token string) (string, error)

	// Groups. AddUserToGroup is idempotent and keeps the user's group
	// set and the group's member set consistent in one step.
	CreateGroup(name string) error
	AddUserToGroup(username, group string) error
	GroupMembers(group string) ([]string, error)
	FindGroups(pattern string) ([]string, error)

	// Mailboxes. DrainMailbox returns all queued messages in FIFO
	// order and clears the mailbox in the same atomic step.
	QueueMessage(recipient string, msg models.Message) error
	DrainMailbox(username string) ([]models.Message, error)

	Close() error
}
