// Package chat implements the server-side engine: session lifecycle,
// directory and group operations, and store-and-forward message
// routing. The transport drives these operations through direct
// in-process calls and answers the Presence interface in return.
package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gablg1/http-sucks-chat/models"
	"github.com/gablg1/http-sucks-chat/store"
)

var (
	ErrInvalidCredentials = errors.New("chat: invalid credentials")
	ErrNotLoggedIn        = errors.New("chat: not logged in")
)

// KickoutNotice is the terminal message pushed to a session that is
// being displaced by a newer login on the same account.
const KickoutNotice = "You've been kicked, as someone has logged into your account. " +
	"You should really be using 2FA."

// Presence is answered by the transport layer, which exclusively owns
// the username-to-connection association. IsOnline is decoupled from
// the act of sending so the router can decide deliver-now vs enqueue
// explicitly.
type Presence interface {
	IsOnline(username string) bool
	Push(username string, msg models.Message) error
	Kickout(username, notice string)
}

// NopPresence reports everyone offline. It backs consumers without a
// push channel, where every send lands in a mailbox.
type NopPresence struct{}

func (NopPresence) IsOnline(string) bool { return false }

func (NopPresence) Push(string, models.Message) error {
	return errors.New("chat: no transport attached")
}

func (NopPresence) Kickout(string, string) {}

// Core owns the store handle and the presence collaborator.
type Core struct {
	store    store.Store
	presence Presence
	log      zerolog.Logger
}

func NewCore(st store.Store, logger zerolog.Logger) *Core {
	return &Core{
		store:    st,
		presence: NopPresence{},
		log:      logger,
	}
}

// AttachPresence hands the core its transport-side collaborator. Called
// once by the serving transport before it starts accepting.
func (c *Core) AttachPresence(p Presence) {
	c.presence = p
}

// Login validates credentials and issues a fresh session token. A user
// who is already logged in elsewhere gets kicked out first, so one
// account never holds two live sessions.
func (c *Core) Login(username, password string) (string, error) {
	ok, err := c.store.Authenticate(username, password)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidCredentials
	}

	user, err := c.store.GetUser(username)
	if err != nil {
		return "", err
	}
	if user.LoggedIn {
		c.log.Info().Str("user", username).Msg("kicking out previous session")
		c.presence.Kickout(username, KickoutNotice)
	}

	token, err := newSessionToken()
	if err != nil {
		return "", err
	}
	if err := c.store.SetSession(username, token); err != nil {
		return "", err
	}
	return token, nil
}

// Logout clears the user's session. Fails ErrNotLoggedIn when no
// session is active.
func (c *Core) Logout(username string) error {
	user, err := c.store.GetUser(username)
	if err != nil {
		return err
	}
	if !user.LoggedIn {
		return ErrNotLoggedIn
	}
	return c.store.ClearSession(username)
}

// Resolve maps a live session token back to its username.
func (c *Core) Resolve(token string) (string, error) {
	username, err := c.store.UserForSession(token)
	if errors.Is(err, store.ErrNoSession) {
		return "", ErrNotLoggedIn
	}
	return username, err
}

// IsOnline reports whether the user has a live connection registered
// with the transport.
func (c *Core) IsOnline(username string) bool {
	return c.presence.IsOnline(username)
}

func (c *Core) UsernameExists(username string) (bool, error) {
	return c.store.UserExists(username)
}

func (c *Core) CreateAccount(username, password string) error {
	return c.store.CreateUser(username, password)
}

// DeleteAccount removes the caller's account. The store cascades the
// deletion: session token, mailbox and group memberships all go.
func (c *Core) DeleteAccount(token string) (string, error) {
	username, err := c.Resolve(token)
	if err != nil {
		return "", err
	}
	if err := c.store.DeleteUser(username); err != nil {
		return "", err
	}
	return username, nil
}

func (c *Core) CreateGroup(name string) error {
	return c.store.CreateGroup(name)
}

func (c *Core) AddUserToGroup(username, group string) error {
	return c.store.AddUserToGroup(username, group)
}

func (c *Core) FindUsers(pattern string) ([]string, error) {
	return c.store.FindUsers(pattern)
}

func (c *Core) FindGroups(pattern string) ([]string, error) {
	return c.store.FindGroups(pattern)
}

// SendToUser routes one message: push immediately when the recipient is
// online, otherwise append to their mailbox. An unknown recipient is
// rejected before any mailbox mutation.
func (c *Core) SendToUser(token, recipient, body string) error {
	sender, err := c.Resolve(token)
	if err != nil {
		return err
	}
	return c.deliver(sender, recipient, body, "")
}

// SendToGroup fans a message out to every current member. Member
// outcomes are independent: one vanished member never aborts delivery
// to the rest.
func (c *Core) SendToGroup(token, group, body string) error {
	sender, err := c.Resolve(token)
	if err != nil {
		return err
	}

	members, err := c.store.GroupMembers(group)
	if err != nil {
		return err
	}
	for _, member := range members {
		if err := c.deliver(sender, member, body, group); err != nil {
			c.log.Warn().Err(err).
				Str("group", group).
				Str("member", member).
				Msg("group fan-out: member delivery failed")
		}
	}
	return nil
}

func (c *Core) deliver(sender, recipient, body, group string) error {
	exists, err := c.store.UserExists(recipient)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrUnknownUser
	}

	msg := models.Message{Body: body, From: sender, FromGroup: group}
	if c.presence.IsOnline(recipient) {
		if err := c.presence.Push(recipient, msg); err == nil {
			return nil
		}
		// Stale connection; the mailbox keeps the message.
		c.log.Warn().Str("recipient", recipient).Msg("push failed, queueing instead")
	}
	return c.store.QueueMessage(recipient, msg)
}

// Fetch atomically drains the caller's mailbox and returns the entries
// as newline-joined display lines. An empty mailbox yields "".
func (c *Core) Fetch(token string) (string, error) {
	_, msgs, err := c.FetchMessages(token)
	if err != nil {
		return "", err
	}
	return RenderMailbox(msgs), nil
}

// FetchMessages atomically drains the caller's mailbox and returns the
// raw entries along with the resolved username. Callers that fail to
// deliver the batch hand it back through Requeue.
func (c *Core) FetchMessages(token string) (string, []models.Message, error) {
	username, err := c.Resolve(token)
	if err != nil {
		return "", nil, err
	}

	msgs, err := c.store.DrainMailbox(username)
	if err != nil {
		return "", nil, err
	}
	return username, msgs, nil
}

// Requeue returns drained messages to the user's mailbox in their
// original order, for when the fetched batch could not be delivered.
func (c *Core) Requeue(username string, msgs []models.Message) {
	for _, msg := range msgs {
		if err := c.store.QueueMessage(username, msg); err != nil {
			c.log.Error().Err(err).Str("user", username).Msg("requeue failed, message lost")
		}
	}
}

// RenderMailbox joins mailbox entries into the newline-separated text
// shown to users.
func RenderMailbox(msgs []models.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		lines = append(lines, FormatMessage(msg))
	}
	return strings.Join(lines, "\n")
}

// FormatMessage renders a mailbox entry the way it is shown to users:
// "sender >>> body", or "sender @ group >>> body" for group deliveries.
func FormatMessage(msg models.Message) string {
	if msg.FromGroup != "" {
		return fmt.Sprintf("%s @ %s >>> %s", msg.From, msg.FromGroup, msg.Body)
	}
	return fmt.Sprintf("%s >>> %s", msg.From, msg.Body)
}
