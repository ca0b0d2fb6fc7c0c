// Package client is the RDTP chat client: one persistent connection,
// one background listener that splits unsolicited pushes from
// correlated responses, and blocking-with-timeout request calls.
package client

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gablg1/http-sucks-chat/rdtp"
)

var (
	ErrUnresponsive       = errors.New("client: server unresponsive")
	ErrDisconnected       = errors.New("client: disconnected from server")
	ErrInvalidCredentials = errors.New("client: invalid credentials")
	ErrNotLoggedIn        = errors.New("client: not logged in")
	ErrUserExists         = errors.New("client: username already exists")
	ErrGroupExists        = errors.New("client: group already exists")
	ErrUnknownUser        = errors.New("client: no such user")
	ErrUnknownGroup       = errors.New("client: no such group")
	ErrRejected           = errors.New("client: request rejected")
)

// EmptyInbox is what Fetch returns when the server had nothing queued.
const EmptyInbox = "Your inbox is empty."

// DefaultTimeout bounds how long a call waits for its response before
// reporting the server unresponsive.
const DefaultTimeout = 3 * time.Second

type response struct {
	status byte
	args   []string
}

// Client issues one request at a time over a single connection.
// Responses correlate strictly FIFO with requests; pipelining is not
// supported. OnMessage and OnKick, if set before Connect, receive
// pushes on the listener goroutine.
type Client struct {
	OnMessage func(text string)
	OnKick    func(notice string)

	conn    net.Conn
	timeout time.Duration

	responses chan response
	lost      chan struct{}
	lostOnce  sync.Once

	username string
	token    string
}

func New() *Client {
	return &Client{
		timeout:   DefaultTimeout,
		responses: make(chan response, 16),
		lost:      make(chan struct{}),
	}
}

// SetTimeout overrides the per-request response timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Connect dials the server and starts the listener goroutine.
func (c *Client) Connect(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}
	c.conn = conn

	go c.listener()
	return nil
}

// Close tears the connection down. Any queued messages stay on the
// server until fetched by a future session.
func (c *Client) Close() error {
	c.markLost()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Username returns the name this client logged in as, or "".
func (c *Client) Username() string {
	return c.username
}

// listener decodes frames forever: responses go to the response queue,
// message pushes go straight to OnMessage, and a kickout halts the
// client.
func (c *Client) listener() {
	for {
		frame, err := rdtp.ReadFrame(c.conn)
		if err != nil {
			c.markLost()
			return
		}

		switch frame.Action {
		case rdtp.ActionResponse:
			c.responses <- response{status: frame.Status, args: frame.Args}
		case rdtp.ActionMessage:
			if c.OnMessage != nil {
				c.OnMessage(frame.Arg(0))
			}
		case rdtp.ActionKill:
			if c.OnKick != nil {
				c.OnKick(frame.Arg(0))
			}
			c.markLost()
			c.conn.Close()
			return
		}
	}
}

func (c *Client) markLost() {
	c.lostOnce.Do(func() { close(c.lost) })
}

// request sends one frame and blocks for the next queued response.
// Server silence beyond the timeout is a distinct outcome, never
// success.
func (c *Client) request(action string, args ...string) (response, error) {
	select {
	case <-c.lost:
		return response{}, ErrDisconnected
	default:
	}

	if err := rdtp.WriteFrame(c.conn, action, rdtp.StatusOK, args...); err != nil {
		return response{}, err
	}

	select {
	case r := <-c.responses:
		return r, nil
	case <-c.lost:
		return response{}, ErrDisconnected
	case <-time.After(c.timeout):
		return response{}, ErrUnresponsive
	}
}

// statusErr maps a response status onto the errors that fit the call
// that was made.
func statusErr(r response, unauthorized, conflict error) error {
	switch r.status {
	case rdtp.StatusOK:
		return nil
	case rdtp.StatusUnauthorized:
		return unauthorized
	case rdtp.StatusConflict:
		return conflict
	default:
		return ErrRejected
	}
}

// UsernameExists asks whether the username is taken.
func (c *Client) UsernameExists(username string) (bool, error) {
	r, err := c.request(rdtp.ActionUsernameExists, username)
	if err != nil {
		return false, err
	}
	return r.status == rdtp.StatusUnauthorized, nil
}

func (c *Client) CreateAccount(username, password string) error {
	r, err := c.request(rdtp.ActionCreateAccount, username, password)
	if err != nil {
		return err
	}
	return statusErr(r, ErrRejected, ErrUserExists)
}

func (c *Client) CreateGroup(name string) error {
	r, err := c.request(rdtp.ActionCreateGroup, name)
	if err != nil {
		return err
	}
	return statusErr(r, ErrNotLoggedIn, ErrGroupExists)
}

// Login authenticates and stores the issued session token for later
// calls.
func (c *Client) Login(username, password string) error {
	r, err := c.request(rdtp.ActionLogin, username, password)
	if err != nil {
		return err
	}
	if err := statusErr(r, ErrInvalidCredentials, ErrRejected); err != nil {
		return err
	}

	c.username = username
	c.token = r.args[0]
	return nil
}

func (c *Client) Logout() error {
	if c.token == "" {
		return ErrNotLoggedIn
	}
	r, err := c.request(rdtp.ActionLogout, c.token)
	if err != nil {
		return err
	}
	if err := statusErr(r, ErrNotLoggedIn, ErrRejected); err != nil {
		return err
	}

	c.username = ""
	c.token = ""
	return nil
}

func (c *Client) AddUserToGroup(username, group string) error {
	r, err := c.request(rdtp.ActionAddToGroup, username, group)
	if err != nil {
		return err
	}
	return statusErr(r, ErrNotLoggedIn, ErrUnknownGroup)
}

// JoinGroup adds the logged-in user to a group.
func (c *Client) JoinGroup(group string) error {
	r, err := c.request(rdtp.ActionJoinGroup, c.token, group)
	if err != nil {
		return err
	}
	return statusErr(r, ErrNotLoggedIn, ErrUnknownGroup)
}

func (c *Client) SendUser(recipient, body string) error {
	r, err := c.request(rdtp.ActionSendUser, c.token, recipient, body)
	if err != nil {
		return err
	}
	return statusErr(r, ErrNotLoggedIn, ErrUnknownUser)
}

func (c *Client) SendGroup(group, body string) error {
	r, err := c.request(rdtp.ActionSendGroup, c.token, group, body)
	if err != nil {
		return err
	}
	return statusErr(r, ErrNotLoggedIn, ErrUnknownGroup)
}

// GetUsers returns usernames matching the wildcard; empty wildcard
// matches all.
func (c *Client) GetUsers(wildcard string) ([]string, error) {
	return c.find(rdtp.ActionGetUsers, wildcard)
}

// GetGroups returns group names matching the wildcard; empty wildcard
// matches all.
func (c *Client) GetGroups(wildcard string) ([]string, error) {
	return c.find(rdtp.ActionGetGroups, wildcard)
}

func (c *Client) find(action, wildcard string) ([]string, error) {
	r, err := c.request(action, wildcard)
	if err != nil {
		return nil, err
	}
	if err := statusErr(r, ErrNotLoggedIn, ErrRejected); err != nil {
		return nil, err
	}

	if len(r.args) == 1 && r.args[0] == "" {
		return nil, nil
	}
	return r.args, nil
}

// Fetch drains the caller's mailbox on the server and returns the
// queued messages as display text.
func (c *Client) Fetch() (string, error) {
	r, err := c.request(rdtp.ActionFetch, c.token)
	if err != nil {
		return "", err
	}
	if err := statusErr(r, ErrNotLoggedIn, ErrRejected); err != nil {
		return "", err
	}

	if len(r.args) == 0 || r.args[0] == "" {
		return EmptyInbox, nil
	}
	return r.args[0], nil
}

// DeleteAccount removes the logged-in user's account and everything
// attached to it.
func (c *Client) DeleteAccount() error {
	r, err := c.request(rdtp.ActionDeleteAccount, c.token)
	if err != nil {
		return err
	}
	if err := statusErr(r, ErrNotLoggedIn, ErrRejected); err != nil {
		return err
	}

	c.username = ""
	c.token = ""
	return nil
}
