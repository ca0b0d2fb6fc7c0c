package server

import (
	"errors"

	"github.com/gablg1/http-sucks-chat/chat"
	"github.com/gablg1/http-sucks-chat/rdtp"
	"github.com/gablg1/http-sucks-chat/store"
)

// dispatch routes one decoded frame to its handler. The action
// vocabulary is closed; anything else is logged and left unanswered, so
// the caller sees it as a timeout rather than a fake success.
func (s *Server) dispatch(c *conn, f rdtp.Frame) {
	s.log.Debug().Str("action", f.Action).Str("remote", c.sock.RemoteAddr().String()).Msg("client action")

	switch f.Action {
	case rdtp.ActionUsernameExists:
		s.handleUsernameExists(c, f)
	case rdtp.ActionCreateAccount:
		s.handleCreateAccount(c, f)
	case rdtp.ActionCreateGroup:
		s.handleCreateGroup(c, f)
	case rdtp.ActionLogin:
		s.handleLogin(c, f)
	case rdtp.ActionLogout:
		s.handleLogout(c, f)
	case rdtp.ActionAddToGroup:
		s.handleAddToGroup(c, f)
	case rdtp.ActionJoinGroup:
		s.handleJoinGroup(c, f)
	case rdtp.ActionSendUser:
		s.handleSendUser(c, f)
	case rdtp.ActionSendGroup:
		s.handleSendGroup(c, f)
	case rdtp.ActionGetUsers:
		s.handleGetUsers(c, f)
	case rdtp.ActionGetGroups:
		s.handleGetGroups(c, f)
	case rdtp.ActionFetch:
		s.handleFetch(c, f)
	case rdtp.ActionDeleteAccount:
		s.handleDeleteAccount(c, f)
	default:
		s.log.Warn().Str("action", f.Action).Msg("unknown action")
	}
}

// status translates a chat/store error into the response status byte.
func status(err error) byte {
	switch {
	case err == nil:
		return rdtp.StatusOK
	case errors.Is(err, chat.ErrNotLoggedIn), errors.Is(err, chat.ErrInvalidCredentials):
		return rdtp.StatusUnauthorized
	default:
		return rdtp.StatusConflict
	}
}

func (s *Server) handleUsernameExists(c *conn, f rdtp.Frame) {
	exists, err := s.core.UsernameExists(f.Arg(0))
	if err != nil {
		s.logInternal(f, err)
		s.reply(c, rdtp.StatusConflict)
		return
	}
	if exists {
		s.reply(c, rdtp.StatusUnauthorized)
	} else {
		s.reply(c, rdtp.StatusOK)
	}
}

func (s *Server) handleCreateAccount(c *conn, f rdtp.Frame) {
	err := s.core.CreateAccount(f.Arg(0), f.Arg(1))
	if err != nil && !errors.Is(err, store.ErrUserExists) {
		s.logInternal(f, err)
	}
	s.reply(c, status(err))
}

func (s *Server) handleCreateGroup(c *conn, f rdtp.Frame) {
	err := s.core.CreateGroup(f.Arg(0))
	if err != nil && !errors.Is(err, store.ErrGroupExists) {
		s.logInternal(f, err)
	}
	s.reply(c, status(err))
}

func (s *Server) handleLogin(c *conn, f rdtp.Frame) {
	username := f.Arg(0)
	token, err := s.core.Login(username, f.Arg(1))
	if err != nil {
		if !errors.Is(err, chat.ErrInvalidCredentials) {
			s.logInternal(f, err)
		}
		s.reply(c, rdtp.StatusUnauthorized)
		return
	}

	// A second login on the user's own connection means the kickout
	// above closed and unregistered this very socket. Binding it again
	// would leave a dead conn in the registry.
	if !s.conns[c] {
		return
	}

	s.bind(c, username)
	s.log.Info().Str("user", username).Msg("logged in")
	s.reply(c, rdtp.StatusOK, token)
}

func (s *Server) handleLogout(c *conn, f rdtp.Frame) {
	username, err := s.core.Resolve(f.Arg(0))
	if err == nil {
		err = s.core.Logout(username)
	}
	if err != nil {
		s.reply(c, status(err))
		return
	}

	// The token may arrive over a different connection than the one the
	// user is bound to; unbind the owner's, not the caller's.
	if bc, ok := s.byUser[username]; ok {
		s.unbind(bc)
	}
	s.log.Info().Str("user", username).Msg("logged out")
	s.reply(c, rdtp.StatusOK)
}

func (s *Server) handleAddToGroup(c *conn, f rdtp.Frame) {
	err := s.core.AddUserToGroup(f.Arg(0), f.Arg(1))
	s.reply(c, status(err))
}

// join_group adds the calling user, identified by session token, to a
// group.
func (s *Server) handleJoinGroup(c *conn, f rdtp.Frame) {
	username, err := s.core.Resolve(f.Arg(0))
	if err == nil {
		err = s.core.AddUserToGroup(username, f.Arg(1))
	}
	s.reply(c, status(err))
}

func (s *Server) handleSendUser(c *conn, f rdtp.Frame) {
	err := s.core.SendToUser(f.Arg(0), f.Arg(1), f.Arg(2))
	s.reply(c, status(err))
}

func (s *Server) handleSendGroup(c *conn, f rdtp.Frame) {
	err := s.core.SendToGroup(f.Arg(0), f.Arg(1), f.Arg(2))
	s.reply(c, status(err))
}

func (s *Server) handleGetUsers(c *conn, f rdtp.Frame) {
	users, err := s.core.FindUsers(f.Arg(0))
	if err != nil {
		s.reply(c, rdtp.StatusConflict)
		return
	}
	s.reply(c, rdtp.StatusOK, users...)
}

func (s *Server) handleGetGroups(c *conn, f rdtp.Frame) {
	groups, err := s.core.FindGroups(f.Arg(0))
	if err != nil {
		s.reply(c, rdtp.StatusConflict)
		return
	}
	s.reply(c, rdtp.StatusOK, groups...)
}

func (s *Server) handleFetch(c *conn, f rdtp.Frame) {
	username, msgs, err := s.core.FetchMessages(f.Arg(0))
	if err != nil {
		if !errors.Is(err, chat.ErrNotLoggedIn) {
			s.logInternal(f, err)
		}
		s.reply(c, status(err))
		return
	}

	if len(msgs) == 0 {
		s.reply(c, rdtp.StatusOK)
		return
	}

	// The drain already happened; a reply that cannot be written (the
	// joined text may exceed the frame body cap) must not lose the
	// messages.
	if err := s.send(c, rdtp.ActionResponse, rdtp.StatusOK, chat.RenderMailbox(msgs)); err != nil {
		s.log.Warn().Err(err).Str("user", username).Msg("fetch reply failed, requeueing mailbox")
		s.core.Requeue(username, msgs)
	}
}

func (s *Server) handleDeleteAccount(c *conn, f rdtp.Frame) {
	username, err := s.core.DeleteAccount(f.Arg(0))
	if err != nil {
		s.reply(c, status(err))
		return
	}

	// The deleted account may be live on a different connection.
	if bc, ok := s.byUser[username]; ok && bc != c {
		delete(s.conns, bc)
		s.unbind(bc)
		bc.sock.Close()
	}
	s.unbind(c)
	s.log.Info().Str("user", username).Msg("account deleted")
	s.reply(c, rdtp.StatusOK)
}

func (s *Server) logInternal(f rdtp.Frame, err error) {
	s.log.Error().Err(err).Str("action", f.Action).Msg("handler error")
}
