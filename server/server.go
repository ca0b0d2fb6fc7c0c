// Package server runs the RDTP transport: a TCP accept loop feeding a
// single event loop that owns every connection and dispatches decoded
// frames to the chat core.
package server

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gablg1/http-sucks-chat/chat"
	"github.com/gablg1/http-sucks-chat/models"
	"github.com/gablg1/http-sucks-chat/rdtp"
)

type Config struct {
	Addr         string
	WriteTimeout time.Duration
}

// conn is one accepted client socket. username is set once a login
// succeeds and cleared on logout; both happen on the event loop.
type conn struct {
	sock     net.Conn
	username string
}

// event is what a connection's reader goroutine hands to the loop:
// either one decoded frame or the error that ended the read.
type event struct {
	c     *conn
	frame rdtp.Frame
	err   error
}

type statsReq struct {
	reply chan []string
}

// Server multiplexes all connections onto one event loop goroutine.
// conns and byUser are owned by that goroutine exclusively; reader
// goroutines only decode frames and forward them, so request handling
// is strictly one at a time and the chat core needs no locking.
type Server struct {
	core   *chat.Core
	config *Config
	log    zerolog.Logger

	listener net.Listener
	events   chan event
	register chan *conn
	stats    chan statsReq
	done     chan struct{}
	stopOnce sync.Once

	conns  map[*conn]bool
	byUser map[string]*conn
}

func New(core *chat.Core, config *Config, logger zerolog.Logger) *Server {
	s := &Server{
		core:     core,
		config:   config,
		log:      logger,
		events:   make(chan event),
		register: make(chan *conn),
		stats:    make(chan statsReq),
		done:     make(chan struct{}),
		conns:    make(map[*conn]bool),
		byUser:   make(map[string]*conn),
	}
	core.AttachPresence(s)
	return s
}

// Start listens on the configured address and blocks serving requests
// until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.Serve()
	return nil
}

// Listen binds the configured address without serving yet.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.log.Info().Str("addr", listener.Addr().String()).Msg("RDTP chat server listening")
	return nil
}

// Serve blocks handling connections on the bound listener.
func (s *Server) Serve() {
	go s.acceptLoop()
	s.run()
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and tears down every connection. Safe to
// call more than once; the signal handler and the control socket can
// both reach it.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
	})
}

func (s *Server) acceptLoop() {
	for {
		sock, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Error().Err(err).Msg("accept failed")
			}
			return
		}

		c := &conn{sock: sock}
		select {
		case s.register <- c:
			go s.readLoop(c)
		case <-s.done:
			sock.Close()
			return
		}
	}
}

// readLoop decodes frames off one socket and forwards them to the
// event loop. It touches no shared state.
func (s *Server) readLoop(c *conn) {
	for {
		frame, err := rdtp.ReadFrame(c.sock)
		select {
		case s.events <- event{c: c, frame: frame, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) run() {
	for {
		select {
		case <-s.done:
			for c := range s.conns {
				c.sock.Close()
			}
			return

		case c := <-s.register:
			s.conns[c] = true
			s.log.Info().Str("remote", c.sock.RemoteAddr().String()).Msg("client connected")

		case req := <-s.stats:
			users := make([]string, 0, len(s.byUser))
			for username := range s.byUser {
				users = append(users, username)
			}
			sort.Strings(users)
			req.reply <- users

		case ev := <-s.events:
			if !s.conns[ev.c] {
				// Already dropped (kickout, deletion).
				continue
			}
			if ev.err != nil {
				s.dropConn(ev.c, ev.err)
				continue
			}
			s.dispatch(ev.c, ev.frame)
		}
	}
}

// dropConn removes one connection without touching any other. The
// user's session stays valid for lazy cleanup; only the connection
// association goes away.
func (s *Server) dropConn(c *conn, err error) {
	delete(s.conns, c)
	s.unbind(c)
	c.sock.Close()

	if errors.Is(err, rdtp.ErrPeerDisconnected) {
		s.log.Info().Str("remote", c.sock.RemoteAddr().String()).Msg("client disconnected")
	} else {
		s.log.Warn().Err(err).Str("remote", c.sock.RemoteAddr().String()).Msg("dropping client after protocol error")
	}
}

// bind associates a connection with a logged-in username.
func (s *Server) bind(c *conn, username string) {
	s.unbind(c)
	c.username = username
	s.byUser[username] = c
}

func (s *Server) unbind(c *conn) {
	if c.username != "" && s.byUser[c.username] == c {
		delete(s.byUser, c.username)
	}
	c.username = ""
}

// OnlineUsers reports the usernames with a live connection. Safe to
// call from any goroutine; answered by the event loop.
func (s *Server) OnlineUsers() []string {
	req := statsReq{reply: make(chan []string, 1)}
	select {
	case s.stats <- req:
		return <-req.reply
	case <-s.done:
		return nil
	}
}

// IsOnline, Push and Kickout implement chat.Presence over the
// connection registry. They are only ever called from the event loop,
// by way of the chat core.

func (s *Server) IsOnline(username string) bool {
	_, ok := s.byUser[username]
	return ok
}

func (s *Server) Push(username string, msg models.Message) error {
	c, ok := s.byUser[username]
	if !ok {
		return errors.New("server: user has no live connection")
	}
	return s.send(c, rdtp.ActionMessage, rdtp.StatusOK, chat.FormatMessage(msg))
}

func (s *Server) Kickout(username, notice string) {
	c, ok := s.byUser[username]
	if !ok {
		return
	}
	if err := s.send(c, rdtp.ActionKill, rdtp.StatusOK, notice); err != nil {
		s.log.Warn().Err(err).Str("user", username).Msg("could not deliver kickout notice")
	}
	delete(s.conns, c)
	s.unbind(c)
	c.sock.Close()
}

func (s *Server) send(c *conn, action string, status byte, args ...string) error {
	c.sock.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return rdtp.WriteFrame(c.sock, action, status, args...)
}

// reply sends the correlated response frame for the request being
// handled.
func (s *Server) reply(c *conn, status byte, args ...string) {
	if err := s.send(c, rdtp.ActionResponse, status, args...); err != nil {
		s.log.Warn().Err(err).Str("remote", c.sock.RemoteAddr().String()).Msg("failed to write response")
	}
}
