package client

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gablg1/http-sucks-chat/chat"
	"github.com/gablg1/http-sucks-chat/rdtp"
	"github.com/gablg1/http-sucks-chat/server"
	"github.com/gablg1/http-sucks-chat/store"
)

func startTestServer(t *testing.T) string {
	core := chat.NewCore(store.NewMemoryStore(), zerolog.Nop())
	srv := server.New(core, &server.Config{
		Addr:         "127.0.0.1:0",
		WriteTimeout: 5 * time.Second,
	}, zerolog.Nop())

	require.NoError(t, srv.Listen())
	go srv.Serve()
	t.Cleanup(srv.Stop)
	return srv.Addr()
}

func connect(t *testing.T, addr string) *Client {
	c := New()
	require.NoError(t, c.Connect(addr))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAccountLifecycle(t *testing.T) {
	addr := startTestServer(t)
	c := connect(t, addr)

	taken, err := c.UsernameExists("alice")
	require.NoError(t, err)
	assert.False(t, taken)

	require.NoError(t, c.CreateAccount("alice", "pw1"))
	assert.ErrorIs(t, c.CreateAccount("alice", "pw1"), ErrUserExists)

	taken, err = c.UsernameExists("alice")
	require.NoError(t, err)
	assert.True(t, taken)

	assert.ErrorIs(t, c.Login("alice", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, c.Login("nobody", "pw1"), ErrInvalidCredentials)

	require.NoError(t, c.Login("alice", "pw1"))
	assert.Equal(t, "alice", c.Username())

	require.NoError(t, c.Logout())
	assert.Equal(t, "", c.Username())
	assert.ErrorIs(t, c.Logout(), ErrNotLoggedIn)
}

func TestGroupMessagePushedToOnlineMember(t *testing.T) {
	addr := startTestServer(t)

	pushed := make(chan string, 1)
	c := New()
	c.OnMessage = func(text string) { pushed <- text }
	require.NoError(t, c.Connect(addr))
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.CreateAccount("alice", "pw1"))
	require.NoError(t, c.Login("alice", "pw1"))
	require.NoError(t, c.CreateGroup("g1"))
	require.NoError(t, c.JoinGroup("g1"))

	require.NoError(t, c.SendGroup("g1", "anyone around?"))

	select {
	case text := <-pushed:
		assert.Equal(t, "alice @ g1 >>> anyone around?", text)
	case <-time.After(5 * time.Second):
		t.Fatal("push never arrived")
	}
}

func TestOfflineDeliveryViaFetch(t *testing.T) {
	addr := startTestServer(t)

	alice := connect(t, addr)
	require.NoError(t, alice.CreateAccount("alice", "pw1"))
	require.NoError(t, alice.CreateAccount("bob", "pw2"))
	require.NoError(t, alice.Login("alice", "pw1"))

	assert.ErrorIs(t, alice.SendUser("nobody", "hi"), ErrUnknownUser)
	require.NoError(t, alice.SendUser("bob", "call me back"))

	bob := connect(t, addr)
	require.NoError(t, bob.Login("bob", "pw2"))

	text, err := bob.Fetch()
	require.NoError(t, err)
	assert.Equal(t, "alice >>> call me back", text)

	text, err = bob.Fetch()
	require.NoError(t, err)
	assert.Equal(t, EmptyInbox, text)
}

func TestDirectory(t *testing.T) {
	addr := startTestServer(t)
	c := connect(t, addr)

	require.NoError(t, c.CreateAccount("alice", "pw1"))
	require.NoError(t, c.CreateAccount("alex", "pw2"))
	require.NoError(t, c.Login("alice", "pw1"))

	users, err := c.GetUsers("al")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "alex"}, users)

	groups, err := c.GetGroups("")
	require.NoError(t, err)
	assert.Nil(t, groups)

	require.NoError(t, c.CreateGroup("g1"))
	groups, err = c.GetGroups("")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, groups)
}

func TestKickedClientHalts(t *testing.T) {
	addr := startTestServer(t)

	kicked := make(chan string, 1)
	first := New()
	first.OnKick = func(notice string) { kicked <- notice }
	require.NoError(t, first.Connect(addr))
	t.Cleanup(func() { first.Close() })

	require.NoError(t, first.CreateAccount("alice", "pw1"))
	require.NoError(t, first.Login("alice", "pw1"))

	second := connect(t, addr)
	require.NoError(t, second.Login("alice", "pw1"))

	select {
	case notice := <-kicked:
		assert.Equal(t, chat.KickoutNotice, notice)
	case <-time.After(5 * time.Second):
		t.Fatal("kickout never arrived")
	}

	// The kicked client refuses further requests instead of hanging.
	_, err := first.UsernameExists("alice")
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestDeleteAccount(t *testing.T) {
	addr := startTestServer(t)
	c := connect(t, addr)

	require.NoError(t, c.CreateAccount("alice", "pw1"))
	require.NoError(t, c.Login("alice", "pw1"))
	require.NoError(t, c.DeleteAccount())
	assert.Equal(t, "", c.Username())

	taken, err := c.UsernameExists("alice")
	require.NoError(t, err)
	assert.False(t, taken)
}

// A server that accepts and reads but never answers.
func startSilentServer(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					if _, err := rdtp.ReadFrame(conn); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return listener.Addr().String()
}

func TestUnresponsiveServer(t *testing.T) {
	addr := startSilentServer(t)

	c := New()
	c.SetTimeout(100 * time.Millisecond)
	require.NoError(t, c.Connect(addr))
	t.Cleanup(func() { c.Close() })

	_, err := c.UsernameExists("alice")
	assert.ErrorIs(t, err, ErrUnresponsive)
}
