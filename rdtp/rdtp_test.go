package rdtp

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "login", 0, "alice", "pw1"))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)

	assert.Equal(t, "login", frame.Action)
	assert.Equal(t, byte(0), frame.Status)
	assert.Equal(t, []string{"alice", "pw1"}, frame.Args)
}

func TestRoundTripStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "R", 2))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, byte(2), frame.Status)
}

func TestEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "fetch", 0))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)

	// An empty body decodes to a single empty argument.
	assert.Equal(t, []string{""}, frame.Args)
	assert.Equal(t, "", frame.Arg(0))
	assert.Equal(t, "", frame.Arg(5))
}

func TestWireLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "M", 0, "hi"))

	raw := buf.Bytes()
	require.Len(t, raw, HeaderLen+1+2)
	assert.Equal(t, Magic, raw[0])
	assert.Equal(t, Version, raw[1])
	assert.Equal(t, byte(0), raw[2])
	assert.Equal(t, byte(1), raw[3])
	assert.Equal(t, byte(2), raw[4])
	assert.Equal(t, "M", string(raw[5:6]))
	assert.Equal(t, "hi", string(raw[6:]))
}

func TestEncoderRejectsOversize(t *testing.T) {
	var buf bytes.Buffer

	err := WriteFrame(&buf, strings.Repeat("a", MaxFieldLen+1), 0)
	assert.ErrorIs(t, err, ErrActionTooLong)
	assert.Zero(t, buf.Len(), "no bytes may hit the stream on a rejected send")

	err = WriteFrame(&buf, "send_user", 0, strings.Repeat("b", MaxFieldLen+1))
	assert.ErrorIs(t, err, ErrBodyTooLong)
	assert.Zero(t, buf.Len())

	// Joined args count against the body limit too.
	long := strings.Repeat("c", MaxFieldLen/2+1)
	err = WriteFrame(&buf, "send_user", 0, long, long)
	assert.ErrorIs(t, err, ErrBodyTooLong)
	assert.Zero(t, buf.Len())
}

func TestEncoderRejectsDelimiter(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, "send_user", 0, "TOKEN", "bob", "hi there: see you")
	assert.ErrorIs(t, err, ErrArgDelimiter)
	assert.Zero(t, buf.Len())
}

func TestMaxLengthFieldsAccepted(t *testing.T) {
	var buf bytes.Buffer
	action := strings.Repeat("a", MaxFieldLen)
	body := strings.Repeat("b", MaxFieldLen)
	require.NoError(t, WriteFrame(&buf, action, 0, body))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, action, frame.Action)
	assert.Equal(t, []string{body}, frame.Args)
}

func TestBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "login", 0, "alice"))
	raw := buf.Bytes()
	raw[0] = 0x43

	_, err := ReadFrame(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestBadVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "login", 0, "alice"))
	raw := buf.Bytes()
	raw[1] = 99

	_, err := ReadFrame(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestPeerDisconnected(t *testing.T) {
	// Close at a frame boundary.
	_, err := ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrPeerDisconnected)

	// Close mid-header.
	_, err = ReadFrame(bytes.NewReader([]byte{Magic, Version}))
	assert.ErrorIs(t, err, ErrPeerDisconnected)

	// Close mid-body.
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "login", 0, "alice", "pw1"))
	truncated := buf.Bytes()[:buf.Len()-3]
	_, err = ReadFrame(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, ErrPeerDisconnected)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "get_users", 0, ".*"))
	require.NoError(t, WriteFrame(&buf, "R", 0, "alice", "bob"))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "get_users", first.Action)

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "R", second.Action)
	assert.Equal(t, []string{"alice", "bob"}, second.Args)
}
