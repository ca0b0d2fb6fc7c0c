// Package rdtp implements the RDTP binary framing used between chat
// clients and the server.
//
// Every frame is a fixed 5-byte header followed by two variable parts:
//
//	[0] magic      0x42
//	[1] version    1
//	[2] status     caller-defined; clients always send 0
//	[3] action_len unsigned byte count
//	[4] body_len   unsigned byte count
//	[5...]         action (action_len bytes), body (body_len bytes)
//
// The body is a colon-joined argument list. The delimiter has no escape
// form: arguments containing ':' are rejected at encode time rather than
// corrupting the stream.
package rdtp

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	Magic   byte = 0x42
	Version byte = 1

	// HeaderLen is the fixed preamble size.
	HeaderLen = 5

	// MaxFieldLen bounds the action and body sizes. A one-byte length
	// field cannot announce more than 255 bytes.
	MaxFieldLen = 255
)

var (
	ErrBadMagic         = errors.New("rdtp: bad magic byte")
	ErrBadVersion       = errors.New("rdtp: unsupported protocol version")
	ErrActionTooLong    = errors.New("rdtp: action too long")
	ErrBodyTooLong      = errors.New("rdtp: body too long")
	ErrArgDelimiter     = errors.New("rdtp: argument contains delimiter")
	ErrPeerDisconnected = errors.New("rdtp: peer disconnected")
)

// Frame is one decoded RDTP message. Args always has at least one
// element; an empty body decodes to a single empty argument.
type Frame struct {
	Action string
	Status byte
	Args   []string
}

// Arg returns the i-th argument or "" when out of range.
func (f Frame) Arg(i int) string {
	if i < 0 || i >= len(f.Args) {
		return ""
	}
	return f.Args[i]
}

// WriteFrame encodes and sends one frame. Oversize fields and arguments
// containing the ':' delimiter fail before any bytes are written, so a
// rejected send never leaves the stream mid-frame.
func WriteFrame(w io.Writer, action string, status byte, args ...string) error {
	for _, arg := range args {
		if strings.ContainsRune(arg, ':') {
			return fmt.Errorf("%w: %q", ErrArgDelimiter, arg)
		}
	}
	body := strings.Join(args, ":")

	if len(action) > MaxFieldLen {
		return ErrActionTooLong
	}
	if len(body) > MaxFieldLen {
		return ErrBodyTooLong
	}

	buf := make([]byte, 0, HeaderLen+len(action)+len(body))
	buf = append(buf, Magic, Version, status, byte(len(action)), byte(len(body)))
	buf = append(buf, action...)
	buf = append(buf, body...)

	_, err := w.Write(buf)
	return err
}

// ReadFrame blocks until one complete frame has been decoded. A peer
// closing the connection, whether between frames or mid-read, surfaces
// as ErrPeerDisconnected; a magic or version mismatch is a distinct,
// connection-fatal protocol error.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [HeaderLen]byte
	if err := readFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	if header[0] != Magic {
		return Frame{}, ErrBadMagic
	}
	if header[1] != Version {
		return Frame{}, ErrBadVersion
	}

	action := make([]byte, header[3])
	if err := readFull(r, action); err != nil {
		return Frame{}, err
	}
	body := make([]byte, header[4])
	if err := readFull(r, body); err != nil {
		return Frame{}, err
	}

	return Frame{
		Action: string(action),
		Status: header[2],
		Args:   strings.Split(string(body), ":"),
	}, nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrPeerDisconnected
		}
		return err
	}
	return nil
}
