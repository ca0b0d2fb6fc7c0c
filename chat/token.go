package chat

import "crypto/rand"

const (
	tokenLength   = 12
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// newSessionToken draws a fixed-length uppercase token. Collisions are
// improbable enough at this length that they are not checked for.
func newSessionToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf), nil
}
