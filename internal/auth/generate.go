package auth

import (
	"crypto/rand"
	"math/big"
)

const (
	roomAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	roomCodeLen = 6
	passwordLen = 10
)

// GenerateRoomCode returns a random 6-character room code (A-Z, 0-9).
func GenerateRoomCode() (string, error) {
	return randomString(roomAlphabet, roomCodeLen)
}

// GeneratePassword returns a random 10-character alphanumeric password.
func GeneratePassword() (string, error) {
	return randomString(passwordAlphabet, passwordLen)
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
