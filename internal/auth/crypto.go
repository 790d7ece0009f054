package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters. Shared by every participant in a room, so they
// can never change without breaking older remotes.
const (
	kdfSalt       = "presentationclicker_salt"
	kdfIterations = 100_000
	kdfKeyLen     = 32
)

// Fernet framing: version | timestamp(8) | iv(16) | ciphertext | hmac(32).
const (
	tokenVersion  = 0x80
	tokenOverhead = 1 + 8 + 16 + 32
)

// tokenEncoding rejects set padding bits, which would otherwise let two
// different strings decode to the same token.
var tokenEncoding = base64.URLEncoding.Strict()

// ErrDecrypt is returned for malformed, tampered, expired or foreign tokens.
var ErrDecrypt = errors.New("decryption failed")

// DeriveKey turns a room password into a Fernet key with PBKDF2-HMAC-SHA256.
// The same password always yields the same key.
func DeriveKey(password string) *fernet.Key {
	raw := pbkdf2.Key([]byte(password), []byte(kdfSalt), kdfIterations, kdfKeyLen, sha256.New)
	var k fernet.Key
	copy(k[:], raw)
	return &k
}

// Cipher encrypts and decrypts message bodies for one room.
type Cipher struct {
	key *fernet.Key

	// MaxAge rejects tokens older than this. Zero accepts any age, which
	// retained presence messages and the last will usually need.
	MaxAge time.Duration
}

// NewCipher derives the room key from password.
func NewCipher(password string) *Cipher {
	return &Cipher{key: DeriveKey(password)}
}

// Encrypt returns a Fernet token (URL-safe base64) for plaintext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	return fernet.EncryptAndSign(plaintext, c.key)
}

// Decrypt verifies token and returns its plaintext. Only the canonical
// encoding of a token is accepted.
func (c *Cipher) Decrypt(token []byte) ([]byte, error) {
	raw, err := tokenEncoding.DecodeString(string(token))
	if err != nil || len(raw) < tokenOverhead || raw[0] != tokenVersion {
		return nil, ErrDecrypt
	}
	// The decoder skips CR and LF, so compare lengths too.
	if tokenEncoding.EncodedLen(len(raw)) != len(token) {
		return nil, ErrDecrypt
	}
	ttl := c.MaxAge
	if ttl <= 0 {
		ttl = -1 // age unchecked
	}
	msg := fernet.VerifyAndDecrypt(token, ttl, []*fernet.Key{c.key})
	if msg == nil {
		return nil, ErrDecrypt
	}
	return msg, nil
}
