package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	daead "github.com/tink-crypto/tink-go/v2/daead/subtle"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the required master key length in bytes.
const KeySize = 32

var (
	// ErrDecryption is returned for any ciphertext that fails authentication,
	// is malformed, or was produced under a different key.
	ErrDecryption = errors.New("secret: decryption failed")
	// ErrKeySize is returned when the master key is not KeySize bytes.
	ErrKeySize = errors.New("secret: master key must be 32 bytes")
)

const (
	infoEncrypt       = "authcore/secret/encrypt"
	infoDeterministic = "authcore/secret/aes-siv"
)

var encoding = base64.RawURLEncoding

// Box holds the derived keys for both encryption modes. A Box is safe for
// concurrent use.
type Box struct {
	aead cipher.AEAD
	siv  *daead.AESSIV
}

// New derives the subkeys of a Box from a 32-byte master key.
func New(masterKey []byte) (*Box, error) {
	if len(masterKey) != KeySize {
		return nil, ErrKeySize
	}

	encKey, err := deriveKey(masterKey, infoEncrypt, KeySize)
	if err != nil {
		return nil, err
	}
	sivKey, err := deriveKey(masterKey, infoDeterministic, daead.AESSIVKeySize)
	if err != nil {
		return nil, err
	}

	aead, err := newGCM(encKey)
	if err != nil {
		return nil, err
	}
	siv, err := daead.NewAESSIV(sivKey)
	if err != nil {
		return nil, fmt.Errorf("secret: aes-siv: %w", err)
	}

	return &Box{aead: aead, siv: siv}, nil
}

// NewFromHex is New for a hex-encoded master key, the form used in config files.
func NewFromHex(masterKeyHex string) (*Box, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("secret: decode master key: %w", err)
	}
	return New(key)
}

func deriveKey(master []byte, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("secret: derive %s: %w", info, err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64url(nonce || ciphertext || tag).
func (b *Box) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secret: nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, plaintext, nil)
	return encoding.EncodeToString(sealed), nil
}

// EncryptString is Encrypt for string values.
func (b *Box) EncryptString(plaintext string) (string, error) {
	return b.Encrypt([]byte(plaintext))
}

// Decrypt reverses Encrypt.
func (b *Box) Decrypt(token string) ([]byte, error) {
	return open(b.aead, token)
}

// DecryptString is Decrypt for string values.
func (b *Box) DecryptString(token string) (string, error) {
	pt, err := b.Decrypt(token)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Seal encrypts deterministically with AES-SIV: equal plaintexts give
// equal tokens, and only equality leaks. Use it for lookup keys, never for
// secrets.
func (b *Box) Seal(plaintext []byte) (string, error) {
	sealed, err := b.siv.EncryptDeterministically(plaintext, nil)
	if err != nil {
		return "", fmt.Errorf("secret: seal: %w", err)
	}
	return encoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (b *Box) Open(token string) ([]byte, error) {
	raw, err := encoding.DecodeString(token)
	if err != nil {
		return nil, ErrDecryption
	}
	pt, err := b.siv.DecryptDeterministically(raw, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	if pt == nil {
		pt = []byte{}
	}
	return pt, nil
}

func open(aead cipher.AEAD, token string) ([]byte, error) {
	raw, err := encoding.DecodeString(token)
	if err != nil {
		return nil, ErrDecryption
	}
	ns := aead.NonceSize()
	if len(raw) < ns+aead.Overhead() {
		return nil, ErrDecryption
	}
	pt, err := aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	if pt == nil {
		pt = []byte{}
	}
	return pt, nil
}
