// Package token generates random url-safe identifiers and inserts rows keyed
// by them, retrying on the rare collision instead of pre-checking existence.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/internal/store"
)

// DefaultRetries bounds TryInsertUnique when the caller passes zero.
const DefaultRetries = 5

// ErrExhaustedRetries means every attempt collided with an existing key.
var ErrExhaustedRetries = errors.New("token: exhausted unique insert retries")

// Generate returns byteLen random bytes encoded as unpadded base64url.
func Generate(byteLen int) (string, error) {
	raw, err := Bytes(byteLen)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Bytes returns byteLen bytes from the system CSPRNG.
func Bytes(byteLen int) ([]byte, error) {
	if byteLen <= 0 {
		return nil, fmt.Errorf("token: invalid length %d", byteLen)
	}
	raw := make([]byte, byteLen)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("token: read random: %w", err)
	}
	return raw, nil
}

// TryInsertUnique calls insert up to retries times. insert must generate a
// fresh id on every call. A store.ErrDuplicate result triggers another
// attempt; any other error is returned as is.
func TryInsertUnique(ctx context.Context, retries int, insert func(ctx context.Context) error) error {
	if retries <= 0 {
		retries = DefaultRetries
	}
	for attempt := 0; attempt < retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := insert(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrExhaustedRetries, retries)
}
