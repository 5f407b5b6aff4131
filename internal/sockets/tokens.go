// Package sockets issues the short-lived tokens a client trades for a
// websocket connection. Tokens live in Redis and are single use.
package sockets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/internal/token"
)

// ErrInvalidToken means the token is unknown, expired or already used.
var ErrInvalidToken = errors.New("sockets: invalid token")

const keyPrefix = "websocket-token:"

// Config sizes websocket tokens.
type Config struct {
	TokenBytes    int           `toml:"token_bytes"`
	Lifetime      time.Duration `toml:"lifetime"`
	UniqueRetries int           `toml:"unique_retries"`
}

func DefaultConfig() Config {
	return Config{TokenBytes: 32, Lifetime: time.Minute, UniqueRetries: token.DefaultRetries}
}

type Tokens struct {
	client redis.UniversalClient
	cfg    Config
}

func NewTokens(client redis.UniversalClient, cfg Config) *Tokens {
	def := DefaultConfig()
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = def.TokenBytes
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = def.Lifetime
	}
	return &Tokens{client: client, cfg: cfg}
}

// Issue stores a fresh token for userID with SET NX EX.
func (t *Tokens) Issue(ctx context.Context, userID string) (string, error) {
	var out string
	err := token.TryInsertUnique(ctx, t.cfg.UniqueRetries, func(ctx context.Context) error {
		tok, err := token.Generate(t.cfg.TokenBytes)
		if err != nil {
			return err
		}
		ok, err := t.client.SetNX(ctx, keyPrefix+tok, userID, t.cfg.Lifetime).Result()
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrDuplicate
		}
		out = tok
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sockets: issue: %w", err)
	}
	return out, nil
}

// Resolve consumes tok and returns its user id.
func (t *Tokens) Resolve(ctx context.Context, tok string) (string, error) {
	if tok == "" {
		return "", ErrInvalidToken
	}
	userID, err := t.client.GetDel(ctx, keyPrefix+tok).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("sockets: resolve: %w", err)
	}
	return userID, nil
}
