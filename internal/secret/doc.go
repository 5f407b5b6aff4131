// Package secret encrypts values that must be stored or exposed as opaque
// text: password hashes and TOTP keys at rest (randomized AES-256-GCM) and
// client addresses inside rate-limit keys (deterministic AES-SIV).
package secret
