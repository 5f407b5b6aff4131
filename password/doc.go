// Package password hashes and verifies passwords with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// A stored hash produced with weaker parameters than the current [Config]
// makes [Hasher.NeedsRehash] report true; callers re-hash after the next
// successful verification.
//
// This package never stores, logs or normalizes passwords. Length policy is
// enforced by the caller.
package password
