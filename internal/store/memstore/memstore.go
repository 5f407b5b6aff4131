// Package memstore is an in-process implementation of the store contracts.
// It enforces the same keys, case-insensitive username uniqueness and
// cascading deletes as the Postgres schema. Transactions snapshot the whole
// state and restore it when fn fails.
package memstore

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal/store"
	"github.com/MrEthical07/authcore/permission"
)

var errForeignKey = errors.New("memstore: foreign key violation")

type state struct {
	users    map[string]store.User
	sessions map[string]store.Session
	remember map[string]store.RememberToken
	totpKeys map[string]store.PendingTOTPKey
	perms    map[string]permission.Set
}

func newState() *state {
	return &state{
		users:    map[string]store.User{},
		sessions: map[string]store.Session{},
		remember: map[string]store.RememberToken{},
		totpKeys: map[string]store.PendingTOTPKey{},
		perms:    map[string]permission.Set{},
	}
}

func (s *state) clone() *state {
	out := &state{
		users:    maps.Clone(s.users),
		sessions: make(map[string]store.Session, len(s.sessions)),
		remember: make(map[string]store.RememberToken, len(s.remember)),
		totpKeys: maps.Clone(s.totpKeys),
		perms:    maps.Clone(s.perms),
	}
	for k, v := range s.sessions {
		if v.SudoUntil != nil {
			t := *v.SudoUntil
			v.SudoUntil = &t
		}
		out.sessions[k] = v
	}
	for k, v := range s.remember {
		v.SecretHash = append([]byte(nil), v.SecretHash...)
		out.remember[k] = v
	}
	return out
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex
	st *state
	q  queries
}

// New returns an empty Store.
func New() *Store {
	s := &Store{st: newState()}
	s.q = queries{s: s}
	return s
}

func (s *Store) Users() store.Users                   { return s.q.Users() }
func (s *Store) Sessions() store.Sessions             { return s.q.Sessions() }
func (s *Store) RememberTokens() store.RememberTokens { return s.q.RememberTokens() }
func (s *Store) TOTPKeys() store.TOTPKeys             { return s.q.TOTPKeys() }
func (s *Store) Permissions() store.Permissions       { return s.q.Permissions() }

// WithTx holds the store lock for the duration of fn.
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(queries{s: s, inTx: true}); err != nil {
		return err
	}
	committed = true
	return nil
}

// Counts reports row counts, for assertions in tests.
func (s *Store) Counts() (users, sessions, remember, totpKeys int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.users), len(s.st.sessions), len(s.st.remember), len(s.st.totpKeys)
}

type queries struct {
	s    *Store
	inTx bool
}

func (q queries) Users() store.Users                   { return users(q) }
func (q queries) Sessions() store.Sessions             { return sessions(q) }
func (q queries) RememberTokens() store.RememberTokens { return rememberTokens(q) }
func (q queries) TOTPKeys() store.TOTPKeys             { return totpKeys(q) }
func (q queries) Permissions() store.Permissions       { return permissions(q) }

func (q queries) do(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !q.inTx {
		q.s.mu.Lock()
		defer q.s.mu.Unlock()
	}
	return fn(q.s.st)
}

func (st *state) usernameTaken(username, exceptID string) bool {
	for id, u := range st.users {
		if id != exceptID && strings.EqualFold(u.Username, username) {
			return true
		}
	}
	return false
}

func (st *state) updateUser(id string, fn func(u *store.User)) error {
	u, ok := st.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u)
	st.users[id] = u
	return nil
}

type users queries

func (r users) Insert(ctx context.Context, u store.User) error {
	return queries(r).do(ctx, func(st *state) error {
		if _, ok := st.users[u.ID]; ok {
			return store.ErrDuplicate
		}
		if st.usernameTaken(u.Username, "") {
			return store.ErrUsernameTaken
		}
		st.users[u.ID] = u
		return nil
	})
}

func (r users) ByID(ctx context.Context, id string) (out store.User, err error) {
	err = queries(r).do(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return store.ErrNotFound
		}
		out = u
		return nil
	})
	return out, err
}

func (r users) ByUsername(ctx context.Context, username string) (out store.User, err error) {
	err = queries(r).do(ctx, func(st *state) error {
		for _, u := range st.users {
			if strings.EqualFold(u.Username, username) {
				out = u
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (r users) SetPassword(ctx context.Context, id, encrypted string) error {
	return queries(r).do(ctx, func(st *state) error {
		return st.updateUser(id, func(u *store.User) { u.Password = encrypted })
	})
}

func (r users) ReplacePassword(ctx context.Context, id, current, encrypted string) error {
	return queries(r).do(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok || u.Password != current {
			return store.ErrNotFound
		}
		u.Password = encrypted
		st.users[id] = u
		return nil
	})
}

func (r users) SetUsername(ctx context.Context, id, username string) error {
	return queries(r).do(ctx, func(st *state) error {
		if st.usernameTaken(username, id) {
			return store.ErrUsernameTaken
		}
		return st.updateUser(id, func(u *store.User) { u.Username = username })
	})
}

func (r users) SetLocale(ctx context.Context, id, locale string) error {
	return queries(r).do(ctx, func(st *state) error {
		return st.updateUser(id, func(u *store.User) { u.Locale = locale })
	})
}

func (r users) SetPasswordChangeReason(ctx context.Context, id string, reason store.PasswordChangeReason) error {
	return queries(r).do(ctx, func(st *state) error {
		return st.updateUser(id, func(u *store.User) { u.PasswordChangeReason = reason })
	})
}

func (r users) SetTOTP(ctx context.Context, id, encryptedKey, lastUsed string) error {
	return queries(r).do(ctx, func(st *state) error {
		return st.updateUser(id, func(u *store.User) {
			u.TOTPKey = encryptedKey
			u.LastUsedTOTP = lastUsed
		})
	})
}

func (r users) SetLastUsedTOTP(ctx context.Context, id, code string) error {
	return queries(r).do(ctx, func(st *state) error {
		return st.updateUser(id, func(u *store.User) { u.LastUsedTOTP = code })
	})
}

func (r users) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return queries(r).do(ctx, func(st *state) error {
		return st.updateUser(id, func(u *store.User) { u.Disabled = disabled })
	})
}

func (r users) SetIcon(ctx context.Context, id, icon string) error {
	return queries(r).do(ctx, func(st *state) error {
		return st.updateUser(id, func(u *store.User) { u.Icon = icon })
	})
}

// Delete removes the user and cascades to every owned row.
func (r users) Delete(ctx context.Context, id string) error {
	return queries(r).do(ctx, func(st *state) error {
		if _, ok := st.users[id]; !ok {
			return store.ErrNotFound
		}
		delete(st.users, id)
		delete(st.totpKeys, id)
		delete(st.perms, id)
		maps.DeleteFunc(st.sessions, func(_ string, s store.Session) bool { return s.UserID == id })
		maps.DeleteFunc(st.remember, func(_ string, t store.RememberToken) bool { return t.UserID == id })
		return nil
	})
}

type sessions queries

func (r sessions) Insert(ctx context.Context, s store.Session) error {
	return queries(r).do(ctx, func(st *state) error {
		if _, ok := st.sessions[s.ID]; ok {
			return store.ErrDuplicate
		}
		if _, ok := st.users[s.UserID]; !ok {
			return errForeignKey
		}
		st.sessions[s.ID] = s
		return nil
	})
}

func (r sessions) WithUser(ctx context.Context, id string) (s store.Session, u store.User, err error) {
	err = queries(r).do(ctx, func(st *state) error {
		var ok bool
		if s, ok = st.sessions[id]; !ok {
			return store.ErrNotFound
		}
		if u, ok = st.users[s.UserID]; !ok {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return store.Session{}, store.User{}, err
	}
	return s, u, nil
}

func (r sessions) SetSudoUntil(ctx context.Context, id string, until time.Time) error {
	return queries(r).do(ctx, func(st *state) error {
		s, ok := st.sessions[id]
		if !ok {
			return store.ErrNotFound
		}
		s.SudoUntil = &until
		st.sessions[id] = s
		return nil
	})
}

func (r sessions) Delete(ctx context.Context, id string) error {
	return queries(r).do(ctx, func(st *state) error {
		delete(st.sessions, id)
		return nil
	})
}

func (r sessions) DeleteForUser(ctx context.Context, userID string) error {
	return r.DeleteForUserExcept(ctx, userID, "")
}

func (r sessions) DeleteForUserExcept(ctx context.Context, userID, keepID string) error {
	return queries(r).do(ctx, func(st *state) error {
		maps.DeleteFunc(st.sessions, func(id string, s store.Session) bool {
			return s.UserID == userID && id != keepID
		})
		return nil
	})
}

func (r sessions) DeleteExpired(ctx context.Context, now time.Time) (n int64, err error) {
	err = queries(r).do(ctx, func(st *state) error {
		maps.DeleteFunc(st.sessions, func(_ string, s store.Session) bool {
			if !now.Before(s.Expires) {
				n++
				return true
			}
			return false
		})
		return nil
	})
	return n, err
}

type rememberTokens queries

func (r rememberTokens) Insert(ctx context.Context, t store.RememberToken) error {
	return queries(r).do(ctx, func(st *state) error {
		if _, ok := st.remember[t.ID]; ok {
			return store.ErrDuplicate
		}
		if _, ok := st.users[t.UserID]; !ok {
			return errForeignKey
		}
		t.SecretHash = append([]byte(nil), t.SecretHash...)
		st.remember[t.ID] = t
		return nil
	})
}

func (r rememberTokens) WithUser(ctx context.Context, id string) (t store.RememberToken, u store.User, err error) {
	err = queries(r).do(ctx, func(st *state) error {
		var ok bool
		if t, ok = st.remember[id]; !ok {
			return store.ErrNotFound
		}
		if u, ok = st.users[t.UserID]; !ok {
			return store.ErrNotFound
		}
		t.SecretHash = append([]byte(nil), t.SecretHash...)
		return nil
	})
	if err != nil {
		return store.RememberToken{}, store.User{}, err
	}
	return t, u, nil
}

func (r rememberTokens) RotateSecretHash(ctx context.Context, id string, current, next []byte) error {
	return queries(r).do(ctx, func(st *state) error {
		t, ok := st.remember[id]
		if !ok || !bytes.Equal(t.SecretHash, current) {
			return store.ErrNotFound
		}
		t.SecretHash = append([]byte(nil), next...)
		st.remember[id] = t
		return nil
	})
}

func (r rememberTokens) Delete(ctx context.Context, id string) error {
	return queries(r).do(ctx, func(st *state) error {
		delete(st.remember, id)
		return nil
	})
}

func (r rememberTokens) DeleteForUser(ctx context.Context, userID string) error {
	return queries(r).do(ctx, func(st *state) error {
		maps.DeleteFunc(st.remember, func(_ string, t store.RememberToken) bool { return t.UserID == userID })
		return nil
	})
}

type totpKeys queries

func (r totpKeys) Upsert(ctx context.Context, k store.PendingTOTPKey) error {
	return queries(r).do(ctx, func(st *state) error {
		if _, ok := st.users[k.UserID]; !ok {
			return errForeignKey
		}
		st.totpKeys[k.UserID] = k
		return nil
	})
}

func (r totpKeys) ByUser(ctx context.Context, userID string) (out store.PendingTOTPKey, err error) {
	err = queries(r).do(ctx, func(st *state) error {
		k, ok := st.totpKeys[userID]
		if !ok {
			return store.ErrNotFound
		}
		out = k
		return nil
	})
	return out, err
}

func (r totpKeys) Delete(ctx context.Context, userID string) error {
	return queries(r).do(ctx, func(st *state) error {
		delete(st.totpKeys, userID)
		return nil
	})
}

type permissions queries

func (r permissions) ForUser(ctx context.Context, userID string) (out permission.Set, err error) {
	err = queries(r).do(ctx, func(st *state) error {
		out = st.perms[userID]
		return nil
	})
	return out, err
}

func (r permissions) Has(ctx context.Context, userID string, p permission.Permission) (ok bool, err error) {
	err = queries(r).do(ctx, func(st *state) error {
		ok = st.perms[userID].Has(p)
		return nil
	})
	return ok, err
}

func (r permissions) Grant(ctx context.Context, userID string, p permission.Permission) error {
	return queries(r).do(ctx, func(st *state) error {
		if _, ok := st.users[userID]; !ok {
			return errForeignKey
		}
		set := st.perms[userID]
		set.Add(p)
		st.perms[userID] = set
		return nil
	})
}
