package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Permission is one member of the closed permission enum. The string form
// is the value persisted in the permissions table.
type Permission uint8

const (
	DeleteUser Permission = iota
	EditUser
	IgnoreRateLimits
	permissionCount
)

var names = [permissionCount]string{
	DeleteUser:       "delete_user",
	EditUser:         "edit_user",
	IgnoreRateLimits: "ignore_rate_limits",
}

// ErrUnknown is returned by Parse for names outside the enum.
var ErrUnknown = errors.New("permission: unknown permission")

// All returns every permission in declaration order.
func All() []Permission {
	out := make([]Permission, 0, permissionCount)
	for p := Permission(0); p < permissionCount; p++ {
		out = append(out, p)
	}
	return out
}

// Parse maps a persisted name to its Permission.
func Parse(name string) (Permission, error) {
	for p, n := range names {
		if n == name {
			return Permission(p), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknown, name)
}

func (p Permission) String() string {
	if p >= permissionCount {
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
	return names[p]
}

// Valid reports whether p is a member of the enum.
func (p Permission) Valid() bool { return p < permissionCount }

// Set is a bitmask of permissions.
type Set uint8

// NewSet returns a Set containing perms.
func NewSet(perms ...Permission) Set {
	var s Set
	for _, p := range perms {
		s.Add(p)
	}
	return s
}

func (s Set) Has(p Permission) bool {
	return p.Valid() && s&(1<<p) != 0
}

func (s *Set) Add(p Permission) {
	if p.Valid() {
		*s |= 1 << p
	}
}

func (s *Set) Remove(p Permission) {
	if p.Valid() {
		*s &^= 1 << p
	}
}

// Slice lists the members of s in declaration order.
func (s Set) Slice() []Permission {
	var out []Permission
	for p := Permission(0); p < permissionCount; p++ {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

func (s Set) String() string {
	parts := make([]string, 0, permissionCount)
	for _, p := range s.Slice() {
		parts = append(parts, p.String())
	}
	return "{" + strings.Join(parts, ",") + "}"
}
