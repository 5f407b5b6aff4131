// Package permission defines the closed set of grantable permissions and a
// compact bitmask [Set] used to cache a user's grants for one request.
//
// This package is a pure in-memory data structure with no I/O.
package permission
