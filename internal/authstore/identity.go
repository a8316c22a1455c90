// Package authstore holds the authorization mapping from public-key
// fingerprint to username and role. It parses the authfile, supports
// in-memory mutation, reloads from disk and commits back atomically.
package authstore

import (
	"fmt"
	"strings"

	"github.com/Tyrowin/lounge/internal/errs"
)

// Role is the privilege level attached to an identity.
type Role int

const (
	// RoleNormal may chat and rename itself.
	RoleNormal Role = iota
	// RoleAdmin may additionally add, ban, commit and reload.
	RoleAdmin
)

const adminSuffix = ":admin"

// String returns the lower-case role name used in announcements.
func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "normal"
}

// Identity is what a fingerprint resolves to.
type Identity struct {
	Fingerprint string
	Username    string
	Role        Role
}

// IsAdmin reports whether the identity carries the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// Title renders the identity as "[name role]".
func (id Identity) Title() string {
	return fmt.Sprintf("[%s %s]", id.Username, id.Role)
}

// Sanitize keeps ASCII letters, digits and "@._-", dropping everything else.
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if isUsernameRune(c) {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func isUsernameRune(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '@', c == '.', c == '_', c == '-':
		return true
	}
	return false
}

// ParseComment splits an authfile comment into a sanitized username and a
// role. Only the ":admin" suffix is accepted after the last colon.
func ParseComment(comment string) (string, Role, error) {
	comment = strings.TrimSpace(comment)
	name, role := comment, RoleNormal
	if i := strings.LastIndex(comment, ":"); i >= 0 {
		if comment[i:] != adminSuffix {
			return "", RoleNormal, fmt.Errorf("%w: %q", errs.ErrInvalidRole, comment[i+1:])
		}
		name, role = comment[:i], RoleAdmin
	}
	username := Sanitize(name)
	if username == "" {
		return "", role, errs.ErrEmptyUsername
	}
	return username, role, nil
}

// FormatComment is the inverse of ParseComment for an already sanitized name.
func FormatComment(username string, role Role) string {
	if role == RoleAdmin {
		return username + adminSuffix
	}
	return username
}
