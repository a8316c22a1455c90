// Package errs contains sentinel errors shared by the store, hub and command
// layers so callers can map failures to user-facing notices with errors.Is.
package errs

import "errors"

var (
	// ErrUnauthorized indicates an unknown key or a privilege violation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the requested identity or session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIdentityExists indicates the fingerprint is already present in the authfile.
	ErrIdentityExists = errors.New("identity already exists")

	// ErrEmptyUsername indicates sanitation removed every character of a username.
	ErrEmptyUsername = errors.New("username is empty after sanitation")

	// ErrUsernameTaken indicates another connected session already presents the username.
	ErrUsernameTaken = errors.New("username is in use by a connected session")

	// ErrInvalidRole indicates a comment suffix other than ":admin".
	ErrInvalidRole = errors.New("invalid role")

	// ErrBanSelf indicates an admin tried to ban their own key.
	ErrBanSelf = errors.New("users cannot ban themselves")

	// ErrAmbiguous indicates a lookup matched more than one identity.
	ErrAmbiguous = errors.New("lookup matches more than one identity")

	// ErrHubClosed indicates the room is shutting down and accepts no sessions.
	ErrHubClosed = errors.New("chat hub is closed")
)
