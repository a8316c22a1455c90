// Package auth admits connections into the room by resolving the offered
// public key against the authorization store.
package auth

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/errs"
)

// Directory is the read side of the authorization store.
type Directory interface {
	Resolve(fingerprint string) (authstore.Identity, bool)
}

// Resolver is the single gate admitting a connection.
type Resolver struct {
	dir Directory
	log *zap.Logger
}

// NewResolver returns a Resolver reading from dir.
func NewResolver(dir Directory, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{dir: dir, log: log}
}

// Authenticate resolves fingerprint to an identity, or ErrUnauthorized.
// The identity is a snapshot: later store mutations do not affect it.
func (r *Resolver) Authenticate(fingerprint string) (authstore.Identity, error) {
	id, ok := r.dir.Resolve(fingerprint)
	if !ok {
		r.log.Info("rejected unknown key", zap.String("fingerprint", fingerprint))
		return authstore.Identity{}, fmt.Errorf("%w: unknown key", errs.ErrUnauthorized)
	}
	// Usernames must already be in sanitized form.
	if authstore.Sanitize(id.Username) != id.Username || id.Username == "" {
		r.log.Warn("rejected key with invalid username", zap.String("fingerprint", fingerprint))
		return authstore.Identity{}, fmt.Errorf("%w: invalid username", errs.ErrUnauthorized)
	}
	r.log.Debug("authenticated",
		zap.String("fingerprint", fingerprint),
		zap.String("user", id.Username),
		zap.Stringer("role", id.Role),
	)
	return id, nil
}

// AuthenticateKey is Authenticate for a parsed SSH public key.
func (r *Resolver) AuthenticateKey(key ssh.PublicKey) (authstore.Identity, error) {
	if key == nil {
		return authstore.Identity{}, errs.ErrUnauthorized
	}
	return r.Authenticate(ssh.FingerprintSHA256(key))
}
