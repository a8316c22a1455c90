package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/errs"
)

type fakeDirectory map[string]authstore.Identity

var _ Directory = fakeDirectory(nil)

func (f fakeDirectory) Resolve(fp string) (authstore.Identity, bool) {
	id, ok := f[fp]
	return id, ok
}

func newKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

func TestAuthenticateKnownKey(t *testing.T) {
	k := newKey(t)
	fp := ssh.FingerprintSHA256(k)
	r := NewResolver(fakeDirectory{fp: {Fingerprint: fp, Username: "h@cafe", Role: authstore.RoleAdmin}}, zap.NewNop())

	id, err := r.AuthenticateKey(k)
	require.NoError(t, err)
	assert.Equal(t, "h@cafe", id.Username)
	assert.True(t, id.IsAdmin())
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	known := newKey(t)
	fp := ssh.FingerprintSHA256(known)
	r := NewResolver(fakeDirectory{fp: {Fingerprint: fp, Username: "bob"}}, nil)

	for i := 0; i < 5; i++ {
		_, err := r.AuthenticateKey(newKey(t))
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	}
	_, err := r.AuthenticateKey(nil)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestAuthenticateRejectsUnsanitizedName(t *testing.T) {
	r := NewResolver(fakeDirectory{"SHA256:x": {Fingerprint: "SHA256:x", Username: "bad name"}}, nil)
	_, err := r.Authenticate("SHA256:x")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}
