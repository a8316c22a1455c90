package authstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/lounge/internal/errs"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"bob@work":     "bob@work",
		"u$er!":        "uer",
		"a b\tc":       "abc",
		"dots.and_-":   "dots.and_-",
		"ünïcode":      "ncode",
		"!!!":          "",
		"Mixed123CASE": "Mixed123CASE",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "Sanitize(%q)", in)
	}
}

func TestParseComment(t *testing.T) {
	name, role, err := ParseComment("h@cafe:admin")
	require.NoError(t, err)
	assert.Equal(t, "h@cafe", name)
	assert.Equal(t, RoleAdmin, role)

	name, role, err = ParseComment("bob@work")
	require.NoError(t, err)
	assert.Equal(t, "bob@work", name)
	assert.Equal(t, RoleNormal, role)

	name, _, err = ParseComment("u$er!")
	require.NoError(t, err)
	assert.Equal(t, "uer", name)

	_, _, err = ParseComment("bob:root")
	assert.ErrorIs(t, err, errs.ErrInvalidRole)

	_, _, err = ParseComment("$$$:admin")
	assert.ErrorIs(t, err, errs.ErrEmptyUsername)
}

func TestFormatCommentRoundTrip(t *testing.T) {
	for _, role := range []Role{RoleNormal, RoleAdmin} {
		name, got, err := ParseComment(FormatComment("carol@lab", role))
		require.NoError(t, err)
		assert.Equal(t, "carol@lab", name)
		assert.Equal(t, role, got)
	}
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery("bob@work")
	require.NoError(t, err)
	assert.Equal(t, "bob@work", q.Username)

	q, err = ParseQuery("SHA256:abcdef")
	require.NoError(t, err)
	assert.Equal(t, "SHA256:abcdef", q.Fingerprint)

	for _, bad := range []string{"", "MD5:aa", "SHA256:", "SHA256:a:b"} {
		_, err := ParseQuery(bad)
		assert.Error(t, err, "ParseQuery(%q)", bad)
	}
}
