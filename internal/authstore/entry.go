package authstore

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Entry is one authorized key together with the identity it grants.
type Entry struct {
	Key      ssh.PublicKey
	Identity Identity
}

// ParseLine parses "<key-type> <base64-key> <comment>". Key options and a
// missing comment are rejected.
func ParseLine(line string) (Entry, error) {
	key, comment, options, rest, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if len(options) > 0 {
		return Entry{}, fmt.Errorf("%w: key options are not supported", ErrMalformedLine)
	}
	if len(bytes.TrimSpace(rest)) > 0 {
		return Entry{}, fmt.Errorf("%w: trailing data", ErrMalformedLine)
	}
	if strings.TrimSpace(comment) == "" {
		return Entry{}, fmt.Errorf("%w: missing comment", ErrMalformedLine)
	}
	return newEntry(key, comment)
}

// NewEntry builds an Entry for key from a raw "name[:admin]" comment.
func NewEntry(key ssh.PublicKey, comment string) (Entry, error) {
	if key == nil {
		return Entry{}, fmt.Errorf("%w: missing key", ErrMalformedLine)
	}
	return newEntry(key, comment)
}

func newEntry(key ssh.PublicKey, comment string) (Entry, error) {
	username, role, err := ParseComment(comment)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Key: key,
		Identity: Identity{
			Fingerprint: ssh.FingerprintSHA256(key),
			Username:    username,
			Role:        role,
		},
	}, nil
}

// MarshalLine renders the entry in authorized_keys form without a newline.
func (e Entry) MarshalLine() string {
	keyPart := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(e.Key)))
	return keyPart + " " + FormatComment(e.Identity.Username, e.Identity.Role)
}
