package authstore

import (
	"fmt"
	"strings"
)

// Query selects identities either by fingerprint ("SHA256:<digest>") or by
// username (a bare word without colons).
type Query struct {
	Fingerprint string
	Username    string
}

// ParseQuery parses the argument of /whois and /ban.
func ParseQuery(s string) (Query, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Query{}, fmt.Errorf("empty lookup")
	}
	prefix, digest, found := strings.Cut(s, ":")
	if !found {
		return Query{Username: s}, nil
	}
	if prefix == "SHA256" && digest != "" && !strings.Contains(digest, ":") {
		return Query{Fingerprint: s}, nil
	}
	return Query{}, fmt.Errorf("invalid lookup %q: use a username or SHA256:<fingerprint>", s)
}

// Matches reports whether id is selected by the query.
func (q Query) Matches(id Identity) bool {
	if q.Fingerprint != "" {
		return id.Fingerprint == q.Fingerprint
	}
	return id.Username == q.Username
}

// String returns the query in the form it was typed.
func (q Query) String() string {
	if q.Fingerprint != "" {
		return q.Fingerprint
	}
	return q.Username
}
