package authstore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// keyring is an immutable-by-convention snapshot of the authfile. Mutations
// work on a clone which is then swapped into the Store as a whole.
type keyring struct {
	entries map[string]Entry
	order   []string
}

func newKeyring() *keyring {
	return &keyring{entries: make(map[string]Entry)}
}

func (k *keyring) clone() *keyring {
	c := &keyring{
		entries: make(map[string]Entry, len(k.entries)),
		order:   append([]string(nil), k.order...),
	}
	for fp, e := range k.entries {
		c.entries[fp] = e
	}
	return c
}

func (k *keyring) get(fingerprint string) (Entry, bool) {
	e, ok := k.entries[fingerprint]
	return e, ok
}

func (k *keyring) put(e Entry) {
	fp := e.Identity.Fingerprint
	if _, exists := k.entries[fp]; !exists {
		k.order = append(k.order, fp)
	}
	k.entries[fp] = e
}

func (k *keyring) remove(fingerprint string) {
	if _, ok := k.entries[fingerprint]; !ok {
		return
	}
	delete(k.entries, fingerprint)
	for i, fp := range k.order {
		if fp == fingerprint {
			k.order = append(k.order[:i], k.order[i+1:]...)
			break
		}
	}
}

func (k *keyring) list() []Entry {
	out := make([]Entry, 0, len(k.order))
	for _, fp := range k.order {
		out = append(out, k.entries[fp])
	}
	return out
}

// sameIdentities reports whether k and o map the same fingerprints to the
// same identities, ignoring order.
func (k *keyring) sameIdentities(o *keyring) bool {
	if len(k.entries) != len(o.entries) {
		return false
	}
	for fp, e := range k.entries {
		other, ok := o.entries[fp]
		if !ok || other.Identity != e.Identity {
			return false
		}
	}
	return true
}

func (k *keyring) marshal() []byte {
	var b strings.Builder
	for _, e := range k.list() {
		b.WriteString(e.MarshalLine())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func readKeyring(path string) (*keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open authfile: %w", err)
	}
	defer f.Close()
	return parseKeyring(f)
}

// parseKeyring reads authorized key lines, skipping blanks and '#' comments.
func parseKeyring(r io.Reader) (*keyring, error) {
	k := newKeyring()
	firstSeen := make(map[string]int)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Err: err}
		}
		fp := e.Identity.Fingerprint
		if first, dup := firstSeen[fp]; dup {
			return nil, &DuplicateKeyError{Line: lineNo, FirstLine: first, Fingerprint: fp}
		}
		firstSeen[fp] = lineNo
		k.put(e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read authfile: %w", err)
	}
	return k, nil
}
