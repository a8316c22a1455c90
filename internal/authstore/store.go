package authstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/Tyrowin/lounge/internal/errs"
)

const defaultFileMode fs.FileMode = 0o600

// Store is the authoritative, reloadable and committable authorization map.
//
// Readers take mu briefly to grab the current keyring pointer. Writers
// (Add, Rename, Remove, Reload, Commit) are serialized by writeMu and install
// a new keyring in one step, so concurrent readers never observe a
// half-updated map. Commit's file I/O runs under writeMu only.
type Store struct {
	path string

	writeMu sync.Mutex

	mu    sync.RWMutex
	ring  *keyring
	dirty bool
}

// Load parses the authfile at path. Any malformed line or duplicate key fails
// the whole load.
func Load(path string) (*Store, error) {
	ring, err := readKeyring(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, ring: ring}, nil
}

// Path returns the backing authfile path.
func (s *Store) Path() string { return s.path }

func (s *Store) current() *keyring {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring
}

func (s *Store) install(ring *keyring, dirty bool) {
	s.mu.Lock()
	s.ring = ring
	s.dirty = dirty
	s.mu.Unlock()
}

// Resolve looks up a fingerprint without mutating anything.
func (s *Store) Resolve(fingerprint string) (Identity, bool) {
	e, ok := s.current().get(fingerprint)
	if !ok {
		return Identity{}, false
	}
	return e.Identity, true
}

// Dirty reports whether in-memory entries differ from the last load or commit.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Len returns the number of authorized keys.
func (s *Store) Len() int {
	return len(s.current().order)
}

// Entries returns the authorized keys in file order.
func (s *Store) Entries() []Entry {
	return s.current().list()
}

// Lookup returns every identity the query selects, in file order.
func (s *Store) Lookup(q Query) []Identity {
	var out []Identity
	for _, e := range s.current().list() {
		if q.Matches(e.Identity) {
			out = append(out, e.Identity)
		}
	}
	return out
}

// Add authorizes key under the raw "name[:admin]" comment.
func (s *Store) Add(key ssh.PublicKey, comment string) (Identity, error) {
	e, err := NewEntry(key, comment)
	if err != nil {
		return Identity{}, err
	}
	return s.AddEntry(e)
}

// AddEntry authorizes an already parsed entry.
func (s *Store) AddEntry(e Entry) (Identity, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.current()
	if _, exists := cur.get(e.Identity.Fingerprint); exists {
		return Identity{}, fmt.Errorf("%w: %s", errs.ErrIdentityExists, e.Identity.Fingerprint)
	}
	next := cur.clone()
	next.put(e)
	s.install(next, true)
	return e.Identity, nil
}

// Rename sanitizes raw and applies it to the entry for fingerprint. The role
// is left untouched. It returns the applied username.
func (s *Store) Rename(fingerprint, raw string) (string, error) {
	username := Sanitize(raw)
	if username == "" {
		return "", errs.ErrEmptyUsername
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.current()
	e, ok := cur.get(fingerprint)
	if !ok {
		return "", fmt.Errorf("%w: %s", errs.ErrNotFound, fingerprint)
	}
	if e.Identity.Username == username {
		return username, nil
	}
	e.Identity.Username = username
	next := cur.clone()
	next.put(e)
	s.install(next, true)
	return username, nil
}

// Remove drops the entry for fingerprint and returns the identity it held.
func (s *Store) Remove(fingerprint string) (Identity, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.current()
	e, ok := cur.get(fingerprint)
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", errs.ErrNotFound, fingerprint)
	}
	next := cur.clone()
	next.remove(fingerprint)
	s.install(next, true)
	return e.Identity, nil
}

// Reload re-reads the authfile and replaces every in-memory entry with the
// disk state. Uncommitted changes are discarded. On error nothing changes.
func (s *Store) Reload() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ring, err := readKeyring(s.path)
	if err != nil {
		return err
	}
	s.install(ring, false)
	return nil
}

// Commit writes every entry back to the authfile through a temp file and
// rename. dirty is cleared only once the rename succeeded.
func (s *Store) Commit() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	perm := defaultFileMode
	if st, err := os.Stat(s.path); err == nil {
		perm = st.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat authfile: %w", err)
	}

	if err := writeFileAtomic(s.path, s.current().marshal(), perm); err != nil {
		return fmt.Errorf("commit authfile: %w", err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// ChangedOnDisk reports whether the authfile grants a different set of
// identities than the in-memory entries. Comments, blank lines, spacing and
// line order do not count as changes.
func (s *Store) ChangedOnDisk() (bool, error) {
	disk, err := readKeyring(s.path)
	if err != nil {
		return false, err
	}
	return !disk.sameIdentities(s.current()), nil
}
