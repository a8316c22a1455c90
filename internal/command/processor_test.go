package command

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/Tyrowin/lounge/internal/auth"
	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/chat"
	"github.com/Tyrowin/lounge/internal/errs"
)

type fixture struct {
	path     string
	store    *authstore.Store
	hub      *chat.Hub
	proc     *Processor
	resolver *auth.Resolver
	bob      ssh.PublicKey
	admin    ssh.PublicKey
}

func newKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

func authorizedKey(key ssh.PublicKey) string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{bob: newKey(t), admin: newKey(t)}
	f.path = filepath.Join(t.TempDir(), "authfile")
	content := authorizedKey(f.bob) + " bob@work\n" + authorizedKey(f.admin) + " h@cafe:admin\n"
	require.NoError(t, os.WriteFile(f.path, []byte(content), 0o600))

	var err error
	f.store, err = authstore.Load(f.path)
	require.NoError(t, err)
	f.hub = chat.NewHub(chat.Options{HistorySize: 50, OutboundBuffer: 256}, zap.NewNop())
	f.proc = New(f.store, f.hub, zap.NewNop())
	f.resolver = auth.NewResolver(f.store, zap.NewNop())
	return f
}

// connect authenticates key and joins the room, as a transport would.
func (f *fixture) connect(t *testing.T, key ssh.PublicKey) *chat.Session {
	t.Helper()
	id, err := f.resolver.AuthenticateKey(key)
	require.NoError(t, err)
	s, err := f.hub.Join(id, "test")
	require.NoError(t, err)
	return s
}

func drain(s *chat.Session) []chat.Message {
	var out []chat.Message
	for {
		select {
		case m, ok := <-s.Outbound():
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func notices(msgs []chat.Message) []string {
	var out []string
	for _, m := range msgs {
		if m.Kind == chat.KindNotice {
			out = append(out, m.Body)
		}
	}
	return out
}

func TestScenarioLiveAddThenUncommittedReload(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(t, f.admin)
	assert.Equal(t, "h@cafe", admin.Username())
	assert.True(t, admin.IsAdmin())

	carol := newKey(t)
	require.NoError(t, f.proc.Handle(admin, "/add "+authorizedKey(carol)+" carol@lab"))
	assert.True(t, f.store.Dirty())

	c := f.connect(t, carol)
	assert.Equal(t, "carol@lab", c.Username())
	assert.Equal(t, authstore.RoleNormal, c.Role())

	require.NoError(t, f.proc.Reload(admin))
	_, err := f.resolver.AuthenticateKey(carol)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.True(t, c.Alive(), "reload does not disconnect authenticated sessions")
}

func TestAddCommitReloadKeepsEntry(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(t, f.admin)
	carol := newKey(t)

	require.NoError(t, f.proc.Handle(admin, "/add "+authorizedKey(carol)+" carol@lab:admin"))
	require.NoError(t, f.proc.Handle(admin, "/commit"))
	assert.False(t, f.store.Dirty())
	require.NoError(t, f.proc.Reload(admin))

	id, err := f.resolver.AuthenticateKey(carol)
	require.NoError(t, err)
	assert.Equal(t, "carol@lab", id.Username)
	assert.True(t, id.IsAdmin())
}

func TestNormalSessionCannotUseAdminCommands(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(t, f.bob)
	before := f.store.Entries()

	err := f.proc.Handle(bob, "/add "+authorizedKey(newKey(t))+" mallory")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.ErrorIs(t, f.proc.Handle(bob, "/commit"), errs.ErrUnauthorized)
	assert.ErrorIs(t, f.proc.Reload(bob), errs.ErrUnauthorized)
	assert.ErrorIs(t, f.proc.Handle(bob, "/ban h@cafe"), errs.ErrUnauthorized)

	assert.Equal(t, before, f.store.Entries())
	assert.False(t, f.store.Dirty())
	got := notices(drain(bob))
	require.Len(t, got, 4)
	assert.Contains(t, got[0], "unauthorized")
}

func TestAddErrorsStayWithRequester(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(t, f.admin)
	bob := f.connect(t, f.bob)
	drain(bob)

	err := f.proc.Handle(admin, "/add "+authorizedKey(f.bob)+" bobby")
	assert.ErrorIs(t, err, errs.ErrIdentityExists)

	err = f.proc.Handle(admin, "/add ssh-ed25519 AAAA3 carol@lab")
	assert.ErrorIs(t, err, authstore.ErrMalformedLine)

	err = f.proc.Handle(admin, "/add "+authorizedKey(newKey(t))+" bob@work")
	assert.ErrorIs(t, err, errs.ErrUsernameTaken)

	assert.Len(t, notices(drain(admin)), 3)
	assert.Empty(t, drain(bob))
	assert.False(t, f.store.Dirty())
}

func TestRenameUpdatesSessionStoreAndRoom(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(t, f.bob)
	admin := f.connect(t, f.admin)
	drain(admin)

	require.NoError(t, f.proc.Handle(bob, "/rename rob$ert"))
	assert.Equal(t, "robert", bob.Username())
	assert.True(t, f.store.Dirty())

	id, ok := f.store.Resolve(ssh.FingerprintSHA256(f.bob))
	require.True(t, ok)
	assert.Equal(t, "robert", id.Username)

	msgs := drain(admin)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.KindSystem, msgs[0].Kind)
	assert.Equal(t, "bob@work is now known as robert", msgs[0].Body)
}

func TestRenameFailures(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(t, f.bob)
	f.connect(t, f.admin)

	assert.ErrorIs(t, f.proc.Handle(bob, "/rename !!!"), errs.ErrEmptyUsername)
	assert.ErrorIs(t, f.proc.Handle(bob, "/rename h@cafe"), errs.ErrUsernameTaken)
	assert.Equal(t, "bob@work", bob.Username())
	assert.False(t, f.store.Dirty())
}

func TestRenameKeepsAdminRole(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(t, f.admin)
	require.NoError(t, f.proc.Handle(admin, "/rename boss:admin"))
	assert.Equal(t, "bossadmin", admin.Username())
	assert.True(t, admin.IsAdmin())
}

func TestChatLinesAreBroadcast(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(t, f.bob)
	admin := f.connect(t, f.admin)

	require.NoError(t, f.proc.Handle(bob, "  hello there  "))
	require.NoError(t, f.proc.Handle(bob, "/shrug not a command"))
	require.NoError(t, f.proc.Handle(bob, "   "))

	for _, s := range []*chat.Session{bob, admin} {
		msgs := drain(s)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hello there", msgs[0].Body)
		assert.Equal(t, "bob@work", msgs[0].Username)
		assert.Equal(t, bob.ID, msgs[0].Sender)
		assert.Equal(t, "/shrug not a command", msgs[1].Body)
	}
}

func TestSessionRoleIsSnapshot(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(t, f.admin)

	require.NoError(t, os.WriteFile(f.path, []byte(authorizedKey(f.admin)+" h@cafe\n"), 0o600))
	require.NoError(t, f.proc.Reload(admin))

	id, _ := f.store.Resolve(ssh.FingerprintSHA256(f.admin))
	assert.False(t, id.IsAdmin())
	assert.True(t, admin.IsAdmin())
	require.NoError(t, f.proc.Handle(admin, "/commit"))
}

func TestFailedReloadKeepsStore(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(t, f.admin)
	carol := newKey(t)
	require.NoError(t, f.proc.Handle(admin, "/add "+authorizedKey(carol)+" carol"))

	require.NoError(t, os.WriteFile(f.path, []byte("not a key\n"), 0o600))
	drain(admin)
	err := f.proc.Reload(admin)
	var perr *authstore.ParseError
	require.ErrorAs(t, err, &perr)

	_, err = f.resolver.AuthenticateKey(carol)
	assert.NoError(t, err)
	got := notices(drain(admin))
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "reload failed")
}

func TestBan(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(t, f.admin)
	bob := f.connect(t, f.bob)

	assert.ErrorIs(t, f.proc.Handle(admin, "/ban h@cafe"), errs.ErrBanSelf)
	assert.ErrorIs(t, f.proc.Handle(admin, "/ban nobody"), errs.ErrNotFound)

	require.NoError(t, f.proc.Handle(admin, "/ban bob@work"))
	assert.False(t, bob.Alive())
	assert.True(t, f.store.Dirty())
	_, err := f.resolver.AuthenticateKey(f.bob)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	// The transport's teardown after a kick must not announce a second time.
	before := len(f.hub.History())
	f.proc.Exit(bob)
	assert.Len(t, f.hub.History(), before)
}

func TestBanAmbiguousName(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(t, f.admin)
	require.NoError(t, f.proc.Handle(admin, "/add "+authorizedKey(newKey(t))+" twin"))
	require.NoError(t, f.proc.Handle(admin, "/add "+authorizedKey(newKey(t))+" twin"))

	assert.ErrorIs(t, f.proc.Handle(admin, "/ban twin"), errs.ErrAmbiguous)
}

func TestWhoisAndWho(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(t, f.bob)
	f.connect(t, f.admin)
	drain(bob)

	require.NoError(t, f.proc.Handle(bob, "/whois h@cafe"))
	got := notices(drain(bob))
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "[h@cafe admin]")
	assert.Contains(t, got[0], ssh.FingerprintSHA256(f.admin))
	assert.Contains(t, got[1], "connected since")

	require.NoError(t, f.proc.Handle(bob, "/whois "+ssh.FingerprintSHA256(f.bob)))
	assert.Len(t, notices(drain(bob)), 2)

	assert.ErrorIs(t, f.proc.Handle(bob, "/whois ghost"), errs.ErrNotFound)
	drain(bob)

	require.NoError(t, f.proc.Handle(bob, "/who"))
	got = notices(drain(bob))
	require.Len(t, got, 1)
	assert.Equal(t, "2 connected: bob@work, h@cafe (admin)", got[0])
}

func TestHelpHidesAdminCommands(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(t, f.bob)
	admin := f.connect(t, f.admin)
	drain(bob)
	drain(admin)

	require.NoError(t, f.proc.Handle(bob, "/help"))
	require.NoError(t, f.proc.Handle(admin, "/HELP"))

	normal := strings.Join(notices(drain(bob)), "\n")
	privileged := strings.Join(notices(drain(admin)), "\n")
	assert.NotContains(t, normal, "/add")
	assert.Contains(t, normal, "/rename")
	assert.Contains(t, privileged, "/add")
	assert.Contains(t, privileged, "Ctrl-R")
}

func TestEnterAndExitAnnounceOnce(t *testing.T) {
	f := newFixture(t)
	admin := f.connect(t, f.admin)
	bob := f.connect(t, f.bob)
	drain(admin)

	f.proc.Enter(bob)
	f.proc.Exit(bob)
	f.proc.Exit(bob)

	msgs := drain(admin)
	require.Len(t, msgs, 2)
	assert.Equal(t, "bob@work has joined the chat with normal privileges", msgs[0].Body)
	assert.Equal(t, "bob@work with normal privileges has left the chat", msgs[1].Body)
	assert.False(t, bob.Alive())
}
