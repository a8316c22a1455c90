package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/chat"
)

type fixture struct {
	srv   *Server
	store *authstore.Store
	path  string
	bob   ssh.Signer
	admin ssh.Signer
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func authorizedKey(key ssh.PublicKey) string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		path:  filepath.Join(dir, "authfile"),
		bob:   newSigner(t),
		admin: newSigner(t),
	}
	content := authorizedKey(f.bob.PublicKey()) + " bob@work\n" +
		authorizedKey(f.admin.PublicKey()) + " h@cafe:admin\n"
	require.NoError(t, os.WriteFile(f.path, []byte(content), 0o600))

	var err error
	f.store, err = authstore.Load(f.path)
	require.NoError(t, err)

	opts := defaultOptions()
	opts.HostKeyPath = filepath.Join(dir, "host_ed25519")
	opts.ShutdownTimeout = time.Second
	if mutate != nil {
		mutate(&opts)
	}
	hub := chat.NewHub(chat.Options{HistorySize: 20, OutboundBuffer: 64, SendTimeout: time.Second}, zap.NewNop())
	f.srv, err = New(opts, f.store, hub, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(hub.Close)
	return f
}

// startSSH serves SSH on a loopback port until the test ends.
func (f *fixture) startSSH(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.ServeSSH(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

type termClient struct {
	client *ssh.Client
	stdin  io.WriteCloser

	mu  sync.Mutex
	buf bytes.Buffer
}

func dialSSH(addr string, signer ssh.Signer) (*ssh.Client, error) {
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "lounge",
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func openTerminal(t *testing.T, addr string, signer ssh.Signer) *termClient {
	t.Helper()
	client, err := dialSSH(addr, signer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sess, err := client.NewSession()
	require.NoError(t, err)
	require.NoError(t, sess.RequestPty("xterm", 24, 120, ssh.TerminalModes{}))
	stdin, err := sess.StdinPipe()
	require.NoError(t, err)
	stdout, err := sess.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, sess.Shell())

	tc := &termClient{client: client, stdin: stdin}
	go func() {
		b := make([]byte, 4096)
		for {
			n, err := stdout.Read(b)
			tc.mu.Lock()
			tc.buf.Write(b[:n])
			tc.mu.Unlock()
			if err != nil {
				return
			}
		}
	}()
	return tc
}

func (c *termClient) output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *termClient) send(t *testing.T, keys string) {
	t.Helper()
	_, err := c.stdin.Write([]byte(keys))
	require.NoError(t, err)
}

func (c *termClient) waitFor(t *testing.T, substr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(c.output(), substr)
	}, 5*time.Second, 10*time.Millisecond, "never saw %q", substr)
}

func identityOf(t *testing.T, f *fixture, key ssh.PublicKey) authstore.Identity {
	t.Helper()
	id, ok := f.store.Resolve(ssh.FingerprintSHA256(key))
	require.True(t, ok)
	return id
}
