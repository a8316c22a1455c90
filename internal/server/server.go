package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/Tyrowin/lounge/internal/auth"
	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/chat"
	"github.com/Tyrowin/lounge/internal/command"
)

// Server owns the listeners and every live connection.
type Server struct {
	opts     Options
	log      *zap.Logger
	store    *authstore.Store
	resolver *auth.Resolver
	hub      *chat.Hub
	proc     *command.Processor
	origins  *originPolicy
	upgrader websocket.Upgrader
	sshConf  *ssh.ServerConfig

	wg     sync.WaitGroup
	connMu sync.Mutex
	conns  map[io.Closer]struct{}
}

// New wires a Server around store and hub. The SSH host key is loaded from
// opts.HostKeyPath, or generated there on first start.
func New(opts Options, store *authstore.Store, hub *chat.Hub, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts = sanitizeOptions(opts)
	if opts.HostKeyPath == "" {
		return nil, errors.New("host key path is required")
	}

	hostKey, created, err := loadOrCreateHostKey(opts.HostKeyPath)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info("generated ssh host key", zap.String("path", opts.HostKeyPath))
	}
	log.Info("ssh host key",
		zap.String("type", hostKey.PublicKey().Type()),
		zap.String("fingerprint", ssh.FingerprintSHA256(hostKey.PublicKey())),
	)

	s := &Server{
		opts:     opts,
		log:      log,
		store:    store,
		resolver: auth.NewResolver(store, log.Named("auth")),
		hub:      hub,
		proc:     command.New(store, hub, log.Named("command")),
		conns:    make(map[io.Closer]struct{}),
	}
	s.origins = newOriginPolicy(opts.AllowedOrigins, log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.sshConf = s.newSSHConfig(hostKey)
	return s, nil
}

// Hub returns the room served by s.
func (s *Server) Hub() *chat.Hub { return s.hub }

// Run listens on the configured addresses until ctx is cancelled or a
// listener fails, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sshLn, err := net.Listen("tcp", s.opts.SSHAddr)
	if err != nil {
		return fmt.Errorf("listen ssh: %w", err)
	}

	errCh := make(chan error, 2)
	sshDone := make(chan struct{})
	go func() {
		defer close(sshDone)
		if err := s.ServeSSH(ctx, sshLn); err != nil {
			errCh <- err
		}
	}()

	var httpSrv *http.Server
	if s.opts.HTTPEnable {
		httpLn, err := net.Listen("tcp", s.opts.HTTPAddr)
		if err != nil {
			_ = sshLn.Close()
			return fmt.Errorf("listen http: %w", err)
		}
		httpSrv = createHTTPServer(s.Handler())
		s.log.Info("http listening", zap.String("addr", httpLn.Addr().String()))
		go func() {
			if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve http: %w", err)
			}
		}()
	}

	if s.opts.WatchAuthfile {
		go func() {
			if err := s.watchAuthfile(ctx); err != nil {
				s.log.Warn("authfile watcher stopped", zap.Error(err))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	cancel()
	<-sshDone
	s.shutdown(httpSrv)
	return runErr
}

// createHTTPServer creates an HTTP server with reasonable timeouts. Upgraded
// WebSocket connections are not bound by them.
func createHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// shutdown stops accepting, drops every session and waits for connection
// handlers to finish, forcing connections closed after ShutdownTimeout.
func (s *Server) shutdown(httpSrv *http.Server) {
	s.log.Info("shutting down")
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		if err := httpSrv.Shutdown(ctx); err != nil {
			s.log.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}
	s.hub.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.opts.ShutdownTimeout):
		s.log.Warn("forcing open connections closed")
		s.closeConns()
		<-done
	}
	s.log.Info("shutdown complete")
}

func (s *Server) trackConn(c io.Closer) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrackConn(c io.Closer) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

func (s *Server) closeConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}
