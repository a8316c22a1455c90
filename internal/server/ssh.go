package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/Tyrowin/lounge/internal/authstore"
)

// Permission extensions carrying the resolved identity from the auth
// callback to the connection handler.
const (
	extFingerprint = "lounge-fingerprint"
	extUsername    = "lounge-username"
	extRole        = "lounge-role"
)

var errInvalidCredentials = errors.New("invalid credentials")

func (s *Server) newSSHConfig(hostKey ssh.Signer) *ssh.ServerConfig {
	conf := &ssh.ServerConfig{
		MaxAuthTries:      s.opts.MaxAuthTries,
		ServerVersion:     "SSH-2.0-lounge",
		PublicKeyCallback: s.authenticateSSH,
	}
	conf.AddHostKey(hostKey)
	return conf
}

// authenticateSSH is consulted for every offered key. The identity is
// snapshotted into the permissions, so a later reload never changes an
// already authenticated connection.
func (s *Server) authenticateSSH(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	id, err := s.resolver.AuthenticateKey(key)
	if err != nil {
		s.log.Debug("ssh key refused",
			zap.String("remote", meta.RemoteAddr().String()),
			zap.String("login", meta.User()),
			zap.Error(err),
		)
		return nil, errInvalidCredentials
	}
	return &ssh.Permissions{Extensions: map[string]string{
		extFingerprint: id.Fingerprint,
		extUsername:    id.Username,
		extRole:        id.Role.String(),
	}}, nil
}

func identityFromPermissions(p *ssh.Permissions) (authstore.Identity, bool) {
	if p == nil || p.Extensions[extFingerprint] == "" {
		return authstore.Identity{}, false
	}
	id := authstore.Identity{
		Fingerprint: p.Extensions[extFingerprint],
		Username:    p.Extensions[extUsername],
		Role:        authstore.RoleNormal,
	}
	if p.Extensions[extRole] == authstore.RoleAdmin.String() {
		id.Role = authstore.RoleAdmin
	}
	return id, true
}

// ServeSSH accepts SSH connections on ln until ctx is cancelled.
func (s *Server) ServeSSH(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	s.log.Info("ssh listening", zap.String("addr", ln.Addr().String()))

	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept ssh: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(c)
		}()
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	s.trackConn(netConn)
	defer s.untrackConn(netConn)
	defer netConn.Close()

	remote := netConn.RemoteAddr().String()
	_ = netConn.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	serverConn, chans, reqs, err := ssh.NewServerConn(netConn, s.sshConf)
	if err != nil {
		s.log.Debug("ssh handshake failed", zap.String("remote", remote), zap.Error(err))
		return
	}
	defer serverConn.Close()
	_ = netConn.SetDeadline(time.Time{})

	go ssh.DiscardRequests(reqs)

	id, ok := identityFromPermissions(serverConn.Permissions)
	if !ok {
		return
	}
	s.log.Info("ssh connection authenticated",
		zap.String("remote", remote),
		zap.String("user", id.Username),
		zap.String("client", string(serverConn.ClientVersion())),
	)

	served := false
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel")
			continue
		}
		if served {
			_ = newCh.Reject(ssh.Prohibited, "one session per connection")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		served = true
		go func() {
			s.serveTerminal(id, remote, ch, chReqs)
			_ = serverConn.Close()
		}()
	}
}
