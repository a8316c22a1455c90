package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Tyrowin/lounge/internal/authstore"
	"github.com/Tyrowin/lounge/internal/chat"
	"github.com/Tyrowin/lounge/internal/config"
	"github.com/Tyrowin/lounge/internal/logging"
	"github.com/Tyrowin/lounge/internal/server"
)

type serveFlags struct {
	configPath string
	authfile   string
	sshBind    string
	sshPort    int
	hostKey    string
	http       bool
	httpPort   int
	watch      bool
	logLevel   string
	logJSON    bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long:  "Load the authfile and accept SSH (and optionally WebSocket) connections until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "path to lounge.yaml")
	flags.StringVarP(&f.authfile, "authfile", "a", "", "authorized keys file (auth.path)")
	flags.StringVar(&f.sshBind, "bind", "", "SSH bind address (ssh.bind)")
	flags.IntVarP(&f.sshPort, "port", "p", 0, "SSH port (ssh.port)")
	flags.StringVar(&f.hostKey, "host-key", "", "SSH host key path, generated if missing (ssh.host_key_path)")
	flags.BoolVar(&f.http, "http", false, "enable the WebSocket listener (http.enable)")
	flags.IntVar(&f.httpPort, "http-port", 0, "WebSocket listener port (http.port)")
	flags.BoolVar(&f.watch, "watch", false, "tell admins when the authfile changes on disk (auth.watch)")
	flags.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (log.level)")
	flags.BoolVar(&f.logJSON, "log-json", false, "log as JSON (log.json)")
	return cmd
}

// apply overrides cfg with the flags given explicitly on the command line.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("authfile") {
		cfg.Auth.Path = f.authfile
	}
	if changed("bind") {
		cfg.SSH.Bind = f.sshBind
	}
	if changed("port") {
		cfg.SSH.Port = f.sshPort
	}
	if changed("host-key") {
		cfg.SSH.HostKeyPath = f.hostKey
	}
	if changed("http") {
		cfg.HTTP.Enable = f.http
	}
	if changed("http-port") {
		cfg.HTTP.Port = f.httpPort
	}
	if changed("watch") {
		cfg.Auth.Watch = f.watch
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-json") {
		cfg.Log.JSON = f.logJSON
	}
}

func serve(parent context.Context, cfg config.Config) error {
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("ssh", cfg.SSH.Addr()),
		zap.String("authfile", cfg.Auth.Path),
	)

	store, err := authstore.Load(cfg.Auth.Path)
	if err != nil {
		return fmt.Errorf("load authfile: %w", err)
	}
	logger.Info("authfile loaded", zap.Int("keys", store.Len()))

	hub := chat.NewHub(chat.Options{
		HistorySize:    cfg.Chat.History,
		OutboundBuffer: cfg.Chat.OutboundBuffer,
		SendTimeout:    cfg.Chat.SendTimeout,
	}, logger.Named("hub"))

	srv, err := server.New(server.OptionsFromConfig(cfg), store, hub, logger.Named("server"))
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return err
	}
	if store.Dirty() {
		logger.Warn("exiting with uncommitted authfile changes")
	}
	return nil
}
