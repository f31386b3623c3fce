package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfsd/nfsd/internal/access"
	"github.com/nfsd/nfsd/internal/config"
	"github.com/nfsd/nfsd/internal/handles"
	"github.com/nfsd/nfsd/internal/logger"
	"github.com/nfsd/nfsd/internal/nfs"
	v2 "github.com/nfsd/nfsd/internal/nfs/v2"
	v3 "github.com/nfsd/nfsd/internal/nfs/v3"
	v4 "github.com/nfsd/nfsd/internal/nfs/v4"
	"github.com/nfsd/nfsd/internal/protocol/portmap"
	"github.com/nfsd/nfsd/internal/protocol/transport"
	"github.com/nfsd/nfsd/internal/rpcmux"
	"github.com/nfsd/nfsd/internal/security"
	"github.com/nfsd/nfsd/internal/stats"
	"github.com/nfsd/nfsd/internal/vfs"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the NFS server",
	Long: `serve starts the portmapper and whichever NFS versions are enabled
in the config file, and serves RPC traffic until a shutdown signal arrives.

By default the server daemonizes (forks into the background). Use
--foreground to run under a process supervisor or for debugging.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in foreground instead of daemonizing")
	serveCmd.Flags().StringVar(&pidFile, "pid-file", "", "path to PID file (default: $XDG_STATE_HOME/nfsd/nfsd.pid)")
	serveCmd.Flags().StringVar(&logFile, "log-file", "", "path to log file for daemon mode (default: $XDG_STATE_HOME/nfsd/nfsd.log)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return ConfigError(err)
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Output: logFile}); err != nil {
		return ConfigError(fmt.Errorf("init logger: %w", err))
	}

	srv, cleanup, err := buildServer(cfg)
	if err != nil {
		return ConfigError(err)
	}
	defer cleanup()

	listener, err := buildListener(cfg, srv)
	if err != nil {
		return BindError(err)
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
			return ConfigError(fmt.Errorf("write pid file: %w", err))
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	if configFile != "" {
		watcher, err := config.WatchFile(configFile, func(reloaded *config.Config) {
			logger.Info("config reload: applying hot-reloadable fields")
			applyReload(srv, reloaded)
		})
		if err != nil {
			logger.Warn("config file watch not available, edits will only apply on SIGHUP", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- listener.Serve(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, lifecycleSignals...)
	defer signal.Stop(sigCh)

	logger.Info("nfsd started", "bind_address", cfg.BindAddress, "port", cfg.Port)

	for {
		select {
		case sig := <-sigCh:
			switch {
			case isReloadSignal(sig):
				logger.Info("SIGHUP received, reloading config")
				reloaded, err := config.Load(configFile)
				if err != nil {
					logger.Warn("config reload failed, keeping running config", "error", err)
					continue
				}
				applyReload(srv, reloaded)
				cfg = reloaded
			case isRotateSignal(sig):
				logger.Info("SIGUSR1 received, rotating log file")
				if logFile != "" {
					if err := logger.Init(logger.Config{Output: logFile}); err != nil {
						logger.Warn("log rotation failed", "error", err)
					}
				}
			case isStatsSignal(sig):
				logger.Info("SIGUSR2 received, writing stats snapshot")
				if err := writeStatsSnapshot(srv); err != nil {
					logger.Warn("stats snapshot failed", "error", err)
				}
			default:
				logger.Info("shutdown signal received, stopping")
				cancel()
				if err := listener.Stop(); err != nil {
					logger.Warn("error closing listener", "error", err)
				}
				if err := <-serveErr; err != nil {
					return RuntimeFatal(err)
				}
				logger.Info("nfsd stopped")
				return nil
			}
		case err := <-serveErr:
			if err != nil {
				return RuntimeFatal(err)
			}
			logger.Info("nfsd stopped")
			return nil
		}
	}
}

// applyReload copies the subset of cfg that is safe to change without
// rebinding the listener onto the running server: log level, root
// squash policy, and the export list. Listener bind address, port, and
// protocol-version selection all require a restart.
func applyReload(srv *nfs.Server, cfg *config.Config) {
	logger.SetLevel(cfg.LogLevel)

	srv.RootSquash = security.RootSquashConfig{
		Enabled: cfg.RootSquash,
		AnonUID: cfg.AnonUID,
		AnonGID: cfg.AnonGID,
	}

	exports := make([]security.Export, 0, len(cfg.Exports))
	for _, e := range cfg.Exports {
		exports = append(exports, security.Export{
			Name: e.Name, Path: e.Path, Clients: e.Clients, Options: e.Options, Comment: e.Comment,
		})
	}
	if len(exports) == 0 {
		exports = []security.Export{{Name: "/", Path: "/"}}
	}
	srv.Exports = exports
}

// writeStatsSnapshot renders srv.Stats as text and writes it to the
// state directory, where the stats subcommand reads it back.
func writeStatsSnapshot(srv *nfs.Server) error {
	snapshot, err := srv.Stats.Snapshot()
	if err != nil {
		return fmt.Errorf("render stats snapshot: %w", err)
	}
	path := statsSnapshotPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	return os.WriteFile(path, []byte(snapshot), 0o644)
}

func statsSnapshotPath() string {
	return filepath.Join(GetDefaultStateDir(), "nfsd.stats")
}

// buildServer wires the shared nfs.Server from cfg: the local filesystem
// backend, the file handle table, the share-mode access tracker, and the
// optional ACL store and audit log. The returned cleanup func closes
// whatever was opened.
func buildServer(cfg *config.Config) (*nfs.Server, func(), error) {
	backend, err := vfs.NewLocalBackend(cfg.RootPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open root_path %q: %w", cfg.RootPath, err)
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	srv := &nfs.Server{
		Backend: backend,
		Handles: handles.New(cfg.CacheSize),
		Access: access.New(access.Config{
			FileAccessTimeout: cfg.FileAccessTimeout,
			CleanupInterval:   cfg.CleanupInterval,
		}),
		Stats:        stats.New(),
		RootPath:     "/",
		MaxReadWrite: uint32(cfg.MaxRequestSize),
		RootSquash: security.RootSquashConfig{
			Enabled: cfg.RootSquash,
			AnonUID: cfg.AnonUID,
			AnonGID: cfg.AnonGID,
		},
	}
	closers = append(closers, srv.Access.Stop)

	for _, e := range cfg.Exports {
		srv.Exports = append(srv.Exports, security.Export{
			Name: e.Name, Path: e.Path, Clients: e.Clients, Options: e.Options, Comment: e.Comment,
		})
	}
	if len(srv.Exports) == 0 {
		srv.Exports = []security.Export{{Name: "/", Path: "/"}}
	}

	if cfg.EnableACL {
		acls, err := security.OpenAclStore(filepath.Join(cfg.RootPath, ".nfsd-acl"))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open acl store: %w", err)
		}
		srv.Acls = acls
		closers = append(closers, func() { _ = acls.Close() })
	}

	if cfg.AuditLogFile != "" {
		f, err := os.OpenFile(cfg.AuditLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}
		srv.Audit = security.NewAuditLog(f)
		closers = append(closers, func() { _ = f.Close() })
	}

	return srv, cleanup, nil
}

// buildListener wires portmap and whichever NFS versions are enabled
// behind a single rpcmux.Router, then binds the shared transport.Listener.
func buildListener(cfg *config.Config, srv *nfs.Server) (*transport.Listener, error) {
	router := rpcmux.NewRouter()

	var nfsVersions []uint32
	if cfg.EnableNFSv2 {
		router.Register(v2.ProgramNFS, v2.Version, v2.NewDispatcher(srv))
		nfsVersions = append(nfsVersions, v2.Version)
	}
	if cfg.EnableNFSv3 {
		router.Register(v3.ProgramNFS, v3.Version, v3.NewDispatcher(srv))
		nfsVersions = append(nfsVersions, v3.Version)
	}
	if cfg.EnableNFSv4 {
		router.Register(v4.ProgramNFS, v4.Version, v4.NewDispatcher(srv, cfg.SessionTimeout))
		nfsVersions = append(nfsVersions, v4.Version)
	}
	if len(nfsVersions) == 0 {
		return nil, fmt.Errorf("no NFS version enabled")
	}

	registry := portmap.NewRegistry(portmap.RegistryConfig{AutoCleanup: true, MappingTimeout: time.Hour})
	registry.RegisterLocalServices(uint32(cfg.Port), nfsVersions, 0)
	router.Register(portmap.ProgramPortmap, portmap.PortmapVersion2, portmap.NewDispatcher(registry))

	return transport.New(transport.Config{
		BindAddress:    cfg.BindAddress,
		Port:           cfg.Port,
		MaxRequestSize: uint32(cfg.MaxRequestSize),
	}, router), nil
}
