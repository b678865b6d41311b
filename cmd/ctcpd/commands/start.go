package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ctcproto/ctcpd/internal/adminapi"
	"github.com/ctcproto/ctcpd/internal/capture"
	"github.com/ctcproto/ctcpd/internal/captor"
	"github.com/ctcproto/ctcpd/internal/config"
	"github.com/ctcproto/ctcpd/internal/dispatch"
	"github.com/ctcproto/ctcpd/internal/logger"
	"github.com/ctcproto/ctcpd/internal/metrics"
	"github.com/ctcproto/ctcpd/internal/server"
	"github.com/ctcproto/ctcpd/internal/session"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ctcpd server",
	Long: `Start ctcpd's CTCP listener, admin API, and metrics endpoint.

Use --config to specify a configuration file, or rely on environment
variables (CTCPD_*) and built-in defaults.

Examples:
  ctcpd start
  ctcpd start --config /etc/ctcpd/config.yaml
  CTCPD_LOGGING_LEVEL=DEBUG ctcpd start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().Bool("foreground", true, "run in the foreground (ctcpd does not daemonize itself)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions, closeSessions, err := buildSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}
	defer closeSessions()

	reg := prometheus.NewRegistry()
	connMetrics := metrics.NewConnectionMetrics(reg)
	protoMetrics := metrics.NewProtocolMetrics(reg)

	cptr := captor.NewCaptor()
	defer cptr.StopAll()
	streamer := capture.NewStreamer()

	// No concrete change-data-capture backend is wired by default — ctcpd
	// tracks session/job/capture state and streams whatever a backend
	// pushes through captor.ChangeSource, but choosing a log-mining
	// implementation (e.g. a Postgres logical replication reader) is
	// explicitly out of this server's scope. StartCapture still succeeds;
	// the job simply never observes any change data until an operator
	// build wires a real SourceFactory in.
	d := dispatch.NewDispatcher(sessions, cptr, streamer, func(sgid uint32, jobDesc uint16) captor.ChangeSource {
		return captor.PollingSource{Fn: func(ctx context.Context) ([]*capture.TransactionLogList, error) {
			return nil, nil
		}}
	})
	d.SetMetrics(protoMetrics)

	srv := server.New(server.Config{
		BindAddress:        cfg.Server.BindAddress,
		Port:               cfg.Server.Port,
		MaxConnections:     cfg.Server.MaxConnections,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		MetricsLogInterval: cfg.Server.MetricsLogInterval,
	})
	srv.Metrics = connMetrics

	factory := &dispatch.Factory{Dispatcher: d}

	adminSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Admin.BindAddress, cfg.Admin.Port),
		Handler: adminapi.NewRouterWithGatherer(sessions, reg),
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.ServeWithFactory(ctx, factory, nil, nil)
	}()

	adminDone := make(chan error, 1)
	go func() {
		logger.Info("ctcpd admin api listening", "addr", adminSrv.Addr)
		err := adminSrv.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		adminDone <- err
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("ctcpd is running", "ctcp_port", cfg.Server.Port, "admin_port", cfg.Admin.Port)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		_ = adminSrv.Shutdown(shutdownCtx)

		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", "error", err)
			return err
		}
		logger.Info("ctcpd stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}

	case err := <-adminDone:
		signal.Stop(sigChan)
		cancel()
		if err != nil {
			logger.Error("admin api error", "error", err)
			return err
		}
	}

	return nil
}

// buildSessionManager wires the optional Badger persistor and Postgres
// auditor per cfg.Persistence, falling back to a purely in-memory manager
// when neither is configured.
func buildSessionManager(ctx context.Context, cfg *config.Config) (*session.Manager, func(), error) {
	var (
		persistor session.Persistor
		auditor   session.Auditor
		closers   []func() error
	)

	if cfg.Persistence.BadgerDir != "" {
		p, err := session.OpenBadgerPersistor(cfg.Persistence.BadgerDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger persistor: %w", err)
		}
		persistor = p
		closers = append(closers, p.Close)
		logger.Info("session persistence enabled", "dir", cfg.Persistence.BadgerDir)
	}

	if cfg.Persistence.PostgresDSN != "" {
		if err := session.RunAuditMigrations(cfg.Persistence.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("run audit migrations: %w", err)
		}
		a, err := session.NewPostgresAuditor(cfg.Persistence.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres auditor: %w", err)
		}
		auditor = a
		closers = append(closers, a.Close)
		logger.Info("audit logging enabled")
	}

	mgr := session.NewManager(persistor, auditor)
	if persistor != nil {
		if err := mgr.Restore(ctx); err != nil {
			return nil, nil, fmt.Errorf("restore sessions: %w", err)
		}
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("error closing session backend", "error", err)
			}
		}
	}
	return mgr, closeAll, nil
}
