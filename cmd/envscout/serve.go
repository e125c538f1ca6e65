// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/envscout/envscout/internal/envmgr"
	"github.com/envscout/envscout/internal/issue"
	"github.com/envscout/envscout/internal/server"
	"github.com/envscout/envscout/internal/watch"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// metricsShutdownTimeout bounds the metrics endpoint's graceful shutdown.
const metricsShutdownTimeout = 2 * time.Second

// errNoServerCommand is returned by serve when server.command is unset.
var errNoServerCommand = errors.New("server.command is not configured")

func newServeCommand(app *App, flags *rootFlagValues) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run server.command bound to the active environment",
		Long: `Run server.command bound to the active environment.

The command line from the configuration is started with $ENVSCOUT_PYTHON
and $ENVSCOUT_ENV set to the active executable and its environment. When
'envscout select' stores a new selection, or the running executable is
deleted, the process is restarted on the active environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.reportError(cmd, runServe(cmd, app, flags, metricsAddr), flags.verbose)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	return cmd
}

func runServe(cmd *cobra.Command, app *App, flags *rootFlagValues, metricsAddr string) error {
	ctx := cmd.Context()
	s, err := app.newSession(ctx, flags, nil)
	if err != nil {
		return err
	}
	defer s.close()
	s.manager.Start(ctx)

	if s.cfg.Server.Command == "" {
		return issue.NewErrorContext().
			WithOperation("start server").
			WithSuggestion("Set server.command in " + s.cfgPath).
			Wrap(errNoServerCommand).
			BuildError()
	}

	if err := server.WritePIDFile(s.pidFile()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer server.RemovePIDFile(s.pidFile())

	if metricsAddr != "" {
		stop, err := serveMetrics(s, metricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	sup := server.NewSupervisor(server.SupervisorConfig{
		Command:   s.cfg.Server.Command,
		Target:    s.target,
		StopGrace: s.cfg.Server.StopGrace.Or(server.DefaultStopGrace),
		Stdout:    app.stdout,
		Stderr:    app.stderr,
		Logger:    s.logger.WithPrefix("server"),
	})
	defer sup.Stop(context.WithoutCancel(ctx))

	exe, ok := s.manager.Active()
	if !ok {
		if _, err := s.manager.Discover(ctx); err != nil {
			return err
		}
		if exe, ok = s.manager.Active(); !ok {
			return newServiceError(
				fmt.Errorf("no %s environment found", s.target.Executable),
				issue.NoEnvironmentFoundId,
			)
		}
	}
	if err := sup.Restart(ctx, exe); err != nil {
		return newServiceError(err, issue.ServerStartFailedId)
	}

	f := follower{manager: s.manager, sup: sup, logger: s.logger, gone: make(chan struct{}, 1)}
	if s.cfg.Watch.Enabled {
		w := watch.New(s.watchConfig(f.callbacks(s.manager.WatchCallbacks())))
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Dispose()
		warnWatchLimit(app, w)
	}

	reload := make(chan os.Signal, 1)
	if len(server.ReloadSignals) > 0 {
		signal.Notify(reload, server.ReloadSignals...)
		defer signal.Stop(reload)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reload:
			s.state.Reload()
			f.follow(ctx, true)
		case <-f.gone:
			f.follow(ctx, false)
		case err := <-sup.Err():
			s.logger.Error("server is down until the next selection", "err", err)
		}
	}
}

// follower keeps the supervised process on the active environment.
type follower struct {
	manager *envmgr.Manager
	sup     *server.Supervisor
	logger  *log.Logger
	// gone is signalled when the executable the process runs on is deleted.
	gone chan struct{}
}

// callbacks wraps the manager's watch hooks so that deleting the running
// executable signals gone after the manager has dropped it.
func (f follower) callbacks(cb envmgr.Callbacks) envmgr.Callbacks {
	onDeleted := cb.OnDeleted
	cb.OnDeleted = func(path string) {
		if onDeleted != nil {
			onDeleted(path)
		}
		if path != f.sup.Executable() {
			return
		}
		select {
		case f.gone <- struct{}{}:
		default:
		}
	}
	return cb
}

// follow restarts the process on the active environment. Unless force is
// set, a live process already running on that environment is left alone.
func (f follower) follow(ctx context.Context, force bool) {
	exe, ok := f.manager.Active()
	if !ok {
		f.logger.Warn("no environment is active, server left as is")
		return
	}
	if !force && exe == f.sup.Executable() && f.sup.State().IsActive() {
		return
	}
	if err := f.sup.Restart(ctx, exe); err != nil {
		f.logger.Error("restart failed", "path", exe, "err", err)
	}
}

// serveMetrics exposes the discovery metrics over HTTP. The returned
// function shuts the endpoint down.
func serveMetrics(s *session, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.manager.Metrics().Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics endpoint stopped", "err", err)
		}
	}()
	s.logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
