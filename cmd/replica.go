package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/replica-harvester/internal/config"
	"github.com/JakeFAU/replica-harvester/internal/metrics"
	"github.com/JakeFAU/replica-harvester/internal/replica"
)

const shutdownTimeout = 10 * time.Second

// listen is a variable so tests can bind an ephemeral port.
var listen = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// newReplicaCmd creates the 'replica' subcommand.
func newReplicaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Run a scripted replica for local testing",
		Long: `Serves GET /api/data by replaying the configured replica.responses in a
cycle. A client that exceeds max-in-flight concurrent requests is blocked and
receives 503 from then on. Prometheus metrics are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: runReplicaCommand,
	}
	cmd.Flags().Int("port", 8080, "listen port")
	cmd.Flags().Int("max-in-flight", replica.DefaultMaxInFlight, "per-client concurrency cap")
	return cmd
}

func runReplicaCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	logger := rt.logger.Named("replica")

	handler, err := newReplicaHandler(rt.cfg.Replica, logger)
	if err != nil {
		return err
	}

	ln, err := listen(net.JoinHostPort("", strconv.Itoa(rt.cfg.Replica.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("replica listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("replica server failed", zap.Error(err))
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("replica shutdown failed", zap.Error(err))
	}
	logger.Info("replica stopped")
	return nil
}

// newReplicaHandler builds the scripted replica with request metrics and a
// /metrics endpoint in front of it.
func newReplicaHandler(cfg config.ReplicaConfig, logger *zap.Logger) (http.Handler, error) {
	reg := metrics.NewRegistry()
	httpMetrics, err := metrics.NewHTTPMetrics(reg, "replica")
	if err != nil {
		return nil, fmt.Errorf("init replica metrics: %w", err)
	}

	responses := make([]replica.Response, 0, len(cfg.Responses))
	for _, r := range cfg.Responses {
		responses = append(responses, replica.Response{Code: r.Code, Payload: r.Payload, Delay: r.Delay})
	}
	srv, err := replica.NewServer(replica.Config{
		MaxInFlight: cfg.MaxInFlight,
		Responses:   responses,
	}, logger, httpMetrics.Middleware)
	if err != nil {
		return nil, fmt.Errorf("build replica: %w", err)
	}

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler(reg))
	r.Mount("/", srv.Handler())
	return r, nil
}
