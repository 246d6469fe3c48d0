package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentpkg/tsx/pkg/host"
	"github.com/agentpkg/tsx/pkg/loader"
	"github.com/agentpkg/tsx/pkg/transform"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file> [args...]",
		Short: "Run a TypeScript or JavaScript file",
		Long: `Runs file as the program entry point with TypeScript support registered
for both the CommonJS and the ESM pipeline.

Remaining arguments are passed to the program as process.argv.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRun,
	}

	// everything after the file belongs to the program
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while running (e.g. :9464)")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	metricsAddr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return err
	}

	file, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	eo := engineOptions{
		args:   append([]string{file}, args[1:]...),
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		eo.registry = reg
		stop, err := serveMetrics(metricsAddr, reg)
		if err != nil {
			return err
		}
		defer stop()
	}

	l, err := newEngine(Cfg, CfgPath, eo)
	if err != nil {
		return err
	}

	err = l.Run(cmd.Context(), file)
	var terr *transform.Error
	if errors.As(err, &terr) {
		fmt.Fprint(cmd.ErrOrStderr(), renderTransformError(terr))
		return fmt.Errorf("could not transform %s", terr.File)
	}
	var se *host.ScriptError
	if errors.As(err, &se) && se.Cause == nil {
		fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(se.Stack()))
		return errors.New("uncaught exception")
	}
	return err
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loader.Logger().Warn("metrics server stopped", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
