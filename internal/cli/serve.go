package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gzhole/agentguard/internal/bus"
	"github.com/gzhole/agentguard/internal/gateway"
	"github.com/gzhole/agentguard/internal/metrics"
	"github.com/gzhole/agentguard/internal/tools"
)

var (
	serveMetricsAddr string
	serveNoMetrics   bool
	serveDrain       time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the guarded tool gateway on stdin/stdout",
	Long: `Run the message bus and gateway with the built-in tools. Each stdin line is
an inbound message carrying a JSON tool call; each reply is written to stdout
as one JSON line. Prometheus metrics are served on the configured address.

  echo '{"tool": "list_dir", "args": {"path": "."}}' | agentguard serve`,
	RunE: serveCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Override the metrics listen address")
	serveCmd.Flags().BoolVar(&serveNoMetrics, "no-metrics", false, "Do not serve /metrics")
	serveCmd.Flags().DurationVar(&serveDrain, "drain-timeout", 30*time.Second, "How long to wait for replies after stdin closes")
	rootCmd.AddCommand(serveCmd)
}

func serveCommand(cmd *cobra.Command, args []string) error {
	s, err := setupStack(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New(
		bus.WithCapacity(cfg.Bus.QueueCapacity),
		bus.WithPublishTimeout(cfg.Bus.PublishTimeout),
		bus.WithLogger(s.log),
		bus.WithMetrics(s.metrics),
	)
	registry := tools.NewRegistry(s.engine,
		tools.WithMaxResultLength(cfg.Sanitize.MaxResultLength),
		tools.WithMetrics(s.metrics),
		tools.WithLogger(s.log),
	)
	registry.RegisterDefaults(tools.DefaultsConfig{
		ExecTimeout:   cfg.Exec.Timeout,
		ExecEnv:       cfg.Exec.Env,
		FetchTimeout:  cfg.Web.Timeout,
		FetchMaxBytes: cfg.Web.MaxBytes,
	})
	gw := gateway.New(b, s.engine, gateway.NewToolProcessor(registry),
		gateway.WithMaxResultLength(cfg.Sanitize.MaxResultLength),
		gateway.WithLogger(s.log),
	)
	console := gateway.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout(), s.log)
	console.Attach(b)

	addr := cfg.Metrics.Addr
	if serveMetricsAddr != "" {
		addr = serveMetricsAddr
	}

	s.log.Info().
		Str("workspace", s.engine.Workspace()).
		Bool("restricted", s.engine.Restricted()).
		Strs("tools", registry.Names()).
		Msg("gateway started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Run(gctx) })
	g.Go(func() error {
		err := b.DispatchOutbound(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if !serveNoMetrics && addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, addr, s.metrics, func() map[string]any {
				return map[string]any{
					"inbound":  b.InboundSize(),
					"outbound": b.OutboundSize(),
					"sessions": s.engine.Limiter().Sessions(),
				}
			})
		})
	}
	go func() {
		if err := console.Run(ctx, b); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("console input failed")
		}
		drainCtx, cancel := context.WithTimeout(ctx, serveDrain)
		defer cancel()
		if err := console.Drain(drainCtx); err != nil && ctx.Err() == nil {
			s.log.Warn().Msg("stdin closed with replies still pending")
		}
		stop()
	}()

	err = g.Wait()
	b.Stop()
	s.log.Info().Msg("gateway stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
