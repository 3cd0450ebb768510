// Command alicegate runs the control plane: guardian, router, caches,
// quota tracking and the HTTP surface, wired together around a live
// configuration manager.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"github.com/DanielWarg/AliceV2-sub003/api"
	"github.com/DanielWarg/AliceV2-sub003/cache"
	"github.com/DanielWarg/AliceV2-sub003/circuitbreaker"
	"github.com/DanielWarg/AliceV2-sub003/config/adaptive"
	"github.com/DanielWarg/AliceV2-sub003/guardian"
	"github.com/DanielWarg/AliceV2-sub003/monitoring"
	"github.com/DanielWarg/AliceV2-sub003/quota"
	"github.com/DanielWarg/AliceV2-sub003/router"
)

var log = logging.Logger("alice/gateway")

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "alicegate",
		Short:         "Tiered request gateway with adaptive overload protection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setLogLevel(logLevel); err != nil {
				return err
			}

			cfg := adaptive.DefaultConfig()
			if configPath != "" {
				loaded, err := adaptive.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if listen != "" {
				cfg.API.Listen = listen
			}

			mgr, err := adaptive.NewManager(cfg)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), mgr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults used when empty)")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address override")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func setLogLevel(level string) error {
	lvl, err := logging.LevelFromString(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logging.SetAllLoggers(lvl)
	return nil
}

func serve(parent context.Context, mgr *adaptive.Manager) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := guardian.New(guardian.NewHostSampler(), func() adaptive.GuardianConfig {
		return mgr.Current().Guardian
	})
	g.SetTransitionHook(func(from, to guardian.State, trigger *guardian.Reading) {
		monitoring.GuardianTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
		monitoring.GuardianState.Set(float64(to.Severity()))
	})

	c, err := cache.New(func() adaptive.CacheConfig { return mgr.Current().Cache })
	if err != nil {
		return err
	}
	tracker := quota.NewTracker(func() adaptive.QuotaConfig { return mgr.Current().Quota })
	breakers := circuitbreaker.NewRegistry(func() circuitbreaker.Config {
		b := mgr.Current().Breaker
		return circuitbreaker.Config{
			FailureThreshold: b.FailureThreshold,
			BaseCooldown:     b.BaseCooldown,
			MaxCooldown:      b.MaxCooldown,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				monitoring.BreakerTransitionsTotal.WithLabelValues(name, to.String()).Inc()
			},
		}
	})
	latency := monitoring.NewLatencyTracker()
	burn := monitoring.NewBurnTracker(time.Minute)

	rt, err := router.New(router.Deps{
		State:      g,
		Cache:      c,
		Quota:      tracker,
		Breakers:   breakers,
		Classifier: heuristicClassifier{},
		Backends:   localBackends(),
		Settings:   mgr.Current,
		Latency:    latency,
		Burn:       burn,
	})
	if err != nil {
		return err
	}

	srv, err := api.NewServer(api.Deps{
		Router:   rt,
		Guardian: g,
		Config:   mgr,
		Cache:    c,
		Quota:    tracker,
		Breakers: breakers,
		Latency:  latency,
		Burn:     burn,
	})
	if err != nil {
		return err
	}

	if err := g.Start(ctx); err != nil {
		return err
	}
	defer g.Stop()
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Infow("shutting down")
	case err := <-errCh:
		return err
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
