package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/spellctl/internal/config"
	"github.com/danmuck/spellctl/internal/logging"
	"github.com/danmuck/spellctl/internal/observability"
	"github.com/danmuck/spellctl/internal/sim"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "spellsim: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		httpAddr   string
	)
	cmd := &cobra.Command{
		Use:          "spellsim",
		Short:        "Run a simulated SPELL listener with contexts and executors",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.ConfigureRuntime()
			observability.InitLogger("spellsim")

			cfg := config.SimConfig{Addr: ":9988", HTTPAddr: ":9989"}
			if configPath != "" {
				loaded, err := config.LoadSimConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTPAddr = httpAddr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "simulator config file (TOML)")
	cmd.Flags().StringVar(&addr, "addr", ":9988", "listener bind address")
	cmd.Flags().StringVar(&httpAddr, "http", ":9989", "health and metrics bind address; empty disables")
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func newConfigCmd() *cobra.Command {
	var (
		kind      string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a client or sim config template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], kind, overwrite); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "sim", "template kind: client or sim")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite an existing file")
	return cmd
}

func serve(ctx context.Context, cfg config.SimConfig) error {
	l, err := sim.Start(ctx, cfg.Sim())
	if err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	defer l.Close()
	log.Info().Str("addr", l.Addr()).Strs("contexts", l.ContextNames()).Msg("spellsim.serve listener ready")

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		srv = &http.Server{Addr: cfg.HTTPAddr, Handler: newRouter(l), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.HTTPAddr).Msg("spellsim.serve http stopped")
			}
		}()
		log.Info().Str("addr", cfg.HTTPAddr).Msg("spellsim.serve http ready")
	}

	<-ctx.Done()
	log.Info().Msg("spellsim.serve shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func newRouter(l *sim.Listener) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware("spellsim"))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"addr":    l.Addr(),
			"clients": l.ConnectedClients(),
		})
	})
	r.GET("/contexts", func(c *gin.Context) {
		c.JSON(http.StatusOK, l.States())
	})
	r.GET("/metrics", observability.MetricsHandler())
	return r
}
