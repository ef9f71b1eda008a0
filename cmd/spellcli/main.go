package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/danmuck/spellctl/internal/command"
	"github.com/danmuck/spellctl/internal/config"
	"github.com/danmuck/spellctl/internal/logging"
	"github.com/danmuck/spellctl/internal/session"
)

type options struct {
	host       string
	port       int
	context    string
	exec       string
	configPath string
	timeout    time.Duration
	role       string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "spellcli: %s\n", command.FormatError(err))
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "spellcli",
		Short: "Operate SPELL listeners, contexts and procedure executors",
		Long: `spellcli connects to a SPELL listener, attaches to a context and then
either runs a ";"-separated batch (--exec) or reads commands interactively.
A batch stops at its first failing command and exits with status 1.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.ConfigureCLI()
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, in, out, isTerminal(in))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", "", "listener host")
	flags.IntVar(&opts.port, "port", 0, "listener port")
	flags.StringVar(&opts.context, "context", "", "context to attach at startup")
	flags.StringVar(&opts.exec, "exec", "", `run "cmd;cmd;..." and exit`)
	flags.StringVar(&opts.configPath, "config", "", "client config file (TOML)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "request timeout (overrides config)")
	flags.StringVar(&opts.role, "role", "", "client role: COMMANDING or MONITORING")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("port")
	_ = cmd.MarkFlagRequired("context")
	return cmd
}

// resolveConfig loads the optional config file and applies flags on top.
func resolveConfig(cmd *cobra.Command, opts *options) (config.Client, error) {
	cfg := config.DefaultClient()
	if opts.configPath != "" {
		loaded, err := config.LoadClient(opts.configPath)
		if err != nil {
			return config.Client{}, err
		}
		cfg = loaded
	}
	cfg.Host = opts.host
	cfg.Port = opts.port
	cfg.Context = opts.context
	if cmd.Flags().Changed("exec") {
		cfg.Exec = opts.exec
	}
	if opts.timeout > 0 {
		cfg.Transport.RequestTimeout = opts.timeout
	}
	if opts.role != "" {
		cfg.Role = session.Role(strings.ToUpper(strings.TrimSpace(opts.role)))
	}
	if err := cfg.Validate(); err != nil {
		return config.Client{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Client, in io.Reader, out io.Writer, interactive bool) error {
	sessOpts := session.Options{Transport: cfg.Transport, ClientKey: uuid.NewString()}
	listener := session.NewListener(sessOpts)
	ctxSession := session.NewContext(sessOpts)
	p := command.NewProcessor(listener, ctxSession, command.Options{Out: out, Role: cfg.Role, Auth: cfg.Auth})

	pumpCtx, cancelPump := context.WithCancel(ctx)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		p.Pump(pumpCtx)
	}()
	defer func() {
		cancelPump()
		<-pumpDone
	}()

	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("context", cfg.Context).Msg("spellcli.run startup")
	if err := p.Connect(ctx, cfg.Host, cfg.Port); err != nil {
		return err
	}
	defer p.Close(context.Background())
	if err := p.Open(ctx, cfg.Context); err != nil {
		return err
	}

	if cfg.Exec != "" {
		return p.RunBatch(ctx, cfg.Exec)
	}
	err := p.Serve(ctx, in, interactive)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
