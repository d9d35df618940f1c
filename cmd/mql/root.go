package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	mql "github.com/transform-data/mql-go"
	"github.com/transform-data/mql-go/mqlconfig"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	out io.Writer

	configPath string
	dsn        string
	serverURL  string
	apiKey     string
	rawTimeout string
	logLevel   string
	verbose    bool

	cfg     *mqlconfig.Config
	client  *mql.Client
	runner  *mql.Runner
	timeout time.Duration
}

func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := newRootCmd(os.Stdout)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCode(err)
	}
	return 0
}

// exitCode gives every error kind its own status so scripts can tell a
// timeout (job may still finish) from a failed job.
func exitCode(err error) int {
	switch mql.KindOf(err) {
	case mql.KindTimeoutExceeded:
		return 3
	case mql.KindQueryRuntime:
		return 4
	case mql.KindJobNotFound:
		return 5
	case mql.KindCanceled:
		return 130
	}
	return 1
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "mql",
		Short:         "Query metrics from an MQL server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Flags())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $HOME/.mql/config.yaml)")
	flags.StringVar(&a.dsn, "dsn", "", "server DSN, e.g. mqls://host?api_key=...")
	flags.StringVar(&a.serverURL, "server-url", "", "server URL")
	flags.StringVar(&a.apiKey, "api-key", "", "API key")
	flags.StringVar(&a.rawTimeout, "timeout", "", "give up waiting after this long, e.g. 90s or 1h (0 waits forever)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "shorthand for --log-level=debug")

	root.AddCommand(
		newQueryCmd(a),
		newMaterializeCmd(a),
		newValidateCmd(a),
		newSubmitCmd(a),
		newStatusCmd(a),
		newFetchCmd(a),
		newHealthCmd(a),
	)
	return root
}

// init resolves configuration with flag > environment > file precedence and
// builds the client.
func (a *app) init(flags *pflag.FlagSet) error {
	cfg, err := mqlconfig.Load(a.configPath)
	if err != nil {
		return err
	}
	if flags.Changed("dsn") {
		cfg.DSN = a.dsn
	}
	if flags.Changed("server-url") {
		cfg.ServerURL = a.serverURL
		cfg.DSN = ""
	}
	if flags.Changed("api-key") {
		cfg.APIKey = a.apiKey
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}

	client, err := cfg.NewClient()
	if err != nil {
		return err
	}
	a.timeout = cfg.Timeout
	if flags.Changed("timeout") {
		if a.timeout, err = mql.ParseDuration(a.rawTimeout); err != nil {
			return fmt.Errorf("invalid --timeout %q: %w", a.rawTimeout, err)
		}
	}

	a.cfg = cfg
	a.client = client
	a.runner = mql.NewRunner(client)
	return nil
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}

func (a *app) context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
