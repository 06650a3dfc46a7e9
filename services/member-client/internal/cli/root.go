// Package cli is the member-client command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	otelx "github.com/md-rashed-zaman/fedsync/libs/otel"
	"github.com/md-rashed-zaman/fedsync/libs/runtime"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/app"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
)

const service = "member-client"

// Options lets tests run commands against a prepared App. A provided App is
// never closed by the command.
type Options struct {
	Out io.Writer
	Err io.Writer
	App *app.App
}

type env struct {
	opts Options

	home       string
	passphrase string
	docstore   string
	logLevel   string
	asJSON     bool

	app          *app.App
	otelShutdown func(context.Context) error
}

// Execute runs the command line against os.Args and prints failures for
// the user.
func Execute(ctx context.Context) error {
	root, e := newRoot(Options{Out: os.Stdout, Err: os.Stderr})
	err := e.execute(ctx, root)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
	}
	return err
}

// describe prefers the user-facing message; usage errors from flag parsing
// carry no kind and are printed as they are.
func describe(err error) string {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return failure.UserMessage(err)
	}
	return err.Error()
}

func NewRoot(opts Options) *cobra.Command {
	root, _ := newRoot(opts)
	return root
}

func newRoot(opts Options) (*cobra.Command, *env) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	e := &env{opts: opts}

	root := &cobra.Command{
		Use:           service,
		Short:         "Federation member client: offline-first access to teams, events and news",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return e.close()
		},
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)

	root.PersistentFlags().StringVar(&e.home, "home", "", "state directory (default ~/.fedsync)")
	root.PersistentFlags().StringVarP(&e.passphrase, "passphrase", "p", "", "passphrase for the preference store (default $FEDSYNC_PASSPHRASE)")
	root.PersistentFlags().StringVar(&e.docstore, "docstore", "", "document store driver: postgres or memory")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "warn", "log level written to stderr")
	root.PersistentFlags().BoolVar(&e.asJSON, "json", false, "print JSON instead of tables")

	root.AddCommand(
		runCmd(e),
		authCmd(e),
		teamsCmd(e),
		playersCmd(e),
		eventsCmd(e),
		newsCmd(e),
		registrationsCmd(e),
		matchesCmd(e),
		queueCmd(e),
		settingsCmd(e),
	)
	return root, e
}

// execute runs root and closes what open built. cobra skips the post-run
// hook when a command fails, so the close is deferred here as well.
func (e *env) execute(ctx context.Context, root *cobra.Command) error {
	defer e.close()
	return root.ExecuteContext(ctx)
}

func (e *env) open(cmd *cobra.Command) error {
	if e.opts.App != nil {
		e.app = e.opts.App
		return nil
	}
	cfg, err := e.config()
	if err != nil {
		return err
	}
	logger := runtime.NewLoggerTo(e.opts.Err, service, e.logLevel)

	ctx := cmd.Context()
	shutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		e.otelShutdown = shutdown
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	e.app = a
	if cmd.Name() != "run" {
		// One probe so writes made by this command go straight through
		// when the backend is reachable.
		a.Monitor.Check(ctx)
	}
	return nil
}

func (e *env) config() (app.Config, error) {
	if e.home != "" {
		os.Setenv(app.EnvPrefix+"HOME_DIR", e.home)
	}
	if e.passphrase != "" {
		os.Setenv(app.EnvPrefix+"PASSPHRASE", e.passphrase)
	}
	if e.docstore != "" {
		os.Setenv(app.EnvPrefix+"DOCSTORE", e.docstore)
	}
	return app.LoadConfig()
}

// close is safe to call more than once.
func (e *env) close() error {
	var err error
	if e.app != nil && e.opts.App == nil {
		err = e.app.Close()
	}
	e.app = nil
	if e.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.otelShutdown(ctx)
		e.otelShutdown = nil
	}
	return err
}

func (e *env) logger() *slog.Logger {
	return e.app.Logger
}

func runCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run in the background: sync queued writes, receive pushes, serve the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := runtime.SignalContextFrom(cmd.Context())
			defer stop()
			e.logger().Info("member client starting", "docstore", e.app.Config.Docstore, "status_addr", e.app.Config.StatusAddr)
			return e.app.Run(ctx)
		},
	}
}
