package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/mediaref/internal/app"
	"github.com/tendant/mediaref/internal/logger"
	"github.com/tendant/mediaref/internal/tracing"
	"github.com/tendant/mediaref/pkg/mediaref/config"
)

// builder creates the application for one command run.
type builder func(ctx context.Context) (*app.App, error)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, buildFromEnv)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func buildFromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	shutdown, err := tracing.InitTracer(ctx, "mediaadmin", cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	a.OnClose(func() { _ = shutdown(context.Background()) })
	return a, nil
}

func newRootCmd(out io.Writer, build builder) *cobra.Command {
	var asJSON bool
	root := &cobra.Command{
		Use:   "mediaadmin",
		Short: "Operator tools for media references",
		Long: `Operator tools for media references.

Every command is a dry run by default: it prints the scope and a short
preview and writes nothing. Pass the command's verb flag to execute.
Configuration is read from the environment and an optional .env file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	root.SetOut(out)
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print the summary as JSON")

	env := &cmdEnv{out: out, build: build, asJSON: &asJSON}
	root.AddCommand(
		newMigrateCmd(env),
		newOrphansCmd(env),
		newBackfillCmd(env),
		newReorganizeCmd(env),
		newEnvCmd(out),
	)
	return root
}

type cmdEnv struct {
	out    io.Writer
	build  builder
	asJSON *bool
}

// run builds the application, hands it to fn and prints what fn returns.
func (e *cmdEnv) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) (summary any, rows [][2]string, lines []string, err error)) error {
	ctx := cmd.Context()
	a, err := e.build(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	summary, rows, lines, err := fn(ctx, a)
	if err != nil {
		return err
	}

	if *e.asJSON {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	tw := tabwriter.NewWriter(e.out, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintf(tw, "%s:\t%s\n", row[0], row[1])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(e.out, "  "+l)
	}
	return nil
}

func newEnvCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables read by every command",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(out, config.Usage())
		},
	}
}
