package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bgunnarsson/crudgate/internal/app"
	"github.com/bgunnarsson/crudgate/internal/config"
	"github.com/bgunnarsson/crudgate/internal/db"
	"github.com/bgunnarsson/crudgate/internal/print"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

type cli struct {
	cfgFile string
	asJSON  bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "crudgate",
		Short: "Generic CRUD over SQL Server, PostgreSQL and MySQL tables",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(c.cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger, err = newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.FileUsed != "" {
				c.logger.Debug("using config file", "path", cfg.FileUsed)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default: ./crudgate.yaml)")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of tables")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		c.serveCmd(),
		c.diagCmd(),
		c.describeCmd(),
		c.rowsCmd(),
	)
	return root
}

func (c *cli) open() (*app.App, error) {
	return app.New(c.cfg, c.logger)
}

func (c *cli) output(w io.Writer) app.Output {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return app.Output{JSON: c.asJSON, Table: print.Options{MaxWidth: 60, Color: color}}
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			c.logger.Info("table policy", "file", c.cfg.PolicyFile, "forbidden", a.Policy().Entries())
			return a.Serve(cmd.Context())
		},
	}
}

func (c *cli) diagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diag",
		Short: "Show connection diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			return a.RunDiagnostics(cmd.Context(), cmd.OutOrStdout(), c.output(cmd.OutOrStdout()))
		},
	}
}

func (c *cli) describeCmd() *cobra.Command {
	var schema string
	cmd := &cobra.Command{
		Use:   "describe [table]",
		Short: "Describe a table, or every table when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			table := ""
			if len(args) == 1 {
				table = args[0]
			}
			return a.RunDescribe(cmd.Context(), cmd.OutOrStdout(), table, schema, c.output(cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVar(&schema, "schema", "", "schema to look in first")
	return cmd
}

func (c *cli) rowsCmd() *cobra.Command {
	var (
		schema string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "rows <table>",
		Short: "Print rows of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			ref := db.TableRef{Schema: schema, Name: args[0]}
			return a.RunRows(cmd.Context(), cmd.OutOrStdout(), ref, limit, c.output(cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVar(&schema, "schema", "", "schema of the table")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, fmt.Sprintf("maximum rows (0 = %d)", db.DefaultLimit))
	return cmd
}

// newLogger picks text output on a terminal and JSON otherwise, unless
// log_format says which.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	format := strings.ToLower(cfg.LogFormat)
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "text"
		}
	}

	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
