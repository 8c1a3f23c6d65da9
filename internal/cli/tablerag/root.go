// Package tablerag implements the tablerag command line.
package tablerag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tablerag/tablerag/internal/app"
	"github.com/tablerag/tablerag/internal/config"
	"github.com/tablerag/tablerag/internal/embedding"
	"github.com/tablerag/tablerag/internal/llm"
	"github.com/tablerag/tablerag/internal/observability"
)

const serviceName = "tablerag"

type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Lookup resolves configuration before any .env file; nil reads the process
	// environment.
	Lookup config.LookupFunc
	// Embedder and LLM replace the configured model clients when set.
	Embedder embedding.Service
	LLM      llm.Client
}

// errReported marks a failure whose details were already written to stderr.
var errReported = errors.New("command failed")

// Run executes one command line and returns the process exit code.
func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Stdin == nil {
		opts.Stdin = strings.NewReader("")
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}

	c := &cli{opts: opts}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetIn(opts.Stdin)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	err := root.ExecuteContext(ctx)
	if closeErr := c.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		if !errors.Is(err, errReported) {
			_, _ = fmt.Fprintf(opts.Stderr, "error: %v\n", err)
		}
		return 1
	}
	return 0
}

type cli struct {
	opts     Options
	envFiles []string
	logLevel string

	cfg    config.Config
	logger *slog.Logger
	app    *app.App
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tablerag",
		Short: "Ask questions about tabular data in plain language",
		Long: `tablerag loads CSV and Parquet files into DuckDB, describes every table,
column and text value in a searchable knowledge base, and answers questions by
writing and running read-only SQL.

Configuration comes from TABLERAG_* environment variables. Values missing from
the environment are read from .env files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.configure()
		},
	}
	root.PersistentFlags().StringSliceVar(&c.envFiles, "env-file", []string{".env"}, "dotenv files to read configuration from (missing files are ignored)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override TABLERAG_LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		c.importCommand(),
		c.buildCommand(),
		c.statusCommand(),
		c.askCommand(),
		c.chatCommand(),
		c.schemaCommand(),
		c.watchCommand(),
		c.exportCommand(),
		c.mcpCommand(),
	)
	return root
}

// configure loads configuration from the lookup first and the dotenv files
// second, so real environment variables always win.
func (c *cli) configure() error {
	fileValues := map[string]string{}
	for _, path := range c.envFiles {
		values, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("read env file %s: %w", path, err)
		}
		for key, value := range values {
			if _, seen := fileValues[key]; !seen {
				fileValues[key] = value
			}
		}
	}

	lookup := c.opts.Lookup
	logLevel := strings.TrimSpace(c.logLevel)
	cfg, err := config.Load(serviceName, func(key string) (string, bool) {
		if key == "TABLERAG_LOG_LEVEL" && logLevel != "" {
			return logLevel, true
		}
		if value, ok := lookup(key); ok {
			return value, true
		}
		value, ok := fileValues[key]
		return value, ok
	})
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = observability.NewLogger(cfg, c.opts.Stderr)
	return nil
}

func (c *cli) open(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	application, err := app.New(ctx, c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	if c.opts.Embedder != nil {
		application.UseEmbedder(c.opts.Embedder)
	}
	if c.opts.LLM != nil {
		application.UseLLM(c.opts.LLM)
	}
	c.app = application
	return application, nil
}

// openLoaded opens the app and requires a live knowledge base.
func (c *cli) openLoaded(ctx context.Context) (*app.App, error) {
	application, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	loaded, err := application.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}
	if !loaded {
		return nil, errors.New("knowledge base has not been built; run `tablerag build` first")
	}
	return application, nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}
