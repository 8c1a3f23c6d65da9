package tablerag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tablerag/tablerag/internal/app"
	"github.com/tablerag/tablerag/internal/ingest"
	"github.com/tablerag/tablerag/internal/kb"
	"github.com/tablerag/tablerag/internal/schema"
)

func (c *cli) importCommand() *cobra.Command {
	var fromObjects bool
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "import [path...]",
		Short: "Load CSV and Parquet files into the data store",
		Long: `Load CSV and Parquet files into the data store. Each file becomes one table
named after the file; directories are walked recursively. With --from-objects
the files under sources/ in the object store are downloaded and imported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !fromObjects && len(args) == 0 {
				return errors.New("at least one path is required unless --from-objects is set")
			}
			ctx := cmd.Context()
			application, err := c.open(ctx)
			if err != nil {
				return err
			}

			var report ingest.Report
			if fromObjects {
				if application.Objects == nil {
					return errors.New("object store is not enabled; set TABLERAG_OBJECTSTORE_ENABLED=true")
				}
				objectReport, err := application.Ingest.ImportObjects(ctx, application.Objects, sourceCacheDir(c.cfg.DataStore.Path))
				if err != nil {
					return err
				}
				appendReport(&report, objectReport)
			}
			for _, path := range args {
				pathReport, err := application.Ingest.ImportPath(ctx, path)
				if err != nil {
					report.Failures = append(report.Failures, ingest.Failure{Path: path, Err: err})
					continue
				}
				appendReport(&report, pathReport)
			}

			printReport(cmd.OutOrStdout(), cmd.ErrOrStderr(), report)
			if rebuild && len(report.Imported) > 0 {
				if err := c.rebuild(ctx, cmd, application, true); err != nil {
					return err
				}
			}
			if len(report.Failures) > 0 {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromObjects, "from-objects", false, "import source files from the object store")
	cmd.Flags().BoolVar(&rebuild, "build", false, "rebuild the knowledge base after importing")
	return cmd
}

func (c *cli) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the tables and columns of the data store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := schema.Summarize(cmd.Context(), application.Data)
			if err != nil {
				return err
			}
			if summary == "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tables are loaded.")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func (c *cli) watchCommand() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Import a directory and keep the knowledge base current as files change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir := args[0]
			application, err := c.open(ctx)
			if err != nil {
				return err
			}

			report, err := application.Ingest.ImportPath(ctx, dir)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), cmd.ErrOrStderr(), report)
			if err := c.rebuild(ctx, cmd, application, true); err != nil && !errors.Is(err, kb.ErrEmptyCatalogue) {
				return err
			}

			watcher := ingest.NewWatcher(application.Ingest, debounce, c.logger)
			return watcher.Watch(ctx, dir, func(ctx context.Context, paths []string) error {
				present := ingest.Existing(paths)
				if len(present) > 0 {
					printReport(cmd.OutOrStdout(), cmd.ErrOrStderr(), application.Ingest.ImportFiles(ctx, present))
				}
				err := c.rebuild(ctx, cmd, application, true)
				if errors.Is(err, kb.ErrEmptyCatalogue) {
					c.logger.WarnContext(ctx, "no tables to describe after change", slog.Int("files", len(paths)))
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before a burst of file changes triggers a rebuild")
	return cmd
}

func (c *cli) exportCommand() *cobra.Command {
	var out string
	var publish bool
	cmd := &cobra.Command{
		Use:   "export-entities",
		Short: "Write the entity catalogue as Parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, err := c.open(ctx)
			if err != nil {
				return err
			}
			if publish {
				if application.Objects == nil {
					return errors.New("object store is not enabled; set TABLERAG_OBJECTSTORE_ENABLED=true")
				}
				buildID := "manual-" + time.Now().UTC().Format("20060102T150405Z")
				if last, err := application.Catalog.LatestBuild(ctx); err == nil {
					buildID = last.BuildID
				}
				key, err := kb.PublishExport(ctx, application.Catalog, application.Objects, buildID)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", key)
				return nil
			}

			if out == "" {
				return errors.New("--out is required unless --publish is set")
			}
			count, err := exportToFile(ctx, application, out)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entities to %s\n", count, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "destination Parquet file")
	cmd.Flags().BoolVar(&publish, "publish", false, "upload the export to the object store instead of a local file")
	return cmd
}

func exportToFile(ctx context.Context, application *app.App, path string) (int, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create export dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create export file: %w", err)
	}
	count, err := kb.ExportEntities(ctx, application.Catalog, file)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close export file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return count, nil
}

func sourceCacheDir(dataPath string) string {
	if dataPath == "" || dataPath == ":memory:" {
		return filepath.Join(os.TempDir(), "tablerag-sources")
	}
	return filepath.Join(filepath.Dir(dataPath), "sources")
}

func appendReport(dst *ingest.Report, src ingest.Report) {
	dst.Imported = append(dst.Imported, src.Imported...)
	dst.Failures = append(dst.Failures, src.Failures...)
}

func printReport(stdout, stderr io.Writer, report ingest.Report) {
	for _, imported := range report.Imported {
		_, _ = fmt.Fprintf(stdout, "imported %s: %d rows from %s\n", imported.Table, imported.Rows, imported.Path)
	}
	for _, failure := range report.Failures {
		_, _ = fmt.Fprintf(stderr, "failed %s: %v\n", failure.Path, failure.Err)
	}
}
