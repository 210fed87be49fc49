// Command pricectl inspects and ingests supplier pricelists from the shell
// and manages the database schema.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/pricesync/internal/config"
	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/database"
	"github.com/JonMunkholm/pricesync/internal/filestore"
	"github.com/JonMunkholm/pricesync/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pricectl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricectl",
		Short: "Supplier pricelist tooling",
		Long: `pricectl previews column inference, ingests pricelists without going through
the HTTP API, and applies or rolls back database migrations.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newInferCmd(),
		newIngestCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func newInferCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "infer <file>",
		Short: "Show the column mapping a pricelist would get",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOffline(cmd)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			svc := core.NewService(core.NewMemoryCatalog(), nil, cfg.CoreOptions(), nil)
			mapping, err := svc.InferFile(filepath.Base(args[0]), data)
			if err != nil {
				return userError(err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), mapping)
			}
			printMapping(cmd.OutOrStdout(), mapping)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the mapping as JSON")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var (
		supplierID string
		dryRun     bool
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file|s3://bucket/key>",
		Short: "Ingest one pricelist synchronously",
		Long: `Ingest runs the full pipeline for one file and prints the result as JSON.
With --dry-run the rows are reconciled against an empty in-memory catalog,
so no database is needed and nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				cfg     *config.Config
				catalog core.Catalog
				err     error
			)
			if dryRun {
				if cfg, err = loadOffline(cmd); err != nil {
					return err
				}
				catalog = core.NewMemoryCatalog()
			} else {
				if cfg, err = loadOnline(cmd); err != nil {
					return err
				}
				pool, err := database.Connect(ctx, cfg.Database.URL, cfg.PoolOptions())
				if err != nil {
					return err
				}
				defer pool.Close()
				catalog = database.NewCatalog(pool)
			}

			req := core.IngestRequest{SupplierID: supplierID, Force: force}
			var files core.FileStore
			if strings.HasPrefix(args[0], filestore.SchemeS3+"://") {
				router, err := filestore.New(ctx, cfg.FileStore())
				if err != nil {
					return err
				}
				files = router
				req.FileRef = args[0]
				req.FileName = args[0]
			} else {
				if req.Data, err = os.ReadFile(args[0]); err != nil {
					return err
				}
				req.FileName = filepath.Base(args[0])
			}

			svc := core.NewService(catalog, files, cfg.CoreOptions(), nil)
			res, err := svc.IngestSync(ctx, req)
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			if err != nil {
				return userError(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&supplierID, "supplier", "s", "", "Supplier ID the pricelist belongs to (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Reconcile in memory without a database")
	cmd.Flags().BoolVar(&force, "force", false, "Ingest even if the identical file was already ingested")
	_ = cmd.MarkFlagRequired("supplier")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPool(cmd, func(m migrator) error {
					if err := m.up(); err != nil {
						return err
					}
					return m.printVersion(cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "down <steps>",
			Short: "Roll back the given number of migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps, err := strconv.Atoi(args[0])
				if err != nil || steps < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				return withPool(cmd, func(m migrator) error {
					if err := m.down(steps); err != nil {
						return err
					}
					return m.printVersion(cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPool(cmd, func(m migrator) error {
					return m.printVersion(cmd.OutOrStdout())
				})
			},
		},
	)
	return cmd
}

func loadOffline(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadOffline()
	if err != nil {
		return nil, err
	}
	setupLogging(cmd, cfg)
	return cfg, nil
}

func loadOnline(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cmd, cfg)
	return cfg, nil
}

// setupLogging keeps stdout for command output.
func setupLogging(cmd *cobra.Command, cfg *config.Config) {
	slog.SetDefault(slog.New(logging.NewHandler(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMapping(w io.Writer, m *core.ColumnMapping) {
	fmt.Fprintf(w, "sheet: %s\nheader row: %d\nconfidence: %.2f\n\n", displaySheet(m.Sheet), m.HeaderRow+1, m.Confidence)

	fields := make([]core.FieldMatch, 0, len(m.Fields))
	for _, match := range m.Fields {
		fields = append(fields, match)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Column < fields[j].Column })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tCOLUMN\tHEADER\tCONFIDENCE")
	for _, f := range fields {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.2f\n", f.Field, f.Column+1, f.Header, f.Confidence)
	}
	tw.Flush()
}

// userError keeps the technical error and adds the support code and action.
func userError(err error) error {
	return fmt.Errorf("%w\n%s", err, core.FormatUserError(err))
}

func displaySheet(name string) string {
	if name == "" {
		return "(csv)"
	}
	return name
}
