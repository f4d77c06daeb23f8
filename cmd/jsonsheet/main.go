package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/orenccl/jsonsheet/internal/config"
	"github.com/orenccl/jsonsheet/internal/export"
	"github.com/orenccl/jsonsheet/internal/logging"
	"github.com/orenccl/jsonsheet/internal/session"
	"github.com/orenccl/jsonsheet/internal/sheet"
	"github.com/orenccl/jsonsheet/internal/sheetio"
	"github.com/orenccl/jsonsheet/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "jsonsheet",
		Short:        "Edit JSON record files like a spreadsheet",
		Long:         "jsonsheet serves arrays of JSON objects as editable tables with formulas,\nvalidation rules and presentation metadata kept in a sidecar file.",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newValidateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sheet session HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if it exists (Overload overwrites existing env vars)
			if err := godotenv.Overload(); err != nil {
				slog.Info("no .env file found, using environment variables")
			} else {
				slog.Info("loaded .env file (overwriting existing env vars)")
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

			slog.Info("configuration loaded",
				"port", cfg.Server.Port,
				"history_limit", cfg.Session.HistoryLimit,
				"autosave_metadata", cfg.Session.AutosaveMetadata,
				"rate_limit_enabled", cfg.Rate.Enabled,
			)

			svc := session.New(*cfg, logging.Component("session"))
			server := web.NewServer(cfg, svc)

			// Graceful shutdown
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh

				slog.Info("shutting down...")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()

				// Flush open tabs so edits survive the restart
				if issues, err := svc.SaveAll(shutdownCtx); err != nil {
					slog.Warn("final save incomplete", "error", err)
				} else if len(issues) > 0 {
					slog.Warn("final save reported cell issues", "tabs", len(issues))
				}

				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("shutdown error", "error", err)
				}
			}()

			slog.Info("server starting", "addr", cfg.Server.Addr())
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			slog.Info("server stopped")
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var (
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export <file.json>",
		Short: "Bake a sheet and write it as JSON or XLSX",
		Long:  "export loads a data file and its sidecar, computes every formula,\ncoerces declared column types and writes the result. Cells that fail\nare exported as null and reported on stderr.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			format = strings.ToLower(format)
			if format != session.FormatJSON && format != session.FormatXLSX {
				return fmt.Errorf("unknown format %q (want json or xlsx)", format)
			}

			table, err := loadTable(cmd.ErrOrStderr(), args[0], cfg.Session.HistoryLimit)
			if err != nil {
				return err
			}

			records, issues := table.ExportRecords()
			for _, issue := range issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: row %d, column %q: %s\n", issue.Row, issue.Column, issue.Reason)
			}

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}

			cols := table.ExportColumns()
			if format == session.FormatXLSX {
				base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				return export.WriteXLSX(out, base, cols, records)
			}

			data, err := sheetio.MarshalRecords(records, cols, strings.Repeat(" ", cfg.Export.JSONIndent))
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default stdout)")
	cmd.Flags().StringVarP(&format, "format", "f", session.FormatJSON, "output format, json or xlsx")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.json>",
		Short: "Check a sheet against its declared column types and rules",
		Long:  "validate loads a data file and its sidecar, evaluates every formula\nand coercion the way export would, and prints each cell that fails.\nThe exit status is non-zero when any cell has a problem.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			table, err := loadTable(cmd.ErrOrStderr(), args[0], cfg.Session.HistoryLimit)
			if err != nil {
				return err
			}

			_, issues := table.ExportRecords()
			for _, issue := range issues {
				fmt.Fprintf(cmd.OutOrStdout(), "row %d, column %q: %s\n", issue.Row, issue.Column, issue.Reason)
			}
			if len(issues) > 0 {
				return fmt.Errorf("%d cells failed validation", len(issues))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d rows)\n", args[0], table.RowCount())
			return nil
		},
	}
}

// loadTable reads a data file plus sidecar and builds a table from them,
// printing structural warnings as it goes. Both file-reading subcommands
// share it so their stderr output matches.
func loadTable(errOut io.Writer, path string, historyLimit int) (*sheet.Table, error) {
	sf, err := sheetio.LoadSheet(path)
	if err != nil {
		return nil, err
	}
	for _, warn := range sf.Warnings {
		fmt.Fprintf(errOut, "warning: %s\n", warn)
	}
	return sheet.NewTable(sf.Records, sf.Meta, historyLimit), nil
}
