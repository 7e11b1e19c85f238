package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/roman-kulish/plant-telemetry/cmd/plantd/app"
	"github.com/roman-kulish/plant-telemetry/internal/export"
	"github.com/spf13/cobra"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var config *app.Config

	rootCmd := &cobra.Command{
		Use:           "plantd",
		Short:         "Plant telemetry backbone",
		Long:          "plantd ingests batched plant telemetry over HTTP, records experiments to SQLite and relays operator setpoints.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			c, err := app.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration file %q: %w", configPath, err)
			}

			if f := cmd.Flags().Lookup("db"); f != nil && f.Changed {
				c.Storage.Path = f.Value.String()
			}
			if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
				c.Settings.LogLevel = f.Value.String()
			}
			if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
				c.Server.Listen = f.Value.String()
			}
			if err = c.Validate(); err != nil {
				return err
			}

			level, _ := app.ParseLevel(c.Settings.LogLevel)
			logLevel.Set(level)

			if c.Settings.LogFormat == app.LogFormatJSON {
				logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))
			}

			config = c
			return nil
		},
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().String("db", "", "Path to the SQLite database (overrides storage.path)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), config, logger)
		},
	}
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides server.listen)")
	rootCmd.AddCommand(serveCmd)

	experimentsCmd := &cobra.Command{Use: "experiments", Short: "Inspect recorded experiments"}

	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List experiments",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ListExperiments(cmd.Context(), config, cmd.OutOrStdout())
		},
	}
	experimentsCmd.AddCommand(listCmd)

	exportCmd := &cobra.Command{
		Use:   "export ID",
		Short: "Export the samples of an experiment to csv, txt, npy or parquet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			formatName, _ := cmd.Flags().GetString("format")
			filterName, _ := cmd.Flags().GetString("filter")
			out, _ := cmd.Flags().GetString("out")

			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			filter, err := export.ParseFilter(filterName)
			if err != nil {
				return err
			}

			return app.ExportExperiment(cmd.Context(), config, app.ExportOptions{
				ID:     id,
				Format: format,
				Filter: filter,
				Output: out,
			}, logger)
		},
	}
	exportCmd.Flags().StringP("format", "f", string(export.FormatCSV), "Export format: csv|txt|npy|parquet")
	exportCmd.Flags().String("filter", string(export.FilterNone), "Filtered voltage column: none|sma|ema")
	exportCmd.Flags().StringP("out", "o", "", "Output file (default experimento_<id>.<format>)")
	experimentsCmd.AddCommand(exportCmd)

	deleteCmd := &cobra.Command{
		Use:     "delete ID",
		Short:   "Delete a completed experiment and its samples",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return app.DeleteExperiment(cmd.Context(), config, id, logger)
		},
	}
	experimentsCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(experimentsCmd)

	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Create the schema and close experiments left running by a crashed server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			closed, err := app.Recover(cmd.Context(), config, logger)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "closed %d experiment(s)\n", closed)
			return err
		},
	}
	rootCmd.AddCommand(recoverCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid experiment id %q", s)
	}
	return id, nil
}
