package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agencyscope/agencydir/internal/export"
	"github.com/agencyscope/agencydir/internal/logging"
)

var (
	exportOutputDir string
	exportDBPath    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the store to CSV files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("output-dir") {
			cfg.Output.Dir = exportOutputDir
		}
		applyDBFlag(cmd, exportDBPath)
		st, err := initStore(cmd.Context())
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer st.Close() //nolint:errcheck

		exporter := export.NewExporter(st, cfg.Output.Dir, logging.ForSubsystem(logger, "export"))
		written, err := exporter.ExportAll(cmd.Context())
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Println(path)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutputDir, "output-dir", "", "directory for CSV exports")
	exportCmd.Flags().StringVar(&exportDBPath, "db", "", "sqlite database path")
}
