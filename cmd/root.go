// Command agencydir crawls a Korean marketing-agency directory into a local
// store and exports it for analysis.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agencyscope/agencydir/internal/config"
	"github.com/agencyscope/agencydir/internal/logging"
)

var (
	cfgPath string
	cfg     config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "agencydir",
	Short: "Agency directory crawler",
	Long: "Crawls the i-boss agency directory (categories, agency listings, " +
		"detail pages) into a resumable local store, with CSV export and an " +
		"optional status API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
