package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cfgpkg "github.com/cgem-lab/strainboard/internal/config"
	"github.com/cgem-lab/strainboard/internal/logging"
)

var (
	// Global flags
	cfgFile string
	debug   bool

	// Loaded configuration
	cfg *cfgpkg.Global
	// Process logger, built in PersistentPreRunE
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "strainboard",
	Short: "strainboard: lab strain inventory dashboard and request tracker",
	Long: `strainboard loads the labs' strain workbook, serves filterable counts and tables over
HTTP, and tracks strain requests between labs with email notifications.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		l, err := logging.New(cfg.LogLevel, debug)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.strainboard/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		cfg = nil
		return
	}
	cfg = c
}
