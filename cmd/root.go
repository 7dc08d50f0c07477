package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/config"
)

var cfg *config.Config

var logFlags struct {
	level  string
	format string
}

var rootCmd = &cobra.Command{
	Use:           "visitor-cli",
	Short:         "Anonymous visitor to lead enrichment pipeline",
	Long:          "Resolves website visits to companies, finds the best-matching decision maker, verifies an email address and stores the result as a lead.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if logFlags.level != "" {
			c.Log.Level = logFlags.level
		}
		if logFlags.format != "" {
			c.Log.Format = logFlags.format
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFlags.level, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFlags.format, "log-format", "", "override log.format (json or console)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
