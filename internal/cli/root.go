// internal/cli/root.go

package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
)

// version is set at build time
var version = "dev"

var (
	dbPath   string
	logLevel string
	asJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "agrosense",
	Short: "Field tools for the AgroSense advisory backend",
	Long: `Compress crop photos under the upload budget, describe a location's
region and climate, and manage the position snapshot kept for this machine.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("agrosense version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Position snapshot database (default ~/.agrosense/state.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() logging.Logger {
	return logging.New(logging.Config{
		Level:  logLevel,
		Format: "text",
		Output: os.Stderr,
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
