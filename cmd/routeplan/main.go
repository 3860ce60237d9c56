// Command routeplan plans a day offline from a CSV export: it is the
// planning service without the HTTP layer, for dispatchers working from a
// laptop and for tuning rules against real data.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "routeplan",
	Short:         "Plan bike and car routes from a location export",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("CONFIG_PATH"), "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print solver progress")
	rootCmd.AddCommand(solveCmd, matrixCmd, versionCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "routeplan:", err)
		os.Exit(1)
	}
}
