// Package cmd provides the command-line interface for pdes.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var envFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pdes",
	Short: "pdes runs partitioned discrete event simulations.",
	Long: `pdes runs discrete event simulations split into partitions that ` +
		`advance in parallel under a conservative lookahead window. ` +
		`Currently, it runs the ping workload.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"File with PDES_* environment variables. Ignored if missing.")
}

// loadEnv loads the variables of an env file without overriding the ones
// already set.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	return godotenv.Load(path)
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		logrus.WithError(err).Error("pdes failed")
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
