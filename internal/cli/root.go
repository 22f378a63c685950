// Package cli implements the duetlab command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/duetlab/duetlab/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "duetlab",
	Short: "duetlab - Two AI scientists conducting research through peer review",
	Long: `duetlab runs a research simulation in which two autonomous AI scientists
work through a six-stage research pipeline. Every stage artifact is submitted
as a GitHub pull request and reviewed by the other scientist; only approved
work advances. A crowd of citizen evaluators scores each research theme.

Example:
  duetlab run --topic "自然言語処理における感情分析" --max-steps 50`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set version for --version flag
	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .duetlab.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error getting working directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".duetlab")
	}

	viper.SetEnvPrefix("DUETLAB")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
