// Package cmd provides the command-line interface for ghmd.
//
// Configuration is layered: command-line flags take precedence over
// environment variables with the GHMD_ prefix (GHMD_RENDER_TOKEN,
// GHMD_SERVER_PORT, ...), which take precedence over a .ghmd.yml file in the
// current directory or the file named by --config.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ghmd",
	Short: "A live GitHub-flavored Markdown previewer",
	Long: `ghmd renders a markdown file through the GitHub render API and serves the
result in the browser, updating live as the file changes on disk.

Quick start:
  export GHMD_RENDER_TOKEN=<your token>
  ghmd serve README.md`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .ghmd.yml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ghmd")
	}

	viper.SetEnvPrefix("GHMD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
