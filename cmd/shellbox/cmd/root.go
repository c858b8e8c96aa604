package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hkuds/shellbox/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "shellbox",
	Short: "Shellbox - disposable, time-limited sandbox shells",
	Long: `Shellbox hands each user one isolated Docker sandbox at a time, runs their
shell commands in it over chat or the terminal, and tears it down when the
session ends or expires.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.shellbox/config.json)")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
