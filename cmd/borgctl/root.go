package main

import (
	"fmt"
	"os"

	"github.com/andywolf/borg/internal/config"
	"github.com/andywolf/borg/internal/store"
	"github.com/andywolf/borg/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "borgctl",
	Short: "Operator CLI for the borg pipeline daemon",
	Long: `borgctl inspects and nudges a running borgd's task store: retry a
stuck task, approve or dismiss a seeded proposal, or tail a task's phase
history.

Example:
  borgctl tasks --status impl
  borgctl retry 42
  borgctl proposals approve 7`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./borg.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("borg")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/borg")
	}

	viper.SetEnvPrefix("BORG")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && viper.GetBool("verbose") {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

// openStore loads config and opens the daemon's task store read/write,
// exactly as borgd does at startup; borgctl is a second writer onto the
// same SQLite file, relying on the store's WAL mode + busy timeout for
// safe concurrent access.
func openStore() (*store.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return db, cfg, nil
}
