// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the rxn-harvest CLI.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/rxn-harvest/internal/logging"
	"github.com/pdiddy/rxn-harvest/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the rxn-harvest CLI.
var rootCmd = &cobra.Command{
	Use:   "rxn-harvest",
	Short: "Harvest chemical reaction records from public reaction sites",
	Long: `rxn-harvest crawls the KMT reaction archive or the Open Reaction Database,
fetches every reaction record of the selected collections and writes them as
one JSON document. Documents can be summarized and loaded into a SQLite store
for SMILES search.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./rxn-harvest.yaml or ~/.config/rxn-harvest/rxn-harvest.yaml)")
	pf.String("log-level", "info", "log level: trace, debug, info, warn, error")
	pf.String("log-format", "pretty", "log format: pretty or json")
	pf.String("log-file", "", "also append JSON logs to this file")

	viper.BindPFlag("log.level", pf.Lookup("log-level"))
	viper.BindPFlag("log.format", pf.Lookup("log-format"))
	viper.BindPFlag("log.file", pf.Lookup("log-file"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("rxn-harvest")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "rxn-harvest"))
		}
	}

	viper.SetEnvPrefix("RXN_HARVEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the operator logger from the log.* settings.
func newLogger() (zerolog.Logger, io.Closer, error) {
	var cfg types.LogConfig
	if err := viper.UnmarshalKey("log", &cfg); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("reading log settings: %w", err)
	}
	return logging.Setup(cfg, os.Stderr)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
