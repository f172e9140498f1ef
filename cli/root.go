// Package cli provides the command-line interface of the catalog service:
// schema migration, background task workers, and storage-profile checks.
// Configuration follows the usual precedence — command-line flags over
// environment variables over the configuration file over defaults — with
// Viper handling the merge.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"catalog.evalgo.org/common"
	"catalog.evalgo.org/config"
)

// cfgFile holds the path to the configuration file specified via
// command-line flag; empty falls back to $HOME/.catalogd.yaml and the
// working directory.
var cfgFile string

// RootCmd is the entry point of the catalogd CLI.
//
// Example Usage:
//
//	# Migrate the catalog schema
//	catalogd migrate --pg-write-dsn postgres://catalog@localhost/catalog
//
//	# Run the tabular expiration worker
//	export CATALOG_PG_WRITE_DSN=postgres://catalog@localhost/catalog
//	catalogd worker --queue tabular_expiration
var RootCmd = &cobra.Command{
	Use:   "catalogd",
	Short: "Iceberg-compatible table catalog control plane",
	Long: `catalogd manages warehouses, hierarchical namespaces, tables and views
over object-store data.

This binary carries the operational commands of the control plane:
- migrate: create or update the catalog schema on PostgreSQL
- worker:  run a background task worker (tabular expiration)
- check-storage: validate a storage profile against the object store

Configuration can be provided via command-line flags, environment variables
(prefix CATALOG_), or a YAML configuration file with automatic precedence
handling.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.catalogd.yaml)")
	RootCmd.PersistentFlags().String("pg-write-dsn", "", "PostgreSQL write DSN")
	RootCmd.PersistentFlags().String("pg-read-dsn", "", "PostgreSQL read DSN (defaults to the write DSN)")
	RootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("pg.write_dsn", RootCmd.PersistentFlags().Lookup("pg-write-dsn"))
	_ = viper.BindPFlag("pg.read_dsn", RootCmd.PersistentFlags().Lookup("pg-read-dsn"))
	_ = viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads the configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".catalogd")
	}

	viper.SetEnvPrefix("CATALOG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		common.Logger.WithField("config", viper.ConfigFileUsed()).Debug("loaded configuration file")
	}
}

// loadConfig merges Viper state over the environment-variable defaults.
func loadConfig() (*config.CatalogConfig, error) {
	cfg, err := config.Load("CATALOG")
	if err != nil {
		return nil, err
	}
	if dsn := viper.GetString("pg.write_dsn"); dsn != "" {
		cfg.Postgres.WriteDSN = dsn
	}
	if dsn := viper.GetString("pg.read_dsn"); dsn != "" {
		cfg.Postgres.ReadDSN = dsn
	}
	if level := viper.GetString("log.level"); level != "" {
		cfg.Service.LogLevel = level
	}
	return cfg, nil
}

// newLogger builds the service logger from configuration, starting from
// the shared defaults so unset values keep their usual meaning.
func newLogger(cfg *config.CatalogConfig) *common.LoggerConfig {
	lc := common.DefaultLoggerConfig()
	lc.Level = common.LogLevel(cfg.Service.LogLevel)
	lc.Format = cfg.Service.LogFormat
	lc.Service = cfg.Service.Name
	lc.Version = cfg.Service.Version
	return &lc
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
