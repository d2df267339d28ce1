package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/reviewhub/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reviewhub",
		Short: "External review aggregation service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newServeCommand(),
		newRefreshAllCommand(),
		newStatsCommand(),
		newCleanCommand(),
		newIssueTokenCommand(),
	)
	return rootCmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the review HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL DSN (overrides env)")
	cmd.PersistentFlags().String("provider-api-key", "", "Review provider API key (overrides env)")
	cmd.PersistentFlags().String("provider-base-url", defaults.GetString("provider.base_url"), "Review provider base URL")
	cmd.PersistentFlags().Duration("freshness-window", defaults.GetDuration("cache.freshness_window"), "Raw snapshot freshness window")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for the summary cache (empty disables)")
	cmd.PersistentFlags().String("signing-secret", "", "Operator token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "provider.api_key", "provider-api-key")
	bindFlag(cmd, "provider.base_url", "provider-base-url")
	bindFlag(cmd, "cache.freshness_window", "freshness-window")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "admin.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
