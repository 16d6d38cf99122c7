package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replyflow/replyflow/internal/config"
	"github.com/replyflow/replyflow/internal/db"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "replyflow",
	Short:        "WhatsApp inbound-message orchestration service",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and background workers",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return db.Migrate(cfg.Postgres.DSN())
	},
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("CONFIG_PATH")
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml")
	rootCmd.AddCommand(serveCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
