package cmd

import (
	"fmt"
	"os"

	"CadenceFM/config"
	"CadenceFM/logger"
	"CadenceFM/server"

	"github.com/spf13/cobra"
)

// cfg 在任何子命令执行前加载
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cadence_server",
	Short: "CadenceFM is a personal music library with a server-driven player.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger.InitLogger(logger.Config{
			Level:      logger.ParseLevel(cfg.LogLevel),
			OutputPath: cfg.LogPath,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	Run: func(cmd *cobra.Command, args []string) {
		logger.Info("Starting CadenceFM server...")
		server.Start(cfg)
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
