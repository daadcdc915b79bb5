package cmd

import (
	"fmt"
	"os"

	"musaic/config"
	"musaic/logger"
	"musaic/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "musaic",
	Short: "Musaic serves the Spotify player, search and chat relay.",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

// initLogger wires the global logger from config.
func initLogger(cfg *config.Config) {
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   cfg.LogCompress,
	})
}

func runServer() {
	cfg := config.Load()
	initLogger(cfg)
	defer logger.Sync()

	if err := server.Start(cfg); err != nil {
		logger.Fatal("服务器异常退出", logger.ErrorField(err))
	}
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
