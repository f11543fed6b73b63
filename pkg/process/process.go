// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package process has the shared bootstrap of the binaries: flag and
// environment plumbing, logger construction and signal-aware contexts.
package process

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// envPrefix is the prefix of every environment variable the process
// reads for flags: images.batch-size becomes XTRACTO_IMAGES_BATCH_SIZE.
const envPrefix = "XTRACTO"

// Ctx returns a context canceled by SIGINT or SIGTERM.
func Ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Exec loads the optional .env file, wires environment variables into
// the flags of every command and runs the root command. A failed
// command exits with code 1.
func Exec(rootCmd *cobra.Command) {
	// a missing .env is not an error
	_ = godotenv.Load()

	rootCmd.PersistentFlags().String("log.level", "info", "minimum log level")
	rootCmd.PersistentFlags().Bool("log.development", false, "verbose development logging")

	wrapCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func wrapCommands(cmd *cobra.Command) {
	if runE := cmd.RunE; runE != nil {
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			if err := applyEnv(cmd); err != nil {
				return err
			}
			return runE(cmd, args)
		}
	}
	for _, child := range cmd.Commands() {
		wrapCommands(child)
	}
}

// applyEnv fills unset flags from XTRACTO_* environment variables.
func applyEnv(cmd *cobra.Command) error {
	vip := viper.New()
	vip.SetEnvPrefix(envPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	var applyErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Changed || applyErr != nil {
			return
		}
		if value := vip.GetString(flag.Name); value != "" && value != flag.DefValue {
			applyErr = cmd.Flags().Set(flag.Name, value)
		}
	})
	return applyErr
}

// NewLogger builds the process logger from the log.* flags of cmd.
func NewLogger(cmd *cobra.Command) (*zap.Logger, error) {
	levelText, _ := cmd.Flags().GetString("log.level")
	development, _ := cmd.Flags().GetBool("log.development")

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(levelText)); err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if development {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
