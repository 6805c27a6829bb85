package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hyodotdev/locanara/internal/config"
)

var version = "dev"

type rootOptions struct {
	configPath string
	addr       string
	modelsDir  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "locanarad",
		Short:         "On-device AI daemon: routes generation across platform and local engines",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (.yaml/.json/.toml)")
	root.PersistentFlags().StringVar(&opts.addr, "addr", "", "HTTP listen address, overrides config")
	root.PersistentFlags().StringVar(&opts.modelsDir, "models-dir", "", "Directory to scan for *.gguf model files, overrides config")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error, overrides config")

	root.AddCommand(newServeCmd(opts), newModelsCmd(opts))
	return root
}

// loadConfig merges the optional config file with flag overrides.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.modelsDir != "" {
		cfg.ModelsDir = opts.modelsDir
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if v := os.Getenv("LOCANARA_ADDR"); v != "" && opts.addr == "" {
		cfg.Addr = v
	}
	return cfg, nil
}

// newLogger builds the process logger, with optional file rotation.
func newLogger(cfg config.Log) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stderr
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		out = io.MultiWriter(out, rotated)
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
