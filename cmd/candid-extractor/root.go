package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/candid-extractor/internal/config"
	"github.com/woxQAQ/candid-extractor/internal/wasm"
	_ "github.com/woxQAQ/candid-extractor/internal/wasm/wasmtime"
	_ "github.com/woxQAQ/candid-extractor/internal/wasm/wazero"
)

// app is shared by subcommands once PersistentPreRunE has run.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "candid-extractor",
		Short: "Extract the Candid interface embedded in canister Wasm modules",
		Long: `candid-extractor recovers the Candid service description that a canister
embeds in its Wasm binary.

The module is instantiated with every imported function replaced by a no-op,
its get_candid_pointer export is called, and the NUL-terminated string at the
returned offset of the exported memory is printed. Nothing else in the module
runs except its start function.`,
		Example: `  # Print the interface of a canister
  candid-extractor extract target/wasm32-unknown-unknown/release/backend.wasm

  # Write it to a .did file
  candid-extractor extract backend.wasm -o src/backend/backend.did

  # Extract every canister listed in candid.yaml
  candid-extractor batch --format yaml

  # Re-extract on every rebuild
  candid-extractor watch backend.wasm -o backend.did`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("engine", wasm.DefaultEngine, "Wasm engine (wasmtime, wazero)")
	flags.Int("timeout", 30, "Execution budget per module in seconds (0 disables)")
	flags.String("wazero-compiler", wasm.CompilerAuto, "wazero execution mode (auto, interpreter, compiler)")

	cmd.AddCommand(
		newExtractCommand(a),
		newBatchCommand(a),
		newWatchCommand(a),
		newVersionCommand(),
	)

	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger = logger

	logger.Debug("Configuration loaded",
		zap.String("engine", cfg.Engine),
		zap.Int("execution_timeout", cfg.Wasm.ExecutionTimeout),
		zap.Strings("engines", wasm.Engines()),
	)
	return nil
}

func (a *app) extractor() (*wasm.Extractor, error) {
	return wasm.NewExtractor(a.logger, a.cfg.RuntimeConfig())
}

// newLogger writes to stderr so stdout carries only the interface.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var zc zap.Config
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}

	return zc.Build()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "candid-extractor %s (commit %s, built %s)\n", version, commit, date)
			fmt.Fprintf(cmd.OutOrStdout(), "engines: %s\n", strings.Join(wasm.Engines(), ", "))
		},
	}
}
