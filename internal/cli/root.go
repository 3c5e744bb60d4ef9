// Package cli wires the converge subcommands: init, status, plan,
// apply, rollback, history, bundle and unbundle.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/internal/config"
	"github.com/converge-sh/converge/internal/drift"
	"github.com/converge-sh/converge/internal/probe"
	"github.com/converge-sh/converge/internal/run"
)

var (
	jsonOutput bool
	verbose    bool
	cfgPath    string
	specPath   string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "converge",
	Short:         "Declarative host provisioning reconciler",
	Long:          "converge reads a desired-state description of a host (packages, services, files, users)\nand converges the live system toward it, with drift detection, ordered execution and rollback.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env next to the working directory may carry CONVERGE_*
		// overrides; absence is fine.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		} else if l, lerr := zerolog.ParseLevel(cfg.LogLevel); lerr == nil {
			level = l
		}
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).Level(level).With().Timestamp().Str("app", "converge").Logger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath, "Tool config file")
	rootCmd.PersistentFlags().StringVarP(&specPath, "file", "f", "converge.yaml", "Desired-state spec file")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// hostProbes builds the real probe set and shared runner for commands
// that inspect or mutate the host.
func hostProbes() (probe.Set, *probe.PackageManager, run.Runner, error) {
	runner := &run.ExecRunner{
		Timeout: cfg.Timeout(),
		Env:     []string{"DEBIAN_FRONTEND=noninteractive"},
	}
	pm, err := probe.DetectPackageManager()
	if err != nil {
		return probe.Set{}, nil, nil, err
	}
	files := probe.DiskFileProbe{}
	set := probe.Set{
		Package: &probe.SystemPackageProbe{PM: pm, Runner: runner},
		Service: &probe.SystemdServiceProbe{Runner: runner, Files: files},
		File:    files,
		User:    probe.SystemUserProbe{},
	}
	return set, pm, runner, nil
}

func newDetector(probes probe.Set) *drift.Detector {
	return &drift.Detector{Probes: probes, Log: logger}
}
