// Package cmd provides the CLI commands for amanmem.
package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmem/internal/config"
	"github.com/Aman-CERP/amanmem/internal/logging"
	"github.com/Aman-CERP/amanmem/internal/profiling"
	"github.com/Aman-CERP/amanmem/pkg/version"
)

// Global flags
var (
	configPath     string
	debugMode      bool
	loaded         *config.Config
	loggingCleanup func()
	profiles       profiling.Paths
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the amanmem CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanmem",
		Short: "Persistent semantic memory for coding-assistant transcripts",
		Long: `amanmem imports exported assistant transcripts, embeds them into a
local vector index and answers similarity searches that favor recent work.

Run 'amanmem import' once, or 'amanmem watch' to keep the index current.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("amanmem version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default .amanmem.yaml if present)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr")
	cmd.PersistentFlags().StringVar(&profiles.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profiles.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profiles.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startCommand
	cmd.PersistentPostRunE = stopCommand

	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newNoteCmd())
	cmd.AddCommand(newRecentCmd())
	cmd.AddCommand(newTimelineCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfigAndLogging loads the configuration every command shares and
// routes logs to a rotating file in the data directory.
func loadConfigAndLogging(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	loaded = cfg

	logCfg := logging.DefaultConfig("amanmem")
	logCfg.FilePath = logging.LogPathIn(filepath.Join(cfg.Paths.DataDir, "logs"), "amanmem")
	logCfg.Level = cfg.Server.LogLevel
	if debugMode {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("config_loaded",
		slog.String("command", cmd.Name()),
		slog.String("data_dir", cfg.Paths.DataDir),
		slog.String("mode", cfg.Embeddings.Mode))
	return nil
}

// startCommand starts any requested profiles, then loads configuration.
func startCommand(cmd *cobra.Command, args []string) error {
	if profiles.Enabled() {
		s, err := profiling.Start(profiles)
		if err != nil {
			return err
		}
		profileSession = s
	}
	return loadConfigAndLogging(cmd, args)
}

// stopCommand flushes profiles and closes the log file.
func stopCommand(_ *cobra.Command, _ []string) error {
	err := profileSession.Stop()
	profileSession = nil
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
