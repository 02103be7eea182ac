// Copyright (C) 2025 AlphaBytez
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AlphaBytez/STING-CE-sub009/cmd/stingctl/config"
)

// --- Global Command Variables ---
var (
	cfgPath      string
	jsonOutput   bool
	quietOutput  bool
	noColor      bool
	freshInstall bool

	startForceRecreate bool
	startSkipRepair    bool
	stopClean          bool
	stopVolumes        bool
	buildNoCache       bool
	logsTail           int
	logsFollow         bool

	// appConfig is loaded by PersistentPreRunE before any runner executes.
	appConfig *config.OrchestratorConfig

	rootCmd = &cobra.Command{
		Use:   "stingctl",
		Short: "A cli to manage the STING service stack on your machine",
		Long: `stingctl deploys and manages the STING stack: twenty-odd
				interdependent docker compose services started in dependency
				tiers with health gating between them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if freshInstall {
				cfg.Startup.FreshInstall = true
			}
			appConfig = cfg
			return nil
		},
	}

	// --- Stack Management ---
	stackCmd = &cobra.Command{
		Use:   "stack",
		Short: "Manage the local STING application on your machine",
	}
	startCmd = &cobra.Command{
		Use:   "start [service...]",
		Short: "Start STING services in dependency order",
		Long: `Start materializes env bundles, repairs the docker bridge if
				needed, then brings up each dependency tier and waits for its
				services to become healthy before starting the next. With
				service arguments, only the named services (in their tiers)
				are started.`,
		Run: runStackStart, // Defined in cmd_stack.go
	}
	stopCmd = &cobra.Command{
		Use:   "stop [service...]",
		Short: "Stop STING services, full stack in reverse tier order",
		Run:   runStackStop, // Defined in cmd_stack.go
	}
	restartCmd = &cobra.Command{
		Use:   "restart [service]",
		Short: "Restart one service in place, or the whole stack",
		Args:  cobra.MaximumNArgs(1),
		Run:   runStackRestart, // Defined in cmd_stack.go
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show per-service state, health, and tier of the stack",
		Run:   runStackStatus, // Defined in cmd_stack.go
	}
	reinstallCmd = &cobra.Command{
		Use:   "reinstall <service>",
		Short: "Rebuild one service from scratch with automatic rollback",
		Long: `Reinstall snapshots the service's on-disk artifacts, removes its
				container and image, rebuilds without cache, and verifies
				health. Any failure after the snapshot restores the service's
				previous state. The snapshot is kept on failure and deleted
				on success.`,
		Args: cobra.ExactArgs(1),
		Run:  runStackReinstall, // Defined in cmd_stack.go
	}
	buildCmd = &cobra.Command{
		Use:   "build [service...]",
		Short: "Build service images without starting anything",
		Run:   runStackBuild, // Defined in cmd_stack.go
	}
	logsCmd = &cobra.Command{
		Use:   "logs [service...]",
		Short: "Stream logs from service containers",
		Run:   runStackLogs, // Defined in cmd_stack.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"Path to stingctl.yaml (default: $STING_HOME/stingctl.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&quietOutput, "quiet", "q", false,
		"Suppress output, exit code only")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable colored output")

	rootCmd.AddCommand(stackCmd)
	stackCmd.AddCommand(startCmd)
	stackCmd.AddCommand(stopCmd)
	stackCmd.AddCommand(restartCmd)
	stackCmd.AddCommand(statusCmd)
	stackCmd.AddCommand(reinstallCmd)
	stackCmd.AddCommand(buildCmd)
	stackCmd.AddCommand(logsCmd)

	startCmd.Flags().BoolVar(&freshInstall, "fresh-install", false,
		"First boot: regenerate all env bundles, extend migration timeouts")
	startCmd.Flags().BoolVar(&startForceRecreate, "force-recreate", false,
		"Recreate containers even when their configuration is unchanged")
	startCmd.Flags().BoolVar(&startSkipRepair, "skip-network-repair", false,
		"Skip the docker bridge inspection pass")

	stopCmd.Flags().BoolVar(&stopClean, "clean", false,
		"Also remove stopped containers and orphans (compose down)")
	stopCmd.Flags().BoolVar(&stopVolumes, "volumes", false,
		"DANGER: remove named volumes during --clean")

	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false,
		"Build without the image cache")

	logsCmd.Flags().IntVar(&logsTail, "tail", 100,
		"Number of trailing log lines per container (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false,
		"Stream logs until interrupted")
}

// exitOn terminates the process with the error's mapped exit code.
func exitOn(cfg OutputConfig, cmd string, err error) {
	if err == nil {
		return
	}
	if !cfg.Quiet {
		OutputError(cfg.JSON, cmd+" failed", err)
	}
	os.Exit(ExitCodeFor(err))
}
