// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped by the build; "dev" for local builds.
var Version = "dev"

// --- Global Command Variables ---
var (
	configPath  string
	logLevel    string
	logDir      string
	plainOutput bool

	// run flags
	runTaskKind  string
	runLanguage  string
	runSteps     []string
	runReference string
	runJSON      bool
	runMaxPolls  int

	// digest flags
	digestSessionID string
	digestJSON      bool

	rootCmd = &cobra.Command{
		Use:   "stepchain",
		Short: "A cli to run and serve the StepChain convergent step engine",
		Long: `StepChain executes multi-step content generation plans against an
oracle model, one step per poll, until the session converges.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the StepChain HTTP service",
		Run:   runServe, // Defined in cmd_serve.go
	}

	runCmd = &cobra.Command{
		Use:   "run [topic]",
		Short: "Run a chain for a topic in-process and print each step as it lands",
		Args:  cobra.MinimumNArgs(1),
		Run:   runChain, // Defined in cmd_run.go
	}

	digestCmd = &cobra.Command{
		Use:   "digest [chain_id]",
		Short: "Summarize a recorded session from the execution journal",
		Args:  cobra.ExactArgs(1),
		Run:   runDigest, // Defined in cmd_digest.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the stepchain version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the stepchain config file (default ~/.stepchain/stepchain.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"Directory for daily JSON log files (disabled when empty)")
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false,
		"Force plain output (no colors or boxes)")

	runCmd.Flags().StringVar(&runTaskKind, "task-kind", "normal",
		"Task kind: normal, report, or slide")
	runCmd.Flags().StringVar(&runLanguage, "language", "en",
		"Output language code")
	runCmd.Flags().StringSliceVar(&runSteps, "step", nil,
		"Declare a plan step title (repeatable); omitted means a generated plan")
	runCmd.Flags().StringVar(&runReference, "reference-file", "",
		"File whose content seeds the first step's prompt")
	runCmd.Flags().BoolVar(&runJSON, "json", false,
		"Print the final aggregate as JSON")
	runCmd.Flags().IntVar(&runMaxPolls, "max-polls", 64,
		"Abort after this many polls")

	digestCmd.Flags().StringVar(&digestSessionID, "session", "",
		"Session id (default: the chain's most recent session)")
	digestCmd.Flags().BoolVar(&digestJSON, "json", false,
		"Print the digest as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(versionCmd)
}
