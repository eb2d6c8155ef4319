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
	"log/slog"
	"os"

	"github.com/AleutianAI/StepChain/pkg/logging"
	"github.com/AleutianAI/StepChain/pkg/ux"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if plainOutput {
			ux.SetPlain(true)
		}

		logger := logging.New(logging.Config{
			Level:   logging.ParseLevel(logLevel),
			Service: "stepchain",
			LogDir:  logDir,
		})
		slog.SetDefault(logger.Slog())
	}
}
