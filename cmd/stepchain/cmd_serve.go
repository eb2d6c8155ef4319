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
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/StepChain/pkg/ux"
	"github.com/AleutianAI/StepChain/services/stepchain/config"
	"github.com/AleutianAI/StepChain/services/stepchain/server"
)

// runServe loads configuration and blocks in the HTTP server.
func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		ux.Error(fmt.Sprintf("configuration: %v", err))
		os.Exit(1)
	}

	svc, err := server.New(cfg)
	if err != nil {
		ux.Error(fmt.Sprintf("initialization: %v", err))
		os.Exit(1)
	}

	ux.Title("StepChain")
	ux.KeyValue("port", fmt.Sprintf("%d", cfg.Server.Port))
	ux.KeyValue("oracle", cfg.Oracle.Backend)

	if err := svc.Run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
