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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/StepChain/pkg/ux"
	"github.com/AleutianAI/StepChain/services/stepchain/analysis"
	"github.com/AleutianAI/StepChain/services/stepchain/config"
	"github.com/AleutianAI/StepChain/services/stepchain/execlog"
)

// runDigest summarizes a recorded session from the journal.
func runDigest(cmd *cobra.Command, args []string) {
	chainID := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		ux.Error(fmt.Sprintf("configuration: %v", err))
		os.Exit(1)
	}

	dir := cfg.Journal.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "stepchain-journal")
	}
	journal, err := execlog.New(dir)
	if err != nil {
		ux.Error(fmt.Sprintf("journal: %v", err))
		os.Exit(1)
	}
	digests, err := analysis.New(journal)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	digest, err := digests.Digest(chainID, digestSessionID)
	if err != nil {
		if errors.Is(err, execlog.ErrNoSessions) {
			ux.Error("no sessions recorded for " + chainID)
		} else {
			ux.Error(err.Error())
		}
		os.Exit(1)
	}

	if digestJSON {
		out, err := json.MarshalIndent(digest, "", "  ")
		if err != nil {
			ux.Error(fmt.Sprintf("encode digest: %v", err))
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	ux.Title("Session " + digest.SessionID)
	ux.KeyValue("chain", digest.ChainID)
	ux.KeyValue("status", digest.Status)
	ux.KeyValue("steps", fmt.Sprintf("%d (%d failed)", digest.TotalSteps, digest.FailedSteps))
	ux.KeyValue("avg quality", fmt.Sprintf("%.3f", digest.AvgQuality))
	if digest.StartedAt != nil && digest.FinishedAt != nil {
		ux.KeyValue("duration", digest.FinishedAt.Sub(*digest.StartedAt).String())
	}
	for _, step := range digest.Steps {
		ux.StepLine(step.Index, step.Name, step.Status, step.QualityScore)
		if step.Preview != "" {
			ux.Muted("  " + step.Preview)
		}
	}
}
