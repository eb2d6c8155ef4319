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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/StepChain/pkg/ux"
	"github.com/AleutianAI/StepChain/services/stepchain/config"
	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
	"github.com/AleutianAI/StepChain/services/stepchain/engine"
	"github.com/AleutianAI/StepChain/services/stepchain/execlog"
	"github.com/AleutianAI/StepChain/services/stepchain/normalize"
	"github.com/AleutianAI/StepChain/services/stepchain/planner"
	"github.com/AleutianAI/StepChain/services/stepchain/registry"
	"github.com/AleutianAI/StepChain/services/stepchain/server"
)

// runChain executes a chain in-process, polling the engine until the
// session converges, and journals the run so `stepchain digest` can
// summarize it afterward.
func runChain(cmd *cobra.Command, args []string) {
	topic := strings.TrimSpace(strings.Join(args, " "))

	cfg, err := config.Load(configPath)
	if err != nil {
		ux.Error(fmt.Sprintf("configuration: %v", err))
		os.Exit(1)
	}

	kind, err := datatypes.ParseTaskKind(runTaskKind)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	client, err := server.NewOracleClient(cfg.Oracle)
	if err != nil {
		ux.Error(fmt.Sprintf("oracle: %v", err))
		os.Exit(1)
	}

	var library *planner.TemplateLibrary
	if cfg.Planner.TemplateDir != "" {
		library = planner.NewTemplateLibrary(cfg.Planner.TemplateDir)
	}
	pl, err := planner.New(client, library)
	if err != nil {
		ux.Error(fmt.Sprintf("planner: %v", err))
		os.Exit(1)
	}

	ctx := context.Background()

	steps := declaredSteps(runSteps)
	if len(steps) == 0 {
		ux.Info("generating plan...")
		steps = pl.GeneratePlan(ctx, topic, kind, runLanguage)
	}

	exec, err := engine.NewStepExecutor(client,
		engine.WithExcerptFunc(planner.Excerpt),
		engine.WithBackendLabel(cfg.Oracle.Backend),
	)
	if err != nil {
		ux.Error(fmt.Sprintf("executor: %v", err))
		os.Exit(1)
	}
	eng, err := engine.New(exec)
	if err != nil {
		ux.Error(fmt.Sprintf("engine: %v", err))
		os.Exit(1)
	}

	journal := openJournal(cfg)
	reg := registry.New()
	chainID := reg.CreateChain(topic, kind, runLanguage, steps, nil, nil)

	ux.Title(topic)
	ux.KeyValue("chain", chainID)
	ux.KeyValue("plan", fmt.Sprintf("%d steps", len(steps)))

	reference := loadReference(runReference)

	req := engine.Request{
		Topic:            topic,
		TaskKind:         kind,
		Language:         runLanguage,
		Steps:            steps,
		ReferenceContent: reference,
	}

	var final *engine.PollResult
	for poll := 0; poll < runMaxPolls; poll++ {
		res, err := eng.ProcessRequest(ctx, req)
		if err != nil {
			ux.Error(fmt.Sprintf("poll failed: %v", err))
			os.Exit(1)
		}
		if req.SessionID == "" {
			req.SessionID = res.SessionID
			journalStart(journal, chainID, res.SessionID, topic, kind, len(steps))
		}

		item := normalize.Normalize(res.Result, topic, runLanguage)
		if res.IsCompleted {
			journalEnd(journal, chainID, res.SessionID, res, &item)
			final = res
			break
		}

		journalStep(journal, chainID, res.SessionID, res.Result, &item)
		ux.StepLine(res.Result.Step, res.Result.StepName,
			string(res.Result.Status), res.Result.QualityScore)
	}

	if final == nil {
		ux.Error(fmt.Sprintf("session did not converge within %d polls", runMaxPolls))
		os.Exit(1)
	}

	printFinal(final, chainID)
}

// declaredSteps converts repeated --step flags into a plan.
func declaredSteps(titles []string) []datatypes.StepDefinition {
	steps := make([]datatypes.StepDefinition, 0, len(titles))
	for i, title := range titles {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		steps = append(steps, datatypes.StepDefinition{
			Key:   strconv.Itoa(i + 1),
			Title: title,
		})
	}
	return steps
}

// loadReference reads the optional reference file, trimming to the accepted
// byte limit.
func loadReference(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		ux.Warning(fmt.Sprintf("reference file unreadable, continuing without it: %v", err))
		return ""
	}
	if len(data) > datatypes.MaxReferenceContentBytes {
		data = data[:datatypes.MaxReferenceContentBytes]
	}
	return string(data)
}

// openJournal opens the execution log; a failure degrades to an unlogged
// run rather than aborting.
func openJournal(cfg *config.Config) *execlog.Service {
	dir := cfg.Journal.Dir
	if dir == "" {
		dir = os.TempDir() + "/stepchain-journal"
	}
	journal, err := execlog.New(dir)
	if err != nil {
		ux.Warning(fmt.Sprintf("journal unavailable, run will not be recorded: %v", err))
		return nil
	}
	return journal
}

func journalStart(journal *execlog.Service, chainID, sessionID, topic string,
	kind datatypes.TaskKind, planSteps int) {
	if journal == nil {
		return
	}
	_ = journal.Start(chainID, sessionID, map[string]any{
		"topic":      topic,
		"task_kind":  string(kind),
		"plan_steps": planSteps,
	})
}

func journalStep(journal *execlog.Service, chainID, sessionID string,
	result datatypes.StepResult, item *datatypes.OutlineItem) {
	if journal == nil {
		return
	}
	_ = journal.AppendStep(chainID, sessionID, result, item)
}

func journalEnd(journal *execlog.Service, chainID, sessionID string,
	res *engine.PollResult, item *datatypes.OutlineItem) {
	if journal == nil {
		return
	}
	_ = journal.AppendStep(chainID, sessionID, res.Result, item)
	_ = journal.End(chainID, sessionID, string(datatypes.StepFinalized), map[string]any{
		"stop_reason": res.StopReason,
	})
}

// printFinal renders the converged aggregate.
func printFinal(final *engine.PollResult, chainID string) {
	if runJSON {
		out, err := json.MarshalIndent(final.Result.Content, "", "  ")
		if err != nil {
			ux.Error(fmt.Sprintf("encode result: %v", err))
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	ux.Success(fmt.Sprintf("converged (%s)", final.StopReason))
	content, ok := final.Result.Content.(map[string]any)
	if !ok {
		return
	}
	if summary, ok := content["summary"].(map[string]any); ok {
		if total, ok := summary["total_steps"]; ok {
			ux.KeyValue("total steps", fmt.Sprintf("%v", total))
		}
		if avg, ok := summary["avg_quality"].(float64); ok {
			ux.KeyValue("avg quality", fmt.Sprintf("%.3f", avg))
		}
	}
	if finalStep, ok := content["final"]; ok {
		rendered, err := json.MarshalIndent(finalStep, "", "  ")
		if err == nil {
			ux.Box("Final step", string(rendered))
		}
	}
	ux.Muted("chain " + chainID + " recorded; run `stepchain digest " + chainID + "` for the transcript")
}
