// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
)

// reloadDebounce batches editor write bursts into one reload.
const reloadDebounce = 200 * time.Millisecond

// planTemplate is the on-disk shape of one task kind's fallback plan:
// a file named {kind}.yaml with a steps list.
type planTemplate struct {
	Steps []datatypes.StepDefinition `yaml:"steps"`
}

// TemplateLibrary holds per-task-kind fallback plans, loaded from a
// directory of YAML files and hot-reloaded on change. Kinds with no file
// use the built-in plans.
//
// Thread Safety: safe for concurrent use; reads take a read lock, reloads
// swap the map under the write lock.
type TemplateLibrary struct {
	dir string

	mu    sync.RWMutex
	plans map[datatypes.TaskKind][]datatypes.StepDefinition
}

// NewTemplateLibrary loads templates from dir. An empty dir or a load
// failure leaves the built-ins in place; the library never errors, because
// a missing template only changes which fallback the planner uses.
func NewTemplateLibrary(dir string) *TemplateLibrary {
	lib := &TemplateLibrary{
		dir:   dir,
		plans: builtinPlans(),
	}
	if dir != "" {
		lib.reload()
	}
	return lib
}

// Plan returns a copy of the fallback plan for kind.
func (l *TemplateLibrary) Plan(kind datatypes.TaskKind) []datatypes.StepDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]datatypes.StepDefinition(nil), l.plans[kind]...)
}

// Watch reloads the library whenever a template file changes, debounced so
// one save produces one reload. It blocks until ctx ends and is a no-op
// when the library has no directory.
func (l *TemplateLibrary) Watch(ctx context.Context) error {
	if l.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("planner: failed to create template watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("planner: failed to watch %s: %w", l.dir, err)
	}
	slog.Info("planner: watching template directory", "dir", l.dir)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			l.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("planner: template watcher error", "error", err)
		}
	}
}

// reload rebuilds the plan map from disk on top of the built-ins. A file
// that fails to parse keeps that kind's previous plan.
func (l *TemplateLibrary) reload() {
	next := builtinPlans()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		slog.Warn("planner: cannot read template directory", "dir", l.dir, "error", err)
		return
	}
	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		kind, err := datatypes.ParseTaskKind(strings.TrimSuffix(name, ext))
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			slog.Warn("planner: cannot read template", "file", name, "error", err)
			continue
		}
		var tpl planTemplate
		if err := yaml.Unmarshal(data, &tpl); err != nil {
			slog.Warn("planner: cannot parse template", "file", name, "error", err)
			continue
		}
		if len(tpl.Steps) == 0 {
			continue
		}
		next[kind] = tpl.Steps
		loaded++
	}

	l.mu.Lock()
	l.plans = next
	l.mu.Unlock()
	if loaded > 0 {
		slog.Info("planner: templates loaded", "dir", l.dir, "files", loaded)
	}
}

// builtinPlans are the stock fallback plans, one per task kind. They only
// run when the oracle fails, so they favor broadly applicable stages over
// topic-specific ones.
func builtinPlans() map[datatypes.TaskKind][]datatypes.StepDefinition {
	return map[datatypes.TaskKind][]datatypes.StepDefinition{
		datatypes.TaskKindNormal: {
			{Title: "Scope and Framing", Description: "Define the boundaries of the topic and the questions the work must answer."},
			{Title: "Background Research", Description: "Collect the established context, prior work, and terminology for the topic."},
			{Title: "Core Analysis", Description: "Work through the central material of the topic in depth."},
			{Title: "Supporting Evidence", Description: "Gather data, examples, and citations that back the core analysis."},
			{Title: "Counterpoints and Risks", Description: "Identify weaknesses, open questions, and opposing views."},
			{Title: "Synthesis", Description: "Combine the analysis and evidence into coherent findings."},
			{Title: "Recommendations", Description: "Turn the findings into concrete, prioritized next actions."},
			{Title: "Summary", Description: "Condense the whole run into a short overview and conclusion."},
		},
		datatypes.TaskKindReport: {
			{Title: "Executive Overview", Description: "State the purpose of the report and its headline findings."},
			{Title: "Methodology", Description: "Describe how the material was gathered and analyzed."},
			{Title: "Findings", Description: "Present the main body of findings with supporting detail."},
			{Title: "Data and Figures", Description: "Lay out the quantitative material backing the findings."},
			{Title: "Discussion", Description: "Interpret the findings and their implications."},
			{Title: "Limitations", Description: "Note the constraints and caveats on the analysis."},
			{Title: "Conclusion", Description: "Close with the report's conclusions and recommended follow-ups."},
		},
		datatypes.TaskKindSlide: {
			{Title: "Title and Hook", Description: "Open with the topic and why the audience should care."},
			{Title: "Agenda", Description: "Preview the structure of the deck."},
			{Title: "Key Points", Description: "Present the three to five core messages."},
			{Title: "Evidence", Description: "Back the key points with data and examples."},
			{Title: "Takeaways", Description: "Close with the actions or conclusions the audience should leave with."},
		},
	}
}
