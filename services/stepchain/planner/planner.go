// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner generates the step plan for a chain whose caller declared
// none. Plans come from the oracle when it cooperates and from per-task-kind
// templates when it does not, so chain registration never fails on a bad
// model response.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
	"github.com/AleutianAI/StepChain/services/stepchain/oracle"
)

var plannerTracer = otel.Tracer("stepchain.planner")

// planTemperature runs hotter than step execution: plan shape benefits from
// variety, step content from consistency.
const planTemperature float32 = 0.4

// Plan size bounds for generated plans, before the task kind cap clamps.
const (
	minPlanSize = 8
	maxPlanSize = 12
)

// jsonArrayPattern grabs a bracketed span from prose wrapping a JSON array.
var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// Planner builds step plans.
type Planner struct {
	oracle  oracle.Client
	library *TemplateLibrary
}

// New wires a planner around an oracle backend and a template library. A nil
// library falls back to the built-in plans.
func New(client oracle.Client, library *TemplateLibrary) (*Planner, error) {
	if client == nil {
		return nil, fmt.Errorf("planner: oracle client is required")
	}
	if library == nil {
		library = NewTemplateLibrary("")
	}
	return &Planner{oracle: client, library: library}, nil
}

// PlanSize picks how many steps a generated plan targets: a stable value in
// [8, 12] seeded from the topic and task kind, clamped to the kind's step
// cap. Seeding keeps plan sizes reproducible for the same chain inputs.
func PlanSize(topic string, kind datatypes.TaskKind) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(kind))
	n := minPlanSize + int(h.Sum32()%uint32(maxPlanSize-minPlanSize+1))
	if limit := kind.DefaultMaxSteps(); n > limit {
		n = limit
	}
	return n
}

// GeneratePlan asks the oracle for a step plan and falls back to templates
// on any failure. The returned steps are renumbered from 1 and never empty.
func (p *Planner) GeneratePlan(ctx context.Context, topic string, kind datatypes.TaskKind, language string) []datatypes.StepDefinition {
	ctx, span := plannerTracer.Start(ctx, "planner.generate_plan")
	defer span.End()

	count := PlanSize(topic, kind)
	span.SetAttributes(
		attribute.String("plan.task_kind", string(kind)),
		attribute.Int("plan.target_size", count),
	)

	prompt := buildPlanPrompt(topic, kind, language, count)
	raw, err := p.oracle.Generate(ctx, prompt, oracle.GenerationParams{
		Temperature: oracle.Float32Ptr(planTemperature),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plan generation failed")
		slog.Warn("planner: oracle failed, using fallback plan", "task_kind", kind, "error", err)
		return p.FallbackPlan(topic, kind, language, count)
	}

	steps := parsePlanResponse(raw, count)
	if len(steps) == 0 {
		slog.Warn("planner: oracle returned no usable steps, using fallback plan", "task_kind", kind)
		return p.FallbackPlan(topic, kind, language, count)
	}
	span.SetAttributes(attribute.Int("plan.size", len(steps)))
	return steps
}

// FallbackPlan returns a deterministic plan of exactly count steps: the
// task kind's template padded or trimmed, or synthesized placeholders when
// no template exists.
func (p *Planner) FallbackPlan(topic string, kind datatypes.TaskKind, language string, count int) []datatypes.StepDefinition {
	if count <= 0 {
		return nil
	}
	template := p.library.Plan(kind)
	steps := make([]datatypes.StepDefinition, 0, count)
	for i := 0; i < count; i++ {
		if i < len(template) {
			steps = append(steps, template[i])
			continue
		}
		steps = append(steps, placeholderStep(topic, language, i+1))
	}
	return renumber(steps)
}

// buildPlanPrompt frames the plan request. The response contract mirrors
// the step contract: JSON only, no markdown fences, no commentary.
func buildPlanPrompt(topic string, kind datatypes.TaskKind, language string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Break the topic %q into an ordered list of work steps for a %s task.\n", topic, kind)
	b.WriteString("Requirements:\n")
	b.WriteString("- Respond with a single JSON array; each element is an object with fields key (integer from 1), title, description.\n")
	fmt.Fprintf(&b, "- Produce about %d steps (one more or fewer is fine); each description must be concrete and actionable.\n", count)
	b.WriteString("- Choose stage names that fit the topic; do not force a fixed template.\n")
	if strings.HasPrefix(strings.ToLower(language), "zh") {
		b.WriteString("- Output language: 中文.\n")
	} else {
		b.WriteString("- Output language: English.\n")
	}
	b.WriteString("Do not add markdown code fences or any explanation.")
	return b.String()
}

// parsePlanResponse extracts step definitions from the oracle's reply,
// tolerating prose around the array and an object wrapper carrying a
// "steps" field. Keys are renumbered from 1 and the list is capped at
// count+2 so an overeager model cannot inflate the plan.
func parsePlanResponse(raw string, count int) []datatypes.StepDefinition {
	items := extractJSONArray(raw)
	steps := make([]datatypes.StepDefinition, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title, _ := m["title"].(string)
		if strings.TrimSpace(title) == "" {
			title = fmt.Sprintf("Step %d", i+1)
		}
		desc, _ := m["description"].(string)
		steps = append(steps, datatypes.StepDefinition{Title: title, Description: desc})
	}
	if len(steps) > count+2 {
		steps = steps[:count+2]
	}
	return renumber(steps)
}

// extractJSONArray pulls a JSON array out of raw text: a clean array, the
// "steps" field of a clean object, or the first bracketed span in prose.
func extractJSONArray(raw string) []any {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
		if items, ok := tryUnmarshalArray(text); ok {
			return items
		}
	}
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err == nil {
			if items, ok := obj["steps"].([]any); ok {
				return items
			}
		}
	}
	if m := jsonArrayPattern.FindString(text); m != "" {
		if items, ok := tryUnmarshalArray(m); ok {
			return items
		}
	}
	return nil
}

func tryUnmarshalArray(text string) ([]any, bool) {
	var items []any
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, false
	}
	return items, true
}

// placeholderStep synthesizes a localized step for positions past the end
// of a template.
func placeholderStep(topic, language string, n int) datatypes.StepDefinition {
	if strings.HasPrefix(strings.ToLower(language), "zh") {
		return datatypes.StepDefinition{
			Title:       fmt.Sprintf("步骤%d", n),
			Description: fmt.Sprintf("围绕主题“%s”推进本阶段工作，明确产出与验收标准，形成可执行要点。", topic),
		}
	}
	return datatypes.StepDefinition{
		Title:       fmt.Sprintf("Step %d", n),
		Description: fmt.Sprintf("Advance the work on %q for this stage, naming concrete deliverables and acceptance criteria.", topic),
	}
}

// renumber assigns sequential 1-based keys. Plans show keys to callers, so
// they stay dense regardless of what the oracle returned.
func renumber(steps []datatypes.StepDefinition) []datatypes.StepDefinition {
	for i := range steps {
		steps[i].Key = fmt.Sprintf("%d", i+1)
	}
	return steps
}
