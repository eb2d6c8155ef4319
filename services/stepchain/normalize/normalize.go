// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize turns arbitrary oracle output into the bounded
// OutlineItem structure callers render. It is a pure transformation: no
// clocks, no RNG, no I/O. The same step result, topic, and language always
// produce the same outline, which is what makes display output testable.
package normalize

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
)

const (
	// SubstepMin and SubstepMax bound the per-item substep count. The exact
	// target within the range is a seeded function of session identity.
	SubstepMin = 3
	SubstepMax = 5

	// substepTextLimit truncates harvested candidate lines.
	substepTextLimit = 160

	// MinTextFloor is the minimum rune length enforced on descriptions,
	// summaries, and detail bodies.
	MinTextFloor = 50
)

// aggregationKeys are searched, in order, on every object while harvesting
// substep candidates.
var aggregationKeys = [...]string{"chapters", "items", "points"}

// Normalize converts one step result into an OutlineItem.
//
// Description:
//
//	The raw content is searched recursively for aggregation keys whose
//	entries become substep candidates; free text contributes lines of at
//	least six characters when structured harvesting comes up short. The
//	candidate list is then padded with placeholders or trimmed so its
//	length equals SubstepTarget(topic, stepName, stepIndex). Every substep
//	is detail-visible with a rendering-ready markdown payload, and at most
//	one substep per item carries the "text" detail type.
func Normalize(stepResult datatypes.StepResult, topic, language string) datatypes.OutlineItem {
	step := stepResult.Step
	stepName := stepResult.StepName
	if stepName == "" {
		stepName = localized(language, fmt.Sprintf("步骤%d", step), fmt.Sprintf("Step %d", step))
	}

	h := &harvester{}

	// A final aggregate carries its payload under "final" and a structured
	// summary describing the whole run.
	if m, ok := stepResult.Content.(map[string]any); ok {
		if final, has := m["final"]; has {
			h.summary = renderAggregateSummary(m["summary"], language)
			h.traverse(final)
		} else {
			h.traverse(stepResult.Content)
		}
	} else {
		h.traverse(stepResult.Content)
	}

	title := stepName
	description := localized(language,
		fmt.Sprintf("围绕「%s」的%s。", topic, stepName),
		fmt.Sprintf("%s for '%s'.", stepName, topic))

	summary := h.summary
	if summary == "" {
		summary = localized(language,
			fmt.Sprintf("%s：围绕「%s」梳理关键要点。", stepName, topic),
			fmt.Sprintf("%s: Key points for '%s'.", stepName, topic))
	}

	// Length floors run before substep assembly so the scaffold can borrow
	// from harvested candidates without echoing the final filler back.
	scaffold := buildScaffold(h.candidates, description, topic, language)
	description = extendToFloor(description, scaffold, MinTextFloor)
	summary = extendToFloor(summary, scaffold, MinTextFloor)

	target := SubstepTarget(topic, stepName, step)
	texts := fitToTarget(h.candidates, target, stepName, language)

	baseText := summary
	inferred := inferDetailType(baseText)
	textUsed := false

	substeps := make([]datatypes.SubStep, 0, len(texts))
	for i, text := range texts {
		dt := inferred
		if dt == datatypes.DetailText && textUsed {
			dt = datatypes.DetailList
		}
		if dt == datatypes.DetailText {
			textUsed = true
		}
		heading := text
		if heading == "" {
			heading = title
		}
		substeps = append(substeps, datatypes.SubStep{
			Key:           fmt.Sprintf("%d-%d", step, i+1),
			Text:          text,
			ShowDetail:    true,
			DetailType:    dt,
			DetailPayload: buildDetailPayload(dt, heading, baseText, language),
		})
	}

	return datatypes.OutlineItem{
		Key:         fmt.Sprintf("%d", step),
		Title:       title,
		Description: description,
		Summary:     summary,
		Substeps:    substeps,
	}
}

// SubstepTarget returns the stable per-session substep count in
// [SubstepMin, SubstepMax]. It hashes session identity instead of rolling a
// RNG so repeated normalization of the same step cannot flap.
func SubstepTarget(topic, stepName string, stepIndex int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(stepName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(fmt.Sprintf("%d", stepIndex)))
	span := uint32(SubstepMax - SubstepMin + 1)
	return SubstepMin + int(h.Sum32()%span)
}

// =============================================================================
// Harvesting
// =============================================================================

// harvester walks a shape-free content value collecting substep candidates
// and the first summary string it meets.
type harvester struct {
	candidates []string
	summary    string
}

func (h *harvester) add(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if len(h.candidates) >= SubstepMax {
		return
	}
	h.candidates = append(h.candidates, truncateRunes(text, substepTextLimit))
}

// traverse recursively harvests candidates. Map keys are visited in a fixed
// order (aggregation keys first, the rest sorted) so output never depends on
// map iteration order.
func (h *harvester) traverse(obj any) {
	if len(h.candidates) >= SubstepMax {
		return
	}
	switch v := obj.(type) {
	case map[string]any:
		if h.summary == "" {
			if s, ok := v["summary"].(string); ok && strings.TrimSpace(s) != "" {
				h.summary = strings.TrimSpace(s)
			}
		}
		for _, key := range aggregationKeys {
			list, ok := v[key].([]any)
			if !ok {
				continue
			}
			for _, item := range list {
				switch it := item.(type) {
				case map[string]any:
					if txt := firstString(it, "point", "title", "text"); txt != "" {
						h.add(txt)
					}
				case string:
					h.add(it)
				}
			}
		}
		rest := make([]string, 0, len(v))
		for key := range v {
			if key == "summary" || isAggregationKey(key) {
				continue
			}
			rest = append(rest, key)
		}
		sort.Strings(rest)
		for _, key := range rest {
			h.traverse(v[key])
		}
	case []any:
		for _, el := range v {
			h.traverse(el)
		}
	case string:
		// Free text only backfills when structured harvesting found fewer
		// than the minimum.
		if len(h.candidates) >= SubstepMin {
			return
		}
		for _, line := range strings.Split(v, "\n") {
			line = strings.Trim(line, "-•* \t")
			if len([]rune(line)) >= 6 {
				h.add(line)
				if len(h.candidates) >= SubstepMax {
					return
				}
			}
		}
	}
}

func isAggregationKey(key string) bool {
	for _, k := range aggregationKeys {
		if k == key {
			return true
		}
	}
	return false
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// fitToTarget pads with placeholder candidates or trims so exactly target
// texts remain.
func fitToTarget(candidates []string, target int, stepName, language string) []string {
	texts := append([]string(nil), candidates...)
	if len(texts) > target {
		return texts[:target]
	}
	for i := len(texts); i < target; i++ {
		texts = append(texts, localized(language,
			fmt.Sprintf("%s—要点%d", stepName, i+1),
			fmt.Sprintf("%s - point %d", stepName, i+1)))
	}
	return texts
}

// renderAggregateSummary renders the summary of a final aggregate, which is
// either a ready-made string or a {total_steps, avg_quality} object.
func renderAggregateSummary(summary any, language string) string {
	switch s := summary.(type) {
	case string:
		return strings.TrimSpace(s)
	case map[string]any:
		total := s["total_steps"]
		avg := s["avg_quality"]
		return localized(language,
			fmt.Sprintf("已收敛，共 %v 步，平均质量 %v。", total, avg),
			fmt.Sprintf("Converged after %v steps, average quality %v.", total, avg))
	default:
		return ""
	}
}
