// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Scoring weights. Structure and length each cap at 0.35, topic relevance
// adds a flat 0.15, and every scored result gets a 0.1 base, so the raw sum
// stays inside [0.1, 0.95] before clamping.
const (
	structureCap    = 0.35
	perKeyWeight    = 0.05
	perItemWeight   = 0.03
	lengthCap       = 0.35
	lengthDivisor   = 4000.0
	topicBonus      = 0.15
	baseScore       = 0.1
	degradedScore   = 0.5
	topicProbeRunes = 8
)

// ScoreContent grades a parsed step content on structure, length, and topic
// relevance. The score is deterministic for a given value, always lands in
// [0, 1], and is rounded to three decimals. Content that cannot be
// serialized at all is graded at the flat degraded score.
func ScoreContent(content any, topic string) float64 {
	score := 0.0
	var text string

	switch c := content.(type) {
	case map[string]any:
		score += math.Min(structureCap, perKeyWeight*float64(len(c)))
		b, err := json.Marshal(c)
		if err != nil {
			return degradedScore
		}
		text = string(b)
	case []any:
		score += math.Min(structureCap, perItemWeight*float64(len(c)))
		b, err := json.Marshal(c)
		if err != nil {
			return degradedScore
		}
		text = string(b)
	case string:
		text = c
	case nil:
		text = ""
	default:
		b, err := json.Marshal(c)
		if err != nil {
			text = fmt.Sprintf("%v", c)
		} else {
			text = string(b)
		}
	}

	score += math.Min(lengthCap, float64(utf8.RuneCountInString(text))/lengthDivisor)

	if probe := runePrefix(topic, topicProbeRunes); probe != "" && strings.Contains(text, probe) {
		score += topicBonus
	}
	score += baseScore

	return round3(clamp01(score))
}

// runePrefix returns the first n runes of s, or all of s if shorter.
func runePrefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func clamp01(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
