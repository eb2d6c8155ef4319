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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreObjectContent(t *testing.T) {
	content := map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}

	// Three keys at 0.05 each, 19 serialized runes, no topic match, plus
	// the 0.1 base.
	got := ScoreContent(content, "Unrelated Topic")
	require.InDelta(t, 0.255, got, 1e-9)
}

func TestScoreStructureCapsAtMax(t *testing.T) {
	wide := map[string]any{}
	for _, k := range []string{"k1", "k2", "k3", "k4", "k5", "k6", "k7", "k8", "k9"} {
		wide[k] = "v"
	}
	long := make([]any, 30)
	for i := range long {
		long[i] = "item"
	}

	// Nine keys would be 0.45 and thirty items 0.90; both cap at 0.35.
	wideScore := ScoreContent(wide, "zzz")
	longScore := ScoreContent(long, "zzz")
	assert.LessOrEqual(t, wideScore, 0.35+0.35+0.1)
	assert.LessOrEqual(t, longScore, 0.35+0.35+0.1)
}

func TestScoreLengthUsesRunesNotBytes(t *testing.T) {
	ascii := strings.Repeat("x", 200)
	chinese := strings.Repeat("字", 200)

	// Equal rune counts must score identically even though the UTF-8
	// byte counts differ threefold.
	assert.InDelta(t, ScoreContent(ascii, "zzz"), ScoreContent(chinese, "zzz"), 1e-9)
}

func TestScoreTopicBonus(t *testing.T) {
	topic := "Galaxy Formation"

	// Same-length strings, so only the bonus separates the two scores.
	with := ScoreContent("An essay about Galaxy Formation and dust lanes.", topic)
	without := ScoreContent("An essay about spiral structure and dust lanes.", topic)
	assert.InDelta(t, 0.15, with-without, 0.01)
}

func TestScoreTopicProbeIsEightRunes(t *testing.T) {
	topic := "量子计算的未来发展方向"

	// Only the first eight runes of the topic are probed for.
	with := ScoreContent("关于量子计算的未来发的讨论", topic)
	without := ScoreContent("关于别的主题的讨论", topic)
	assert.Greater(t, with, without)
}

func TestScoreAlwaysWithinUnitInterval(t *testing.T) {
	contents := []any{
		nil,
		"",
		"short",
		strings.Repeat("y", 10000),
		map[string]any{},
		map[string]any{"only": "one"},
		[]any{},
		[]any{1.0, 2.0, 3.0},
		42.0,
		true,
	}
	for _, c := range contents {
		got := ScoreContent(c, "Any Topic At All")
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestScoreNilContentGetsBaseOnly(t *testing.T) {
	require.InDelta(t, 0.1, ScoreContent(nil, "Topic"), 1e-9)
}

func TestScoreIsRoundedToThreeDecimals(t *testing.T) {
	got := ScoreContent(strings.Repeat("x", 37), "zzz")

	// 37/4000 + 0.1 = 0.10925, which rounds to 0.109.
	require.InDelta(t, 0.109, got, 1e-9)
}
