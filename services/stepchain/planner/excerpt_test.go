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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcerpt_ShortTextPassesThrough(t *testing.T) {
	assert.Equal(t, "short text", Excerpt("short text", 1000))
}

func TestExcerpt_LongTextIsBounded(t *testing.T) {
	text := strings.Repeat("word ", 500)
	got := Excerpt(text, 100)
	assert.NotEmpty(t, got)
	assert.LessOrEqual(t, len([]rune(got)), 100)
}

func TestExcerpt_PrefersParagraphBoundary(t *testing.T) {
	text := "first paragraph here.\n\n" + strings.Repeat("second paragraph filler. ", 50)
	got := Excerpt(text, 40)
	assert.Equal(t, "first paragraph here.", got)
}

func TestExcerpt_ZeroLimit(t *testing.T) {
	assert.Empty(t, Excerpt("anything", 0))
}
