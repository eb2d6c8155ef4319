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
	"github.com/tmc/langchaingo/textsplitter"
)

// excerptSeparators order the split preferences: paragraph, line, word.
// Splitting on these keeps an excerpt from ending mid-sentence the way a
// hard rune cut does.
var excerptSeparators = []string{"\n\n", "\n", " ", ""}

// Excerpt bounds text to roughly limit runes, cutting on the most natural
// boundary available. It satisfies the engine's ExcerptFunc contract and
// replaces the engine's default hard cut.
func Excerpt(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len([]rune(text)) <= limit {
		return text
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(limit),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators(excerptSeparators),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		runes := []rune(text)
		return string(runes[:limit])
	}
	return chunks[0]
}
