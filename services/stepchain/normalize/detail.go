// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Detail payload synthesis and text sizing helpers.
package normalize

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
)

// localized picks the Chinese variant for zh-prefixed language tags and the
// English variant otherwise.
func localized(language, zh, en string) string {
	if strings.HasPrefix(strings.ToLower(language), "zh") {
		return zh
	}
	return en
}

// inferDetailType classifies text by shape: two or more pipe-bearing lines
// read as a table, two or more bullet lines as a list, anything else as
// plain text.
func inferDetailType(text string) datatypes.DetailType {
	lines := strings.Split(text, "\n")
	pipeLines := 0
	bulletLines := 0
	for _, line := range lines {
		if strings.Contains(line, "|") {
			pipeLines++
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "•") {
			bulletLines++
		}
	}
	if pipeLines >= 2 {
		return datatypes.DetailTable
	}
	if bulletLines >= 2 {
		return datatypes.DetailList
	}
	return datatypes.DetailText
}

// buildDetailPayload renders a markdown body for one substep: a heading plus
// an elaboration shaped for the detail type, extended to the text floor.
func buildDetailPayload(dt datatypes.DetailType, heading, baseText, language string) datatypes.DetailPayload {
	var body string
	switch dt {
	case datatypes.DetailList:
		body = fmt.Sprintf("### %s\n\n- %s\n- %s\n- %s",
			heading, baseText,
			localized(language, "详细说明", "Detailed explanation"),
			localized(language, "补充要点", "Additional points"))
	case datatypes.DetailTable:
		body = fmt.Sprintf("### %s\n\n| %s | %s |\n|---|---|\n| %s | %s |\n| %s | %s |",
			heading,
			localized(language, "项目", "Item"),
			localized(language, "描述", "Description"),
			localized(language, "主要内容", "Main content"), baseText,
			localized(language, "关键要点", "Key points"),
			localized(language, "详细说明", "Detailed explanation"))
	default:
		body = fmt.Sprintf("### %s\n\n%s", heading, baseText)
	}
	body = extendToFloor(body, []string{baseText, heading}, MinTextFloor)
	return datatypes.DetailPayload{Format: "markdown", Body: body}
}

// buildScaffold assembles the filler pool used when a text misses the floor.
// Harvested candidates come first so extensions read like elaboration, not
// repetition.
func buildScaffold(candidates []string, description, topic, language string) []string {
	scaffold := make([]string, 0, len(candidates)+2)
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			scaffold = append(scaffold, strings.TrimSpace(c))
		}
	}
	if strings.TrimSpace(description) != "" {
		scaffold = append(scaffold, strings.TrimSpace(description))
	}
	scaffold = append(scaffold, localized(language,
		fmt.Sprintf("进一步围绕「%s」展开说明与论证。", topic),
		fmt.Sprintf("Further elaboration and supporting detail for '%s'.", topic)))
	return scaffold
}

// extendToFloor appends scaffold pieces until text reaches minRunes. Pieces
// rotate so the same filler is not glued on twice in a row; iteration is
// bounded so a pathological scaffold cannot loop forever.
func extendToFloor(text string, scaffold []string, minRunes int) string {
	if len([]rune(text)) >= minRunes {
		return text
	}
	pool := make([]string, 0, len(scaffold))
	for _, s := range scaffold {
		if strings.TrimSpace(s) != "" {
			pool = append(pool, strings.TrimSpace(s))
		}
	}
	if len(pool) == 0 {
		pool = []string{text}
	}
	var b strings.Builder
	b.WriteString(text)
	for i := 0; len([]rune(b.String())) < minRunes && i < len(pool)*4+4; i++ {
		piece := pool[i%len(pool)]
		if b.Len() > 0 && !strings.HasSuffix(b.String(), " ") {
			b.WriteString(" ")
		}
		b.WriteString(piece)
	}
	return b.String()
}

// truncateRunes cuts text to limit runes without splitting a multi-byte
// character.
func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
