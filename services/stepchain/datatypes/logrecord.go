// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Log record types for the append-only execution journal. One JSON line per
// record; the file for a session is named {chain_id}__{session_id}.jsonl.
package datatypes

import "time"

// Log record types. Every record carries chain_id, session_id, and a UTC
// timestamp regardless of type.
const (
	LogTypeSessionStart = "session_start"
	LogTypeStep         = "step"
	LogTypeEvent        = "event"
	LogTypeSessionEnd   = "session_end"
)

// LogRecord is one line of a session's execution journal. Fields beyond the
// common header are populated per record type and omitted otherwise:
//
//   - session_start: Metadata
//   - step:          Step, StepName, Status, QualityScore, ContentType,
//     ExecutionTime, Content, and optionally Normalized
//   - event:         Event, Data
//   - session_end:   Status, Details
//
// Step and QualityScore are pointers so a legitimate zero (step index 0,
// score 0.0) survives omitempty.
type LogRecord struct {
	Type      string    `json:"type"`
	ChainID   string    `json:"chain_id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	Metadata map[string]any `json:"metadata,omitempty"`

	Step          *int         `json:"step,omitempty"`
	StepName      string       `json:"step_name,omitempty"`
	Status        string       `json:"status,omitempty"`
	QualityScore  *float64     `json:"quality_score,omitempty"`
	ContentType   string       `json:"content_type,omitempty"`
	ExecutionTime *float64     `json:"execution_time,omitempty"`
	Content       any          `json:"content,omitempty"`
	Normalized    *OutlineItem `json:"normalized,omitempty"`

	Event string         `json:"event,omitempty"`
	Data  map[string]any `json:"data,omitempty"`

	Details map[string]any `json:"details,omitempty"`
}
