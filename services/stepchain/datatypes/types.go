// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the shared data structures for the StepChain
// service.
//
// This file contains the core domain types: chains, steps, step results,
// and the normalized outline structure returned to callers. Request and
// response DTOs live in requests.go, log record types in logrecord.go.
package datatypes

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Task Kinds
// =============================================================================

// TaskKind identifies the task family a chain belongs to. The kind selects
// the default step cap and the essential-section keywords used by the
// convergence coverage heuristic.
type TaskKind string

const (
	// TaskKindNormal is the general-purpose multi-step generation family.
	TaskKindNormal TaskKind = "normal"

	// TaskKindReport generates long-form document material.
	TaskKindReport TaskKind = "report"

	// TaskKindSlide generates slide-deck material. The API edge accepts
	// "ppt" and "pptx" as aliases for this kind.
	TaskKindSlide TaskKind = "slide"
)

// ParseTaskKind normalizes a client-supplied task kind string. An empty
// string maps to TaskKindNormal; "ppt" and "pptx" map to TaskKindSlide.
func ParseTaskKind(s string) (TaskKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(TaskKindNormal):
		return TaskKindNormal, nil
	case string(TaskKindReport):
		return TaskKindReport, nil
	case string(TaskKindSlide), "ppt", "pptx":
		return TaskKindSlide, nil
	default:
		return "", fmt.Errorf("unknown task kind %q", s)
	}
}

// IsValid reports whether k is one of the canonical task kinds.
func (k TaskKind) IsValid() bool {
	switch k {
	case TaskKindNormal, TaskKindReport, TaskKindSlide:
		return true
	}
	return false
}

// DefaultMaxSteps returns the step cap applied when a chain of this kind
// does not override max_steps.
func (k TaskKind) DefaultMaxSteps() int {
	switch k {
	case TaskKindReport:
		return 10
	case TaskKindSlide:
		return 8
	default:
		return 12
	}
}

// String implements fmt.Stringer.
func (k TaskKind) String() string { return string(k) }

// =============================================================================
// Steps
// =============================================================================

// StepDefinition is one declared step of a chain's plan.
type StepDefinition struct {
	Key         string `json:"key"`
	Title       string `json:"title" validate:"required,max=256"`
	Description string `json:"description" validate:"max=2048"`
}

// StepStatus tags the outcome of a single step execution.
type StepStatus string

const (
	// StepCompleted marks a step whose oracle call and parse succeeded.
	StepCompleted StepStatus = "completed"

	// StepFailed marks a step degraded by an oracle, parse, or internal
	// failure. Failed steps still advance the session.
	StepFailed StepStatus = "failed"

	// StepFinalized marks the synthetic aggregate emitted on convergence.
	StepFinalized StepStatus = "finalized"
)

// String implements fmt.Stringer.
func (s StepStatus) String() string { return string(s) }

// StepResult is the outcome of executing one step against the oracle.
// Content is shape-free: a JSON object, a JSON array, or wrapped raw text.
type StepResult struct {
	Step          int        `json:"step"`
	StepName      string     `json:"step_name"`
	Status        StepStatus `json:"status"`
	Content       any        `json:"content"`
	QualityScore  float64    `json:"quality_score"`
	ContentType   string     `json:"content_type"`
	ExecutionTime float64    `json:"execution_time"`
	Error         string     `json:"error,omitempty"`
}

// =============================================================================
// Chains
// =============================================================================

// ChainRecord is an immutable chain declaration held by the registry.
// Only UpdatedAt changes after creation (refreshed on lookup for TTL).
type ChainRecord struct {
	ChainID              string           `json:"chain_id"`
	Topic                string           `json:"topic"`
	TaskKind             TaskKind         `json:"task_kind"`
	Language             string           `json:"language"`
	Steps                []StepDefinition `json:"steps"`
	ReferenceSources     []string         `json:"reference_sources"`
	ReferenceMaterialIDs []string         `json:"reference_material_ids"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// =============================================================================
// Normalized Outline
// =============================================================================

// DetailType is the rendering family of a substep's detail payload.
type DetailType string

const (
	DetailText  DetailType = "text"
	DetailList  DetailType = "list"
	DetailTable DetailType = "table"
)

// DetailPayload is a rendering-ready body for one substep: a format tag
// matching the substep's DetailType plus a small markdown body.
type DetailPayload struct {
	Format string `json:"format"`
	Body   string `json:"body"`
}

// SubStep is one bounded line item of a normalized outline. ShowDetail is
// always true on normalizer output.
type SubStep struct {
	Key           string        `json:"key"`
	Text          string        `json:"text"`
	ShowDetail    bool          `json:"show_detail"`
	DetailType    DetailType    `json:"detail_type"`
	DetailPayload DetailPayload `json:"detail_payload"`
}

// OutlineItem is the only structure exposed to display callers: a bounded,
// canonical rendering of one step's arbitrary oracle output. Substeps is
// always 3 to 5 entries, with at most one DetailText among them.
type OutlineItem struct {
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Summary     string    `json:"summary"`
	Substeps    []SubStep `json:"substeps"`
}
