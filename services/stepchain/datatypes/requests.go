// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Request and response types for the StepChain HTTP surface.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxReferenceSources caps the number of reference source names a chain
	// may declare.
	MaxReferenceSources = 5

	// MaxReferenceContentBytes caps the raw reference material accepted on a
	// poll. Only a bounded excerpt ever reaches the oracle; the limit exists
	// to keep request bodies from exhausting memory.
	MaxReferenceContentBytes = 256 * 1024 // 256KB

	// MaxDeclaredSteps caps an explicitly declared plan. Generated plans are
	// far smaller (8 to 12 steps).
	MaxDeclaredSteps = 64
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// stepchainValidate is the validator instance for StepChain datatypes.
// Initialized in init() with custom validators.
var stepchainValidate *validator.Validate

func init() {
	stepchainValidate = validator.New()

	_ = stepchainValidate.RegisterValidation("taskkind", validateTaskKind)
	_ = stepchainValidate.RegisterValidation("maxrefbytes", validateMaxRefBytes)
}

// validateTaskKind accepts any string ParseTaskKind recognizes, including
// the ppt/pptx aliases and the empty string.
func validateTaskKind(fl validator.FieldLevel) bool {
	_, err := ParseTaskKind(fl.Field().String())
	return err == nil
}

// validateMaxRefBytes checks byte length, not rune count, so oversized
// multi-byte payloads cannot slip under the limit.
func validateMaxRefBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxReferenceContentBytes
}

// =============================================================================
// Chain Creation
// =============================================================================

// CreateChainRequest registers a new chain. Steps may be omitted, in which
// case the planner generates a plan for the topic and task kind.
type CreateChainRequest struct {
	Topic            string           `json:"topic" validate:"required,min=2,max=512"`
	TaskKind         string           `json:"task_kind" validate:"taskkind"`
	Language         string           `json:"language" validate:"max=32"`
	Steps            []StepDefinition `json:"steps" validate:"max=64,dive"`
	ReferenceSources []string         `json:"reference_sources" validate:"max=5,dive,max=2048"`
}

// Validate validates the request after JSON binding.
func (r *CreateChainRequest) Validate() error {
	return stepchainValidate.Struct(r)
}

// EnsureDefaults populates default values for optional fields.
func (r *CreateChainRequest) EnsureDefaults() {
	if r.TaskKind == "" {
		r.TaskKind = string(TaskKindNormal)
	}
	if r.Language == "" {
		r.Language = "en"
	}
}

// CreateChainResponse returns the registered chain identity and the plan the
// engine will execute, renumbered from 1.
type CreateChainResponse struct {
	ChainID  string           `json:"chain_id"`
	Topic    string           `json:"topic"`
	TaskKind TaskKind         `json:"task_kind"`
	Language string           `json:"language"`
	Steps    []StepDefinition `json:"steps"`
}

// =============================================================================
// Polling
// =============================================================================

// PollRequest advances a chain's session by exactly one step. SessionID is
// omitted on the first poll; the response returns the id to supply on
// subsequent polls. ReferenceContent is optional raw material used only for
// the first step's prompt excerpt.
type PollRequest struct {
	SessionID        string `json:"session_id" validate:"omitempty,max=64"`
	ReferenceContent string `json:"reference_content" validate:"maxrefbytes"`
}

// Validate validates the request after JSON binding.
func (r *PollRequest) Validate() error {
	return stepchainValidate.Struct(r)
}

// PollResponse is the envelope every poll returns, completed or not. Result
// is an intermediate step payload until IsCompleted, then the final
// aggregate.
type PollResponse struct {
	Result      any    `json:"result"`
	IsCompleted bool   `json:"is_completed"`
	SessionID   string `json:"session_id"`
}
