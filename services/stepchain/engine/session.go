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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
)

// Session carries one caller's progress through a chain.
//
// Thread Safety:
//
//	Declaration fields (ID through CreatedAt) are immutable after creation
//	and safe to read without locking. Progress fields are guarded by mu and
//	reachable only through accessor methods. The execution slot (Acquire /
//	Release) serializes whole polls, not field access: two polls for the
//	same session run one after the other, while reads of a session's state
//	stay safe at any time.
type Session struct {
	mu  sync.RWMutex
	sem *semaphore.Weighted

	// ID is the unique session identifier.
	ID string `json:"id"`

	// Topic is the subject the chain elaborates.
	Topic string `json:"topic"`

	// TaskKind selects prompt framing and the default step cap.
	TaskKind datatypes.TaskKind `json:"task_kind"`

	// Language tags which language generated text should use.
	Language string `json:"language"`

	// Steps is the plan declared when the session was created. It never
	// changes afterwards, even if the chain is re-registered.
	Steps []datatypes.StepDefinition `json:"steps"`

	// ReferenceContent seeds the first step's prompt, excerpted.
	ReferenceContent string `json:"reference_content,omitempty"`

	// ReferenceSources names where the reference content came from.
	ReferenceSources []string `json:"reference_sources,omitempty"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// Progress, guarded by mu.
	currentStep   int
	stepResults   []datatypes.StepResult
	serialized    []string
	qualityScores []float64
	lastUpdated   time.Time
}

// NewSessionID builds a sess_ prefixed 12-hex identifier.
func NewSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// newSession copies the request's plan and reference material so later
// mutation by the caller cannot reach into a live session.
func newSession(id string, req Request, now time.Time) *Session {
	return &Session{
		sem:              semaphore.NewWeighted(1),
		ID:               id,
		Topic:            req.Topic,
		TaskKind:         req.TaskKind,
		Language:         req.Language,
		Steps:            append([]datatypes.StepDefinition(nil), req.Steps...),
		ReferenceContent: req.ReferenceContent,
		ReferenceSources: append([]string(nil), req.ReferenceSources...),
		CreatedAt:        now,
		lastUpdated:      now,
	}
}

// Acquire takes the session's execution slot, waiting while another poll
// holds it. It fails only when ctx ends first.
func (s *Session) Acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionLock, err)
	}
	return nil
}

// Release frees the execution slot taken by Acquire.
func (s *Session) Release() {
	s.sem.Release(1)
}

// AddStepResult records one executed step: the result, its canonical
// serialization, and its score. The cursor advances and the session's
// freshness is stamped with now.
func (s *Session) AddStepResult(result datatypes.StepResult, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepResults = append(s.stepResults, result)
	s.serialized = append(s.serialized, serializeContent(result.Content))
	s.qualityScores = append(s.qualityScores, result.QualityScore)
	s.currentStep++
	s.lastUpdated = now
}

// CurrentStep returns how many steps have been recorded so far.
func (s *Session) CurrentStep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentStep
}

// LastUpdated reports when the session last recorded a step. Sessions are
// swept on this stamp, so a converged session idles out one TTL after its
// final execution.
func (s *Session) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

// LastResult returns the most recent step result, if any.
func (s *Session) LastResult() (datatypes.StepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.stepResults) == 0 {
		return datatypes.StepResult{}, false
	}
	return s.stepResults[len(s.stepResults)-1], true
}

// LastSerialized returns the canonical serialization of the most recent
// content. Prompt building excerpts this rather than re-serializing.
func (s *Session) LastSerialized() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.serialized) == 0 {
		return "", false
	}
	return s.serialized[len(s.serialized)-1], true
}

// QualitySummary returns the recorded step count and the mean quality
// score, zero when nothing has run.
func (s *Session) QualitySummary() (steps int, avg float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.qualityScores) == 0 {
		return s.currentStep, 0
	}
	sum := 0.0
	for _, q := range s.qualityScores {
		sum += q
	}
	return s.currentStep, sum / float64(len(s.qualityScores))
}

// Snapshot copies the progress fields the convergence rules need. The copy
// is taken under the read lock; ShouldStop then runs lock-free.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scores := append([]float64(nil), s.qualityScores...)
	serialized := append([]string(nil), s.serialized...)
	return SessionSnapshot{
		SessionID:          s.ID,
		Topic:              s.Topic,
		CurrentStep:        s.currentStep,
		PlanLength:         len(s.Steps),
		QualityScores:      scores,
		SerializedContents: serialized,
	}
}

// StepDefinitionAt returns the declared step at index i. Past the end of
// the plan it returns a zero definition: the executor still runs the step
// with placeholder framing, the same way a short plan behaves when the cap
// outruns it.
func (s *Session) StepDefinitionAt(i int) datatypes.StepDefinition {
	if i < 0 || i >= len(s.Steps) {
		return datatypes.StepDefinition{}
	}
	return s.Steps[i]
}

// serializeContent renders a step content canonically. JSON with sorted
// map keys makes duplicate detection insensitive to map iteration order;
// values that refuse to marshal fall back to fmt formatting.
func serializeContent(content any) string {
	b, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return string(b)
}
