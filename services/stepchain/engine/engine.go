// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives convergent step execution. One poll runs at most
// one step, then checks whether the session has converged; callers keep
// polling until they get a finalized aggregate back.
//
// Thread Safety:
//
//	A single mutex guards the session store, so session resolution and TTL
//	sweeping are atomic with respect to each other. Per-session execution
//	slots serialize polls for the same session while polls for different
//	sessions run fully concurrently.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
	"github.com/AleutianAI/StepChain/services/stepchain/observability"
)

// DefaultSessionTTL is how long an idle session survives between polls.
const DefaultSessionTTL = time.Hour

// Defaults for the convergence tunables.
const (
	DefaultQualityThreshold = 0.85
	DefaultStabilityWindow  = 2
)

// Config holds the engine tunables. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// MaxSteps caps steps per session. Zero means use the task kind's
	// default cap (12 for normal, 10 for report, 8 for slide).
	MaxSteps int

	// QualityThreshold is the stability rule's minimum score.
	QualityThreshold float64

	// StabilityWindow is how many trailing scores the stability rule
	// inspects. Zero disables the rule.
	StabilityWindow int

	// SessionTTL is how long an idle session survives. Zero or negative
	// disables sweeping entirely, which only makes sense in tests.
	SessionTTL time.Duration

	// EssentialKeywords overrides the coverage rule's keyword set. Nil
	// means DefaultEssentialKeywords; an empty non-nil slice disables
	// the rule.
	EssentialKeywords []string
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		QualityThreshold: DefaultQualityThreshold,
		StabilityWindow:  DefaultStabilityWindow,
		SessionTTL:       DefaultSessionTTL,
	}
}

func (c Config) validate() error {
	if c.MaxSteps < 0 {
		return fmt.Errorf("%w: MaxSteps must not be negative", ErrInvalidConfig)
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("%w: QualityThreshold must be within [0, 1]", ErrInvalidConfig)
	}
	if c.StabilityWindow < 0 {
		return fmt.Errorf("%w: StabilityWindow must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Request is one poll against a chain's session.
type Request struct {
	// Topic is the subject to elaborate.
	Topic string

	// TaskKind selects prompt framing and the default step cap.
	TaskKind datatypes.TaskKind

	// Language tags which language generated text should use.
	Language string

	// Steps is the declared plan. It only matters when this poll creates
	// the session; an existing session keeps its original plan.
	Steps []datatypes.StepDefinition

	// SessionID resumes an existing session. Empty means mint a new one.
	// An unknown ID is adopted for the fresh session rather than
	// rejected, so callers can pick their own identifiers.
	SessionID string

	// ReferenceContent is optional grounding material for the first step.
	ReferenceContent string

	// ReferenceSources names where the reference content came from.
	ReferenceSources []string
}

// PollResult is what one poll produced.
type PollResult struct {
	// Result is the executed step, or the finalized aggregate once the
	// session converges.
	Result datatypes.StepResult `json:"result"`

	// IsCompleted reports whether Result is the finalized aggregate.
	IsCompleted bool `json:"is_completed"`

	// SessionID identifies the session, echoing a resumed one or naming
	// the session this poll created.
	SessionID string `json:"session_id"`

	// StopReason names the convergence rule that ended the session.
	// Empty while the session is still in progress.
	StopReason string `json:"stop_reason,omitempty"`
}

// Engine owns the session store and runs the poll loop's server side.
type Engine struct {
	mu       sync.Mutex
	store    SessionStore
	executor *StepExecutor
	cfg      Config
	clock    func() time.Time
	metrics  *observability.EngineMetrics
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSessionStore swaps the backing store.
func WithSessionStore(store SessionStore) Option {
	return func(e *Engine) {
		if store != nil {
			e.store = store
		}
	}
}

// WithMaxSteps overrides the per-session step cap. Zero restores the task
// kind defaults.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.cfg.MaxSteps = n }
}

// WithQualityThreshold overrides the stability rule's minimum score.
func WithQualityThreshold(t float64) Option {
	return func(e *Engine) { e.cfg.QualityThreshold = t }
}

// WithStabilityWindow overrides how many trailing scores the stability
// rule inspects.
func WithStabilityWindow(n int) Option {
	return func(e *Engine) { e.cfg.StabilityWindow = n }
}

// WithSessionTTL overrides how long idle sessions survive.
func WithSessionTTL(d time.Duration) Option {
	return func(e *Engine) { e.cfg.SessionTTL = d }
}

// WithEssentialKeywords overrides the coverage rule's keyword set. Pass an
// empty non-nil slice to disable the rule.
func WithEssentialKeywords(keywords []string) Option {
	return func(e *Engine) { e.cfg.EssentialKeywords = keywords }
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithEngineMetrics attaches Prometheus metrics. A nil value leaves the
// engine unmetered.
func WithEngineMetrics(m *observability.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New wires an engine around the given step executor.
func New(executor *StepExecutor, opts ...Option) (*Engine, error) {
	if executor == nil {
		return nil, ErrNilExecutor
	}
	e := &Engine{
		store:    NewMemorySessionStore(),
		executor: executor,
		cfg:      DefaultConfig(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// ProcessRequest handles one poll: resolve or create the session, run at
// most one step, and report convergence. The whole call holds the
// session's execution slot, so a second poll for the same session waits
// for this one instead of racing it.
//
// The only error it returns is the caller's context ending while waiting
// for the slot. Step failures never surface here: they come back as
// degraded results inside a normal PollResult.
func (e *Engine) ProcessRequest(ctx context.Context, req Request) (*PollResult, error) {
	ctx, span := executorTracer.Start(ctx, "engine.process_request")
	defer span.End()

	sess, created := e.resolveSession(req)
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Bool("session.created", created),
	)

	if err := sess.Acquire(ctx); err != nil {
		return nil, err
	}
	defer sess.Release()

	cfg := e.convergenceConfig(sess.TaskKind)

	// Pre-check. A session that already converged answers immediately,
	// which makes re-polling a finished session idempotent. A freshly
	// created session can land here too: an empty plan has an effective
	// cap of zero and finishes without executing anything.
	if stop, reason := ShouldStop(sess.Snapshot(), cfg); stop {
		if created {
			e.metrics.RecordConvergence(reason)
		}
		e.metrics.RecordPoll(true)
		slog.Info("engine: session converged before execution",
			"session_id", sess.ID, "reason", reason, "steps", sess.CurrentStep())
		return &PollResult{
			Result:      e.buildFinal(sess),
			IsCompleted: true,
			SessionID:   sess.ID,
			StopReason:  reason,
		}, nil
	}

	stepIndex := sess.CurrentStep()
	result := e.executor.Execute(ctx, sess, stepIndex)
	sess.AddStepResult(result, e.clock())

	if stop, reason := ShouldStop(sess.Snapshot(), cfg); stop {
		e.metrics.RecordConvergence(reason)
		e.metrics.RecordPoll(true)
		slog.Info("engine: session converged",
			"session_id", sess.ID, "reason", reason, "steps", sess.CurrentStep())
		return &PollResult{
			Result:      e.buildFinal(sess),
			IsCompleted: true,
			SessionID:   sess.ID,
			StopReason:  reason,
		}, nil
	}

	e.metrics.RecordPoll(false)
	return &PollResult{Result: result, IsCompleted: false, SessionID: sess.ID}, nil
}

// SessionCount reports how many sessions the store currently holds.
func (e *Engine) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.store.List())
}

// resolveSession sweeps expired sessions, then returns the session this
// poll addresses, creating one when the ID is absent or unknown. Sweep and
// lookup share the store mutex, so an expired session can never be handed
// out and a fresh one can never be swept.
func (e *Engine) resolveSession(req Request) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	e.sweepLocked(now)

	if req.SessionID != "" {
		if sess, ok := e.store.Get(req.SessionID); ok {
			return sess, false
		}
	}

	id := req.SessionID
	if id == "" {
		id = NewSessionID()
	}
	sess := newSession(id, req, now)
	e.store.Put(sess)
	e.metrics.SetActiveSessions(len(e.store.List()))
	slog.Info("engine: session created",
		"session_id", id, "topic", req.Topic, "task_kind", string(req.TaskKind), "plan_steps", len(req.Steps))
	return sess, true
}

// sweepLocked drops sessions idle past the TTL. Callers hold e.mu. An
// in-flight poll that loses its session here still finishes normally; it
// keeps its own reference and only the store entry disappears.
func (e *Engine) sweepLocked(now time.Time) {
	if e.cfg.SessionTTL <= 0 {
		return
	}
	evicted := 0
	for _, id := range e.store.List() {
		sess, ok := e.store.Get(id)
		if !ok {
			continue
		}
		if now.Sub(sess.LastUpdated()) > e.cfg.SessionTTL {
			e.store.Delete(id)
			evicted++
		}
	}
	if evicted > 0 {
		e.metrics.SetActiveSessions(len(e.store.List()))
		slog.Info("engine: swept expired sessions", "evicted", evicted)
	}
}

// convergenceConfig resolves per-session tunables: the step cap falls back
// to the task kind default and the keyword set to the stock list.
func (e *Engine) convergenceConfig(kind datatypes.TaskKind) ConvergenceConfig {
	maxSteps := e.cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = kind.DefaultMaxSteps()
	}
	keywords := e.cfg.EssentialKeywords
	if keywords == nil {
		keywords = DefaultEssentialKeywords
	}
	return ConvergenceConfig{
		MaxSteps:          maxSteps,
		QualityThreshold:  e.cfg.QualityThreshold,
		StabilityWindow:   e.cfg.StabilityWindow,
		EssentialKeywords: keywords,
	}
}

// buildFinal aggregates a converged session into the finalization result.
// It rebuilds from session state on every call rather than caching, so
// repeated polls after convergence return the same aggregate.
func (e *Engine) buildFinal(sess *Session) datatypes.StepResult {
	steps, avg := sess.QualitySummary()
	last, hasLast := sess.LastResult()

	quality := 0.85
	execTime := 0.0
	var finalContent any
	if hasLast {
		if last.QualityScore != 0 {
			quality = last.QualityScore
		}
		execTime = last.ExecutionTime
		finalContent = last.Content
	}

	stepIndex := steps - 1
	if stepIndex < 0 {
		stepIndex = 0
	}

	name := "Final Refinement and Summary"
	if isChinese(sess.Language) {
		name = "最终完善与总结"
	}

	return datatypes.StepResult{
		Step:     stepIndex,
		StepName: name,
		Status:   datatypes.StepFinalized,
		Content: map[string]any{
			"summary": map[string]any{
				"total_steps": steps,
				"avg_quality": round3(avg),
			},
			"final": finalContent,
		},
		QualityScore:  quality,
		ContentType:   ContentTypeFinalization,
		ExecutionTime: execTime,
	}
}
