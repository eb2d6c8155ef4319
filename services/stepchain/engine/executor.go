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
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
	"github.com/AleutianAI/StepChain/services/stepchain/observability"
	"github.com/AleutianAI/StepChain/services/stepchain/oracle"
)

var executorTracer = otel.Tracer("stepchain.engine")

// Content type tags carried on step results.
const (
	// ContentTypeGeneral marks an ordinary generated step.
	ContentTypeGeneral = "general"

	// ContentTypeFallback marks a degraded result from a failed step.
	ContentTypeFallback = "fallback"

	// ContentTypeFinalization marks the aggregate built at convergence.
	ContentTypeFinalization = "finalization"
)

// stepTemperature keeps step generation tight. Planning runs hotter; see
// the planner package.
const stepTemperature float32 = 0.3

// excerptLimit bounds, in runes, how much previous content or reference
// material a prompt may carry.
const excerptLimit = 1000

// jsonValuePattern grabs the outermost brace or bracket span from prose
// that wraps a JSON payload in commentary.
var jsonValuePattern = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)

// PromptContext is everything a prompt strategy may use for one step.
// Excerpts arrive pre-bounded; builders concatenate, they do not trim.
type PromptContext struct {
	Topic           string
	TaskKind        datatypes.TaskKind
	Language        string
	StepIndex       int
	StepTitle       string
	StepDescription string

	// PreviousExcerpt is the serialized prior step content, set from the
	// second step onward.
	PreviousExcerpt string

	// ReferenceExcerpt is caller-supplied grounding material, set on the
	// first step only.
	ReferenceExcerpt string
}

// PromptBuilder renders the oracle prompt for one step. Swapping the
// builder changes prompt strategy without touching execution, parsing, or
// scoring.
type PromptBuilder interface {
	BuildStepPrompt(pc PromptContext) string
}

// ExcerptFunc bounds a text to roughly limit runes. The default cuts at
// the limit; wiring a splitter-backed implementation keeps cuts on
// sentence boundaries.
type ExcerptFunc func(text string, limit int) string

// DefaultPromptBuilder is the stock prompt strategy: topic, step framing,
// structural requirements, then whichever excerpt this step carries.
type DefaultPromptBuilder struct{}

// BuildStepPrompt implements PromptBuilder.
func (DefaultPromptBuilder) BuildStepPrompt(pc PromptContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", pc.Topic)
	fmt.Fprintf(&b, "Current step: [%s] (step %d)\n", pc.StepTitle, pc.StepIndex+1)
	fmt.Fprintf(&b, "Task kind: %s\n", pc.TaskKind)
	fmt.Fprintf(&b, "Output language: %s\n", languageLabel(pc.Language))
	if pc.StepDescription != "" {
		fmt.Fprintf(&b, "Step description: %s\n", pc.StepDescription)
	}
	b.WriteString("\nRequirements:\n")
	b.WriteString("- Respond with a single JSON object or JSON array.\n")
	b.WriteString("- Prefer structured keys such as chapters, items, or points, with 3 to 5 entries each.\n")
	b.WriteString("- Stay specific to the topic and to this step.\n")
	if pc.ReferenceExcerpt != "" {
		fmt.Fprintf(&b, "\nReference material (excerpt):\n%s\n", pc.ReferenceExcerpt)
	}
	if pc.PreviousExcerpt != "" {
		fmt.Fprintf(&b, "\nPrevious step content (excerpt):\n%s\n", pc.PreviousExcerpt)
		b.WriteString("Deepen and extend the previous content. Do not repeat it.\n")
	}
	b.WriteString("\nGive the content directly, with no explanation.")
	return b.String()
}

// languageLabel maps a language tag to the label used in prompts.
func languageLabel(language string) string {
	switch {
	case isChinese(language):
		return "中文"
	case strings.HasPrefix(strings.ToLower(language), "en"), language == "":
		return "English"
	default:
		return language
	}
}

// isChinese matches zh, zh-CN, zh-Hant, and friends.
func isChinese(language string) bool {
	return strings.HasPrefix(strings.ToLower(language), "zh")
}

// StepExecutor runs exactly one step against the oracle. It owns prompt
// assembly, response parsing, and quality scoring, and it never returns an
// error: every failure mode collapses into a degraded StepResult so a bad
// step can never abort a session.
type StepExecutor struct {
	oracle      oracle.Client
	prompts     PromptBuilder
	excerpt     ExcerptFunc
	temperature float32
	backend     string
	metrics     *observability.EngineMetrics
}

// ExecutorOption customizes a StepExecutor.
type ExecutorOption func(*StepExecutor)

// WithPromptBuilder swaps the prompt strategy.
func WithPromptBuilder(pb PromptBuilder) ExecutorOption {
	return func(e *StepExecutor) {
		if pb != nil {
			e.prompts = pb
		}
	}
}

// WithExcerptFunc swaps how prompts bound previous content and reference
// material.
func WithExcerptFunc(fn ExcerptFunc) ExecutorOption {
	return func(e *StepExecutor) {
		if fn != nil {
			e.excerpt = fn
		}
	}
}

// WithTemperature overrides the generation temperature.
func WithTemperature(t float32) ExecutorOption {
	return func(e *StepExecutor) { e.temperature = t }
}

// WithBackendLabel names the oracle backend on metrics.
func WithBackendLabel(name string) ExecutorOption {
	return func(e *StepExecutor) {
		if name != "" {
			e.backend = name
		}
	}
}

// WithExecutorMetrics attaches Prometheus metrics. A nil value leaves the
// executor unmetered.
func WithExecutorMetrics(m *observability.EngineMetrics) ExecutorOption {
	return func(e *StepExecutor) { e.metrics = m }
}

// NewStepExecutor wires an executor around the given oracle backend.
func NewStepExecutor(client oracle.Client, opts ...ExecutorOption) (*StepExecutor, error) {
	if client == nil {
		return nil, ErrNilOracle
	}
	e := &StepExecutor{
		oracle:      client,
		prompts:     DefaultPromptBuilder{},
		excerpt:     truncateExcerpt,
		temperature: stepTemperature,
		backend:     "oracle",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute runs the step at stepIndex for sess and returns its result. The
// caller holds the session's execution slot; Execute itself reads session
// state only through accessors and records nothing back.
func (e *StepExecutor) Execute(ctx context.Context, sess *Session, stepIndex int) (result datatypes.StepResult) {
	ctx, span := executorTracer.Start(ctx, "engine.execute_step")
	defer span.End()
	span.SetAttributes(
		attribute.Int("step.index", stepIndex),
		attribute.String("session.id", sess.ID),
	)

	start := time.Now()
	title := stepTitle(sess, stepIndex)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("step execution panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "step panicked")
			result = e.degraded(sess.Language, stepIndex, title, err, time.Since(start))
		}
		e.metrics.RecordStep(string(result.Status), result.ExecutionTime)
	}()

	prompt := e.prompts.BuildStepPrompt(e.promptContext(sess, stepIndex, title))

	params := oracle.GenerationParams{Temperature: oracle.Float32Ptr(e.temperature)}
	raw, err := e.oracle.Generate(ctx, prompt, params)
	elapsed := time.Since(start)
	e.metrics.RecordOracleRequest(e.backend, err == nil, elapsed.Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "oracle generation failed")
		return e.degraded(sess.Language, stepIndex, title, err, elapsed)
	}

	content := parseOracleResponse(raw, sess.Language)
	quality := ScoreContent(content, sess.Topic)
	span.SetAttributes(attribute.Float64("step.quality", quality))

	return datatypes.StepResult{
		Step:          stepIndex,
		StepName:      title,
		Status:        datatypes.StepCompleted,
		Content:       content,
		QualityScore:  quality,
		ContentType:   ContentTypeGeneral,
		ExecutionTime: round3(elapsed.Seconds()),
	}
}

// promptContext assembles the prompt inputs for one step. The first step
// carries the reference excerpt; later steps carry the previous content
// excerpt instead.
func (e *StepExecutor) promptContext(sess *Session, stepIndex int, title string) PromptContext {
	def := sess.StepDefinitionAt(stepIndex)
	pc := PromptContext{
		Topic:           sess.Topic,
		TaskKind:        sess.TaskKind,
		Language:        sess.Language,
		StepIndex:       stepIndex,
		StepTitle:       title,
		StepDescription: def.Description,
	}
	if stepIndex == 0 {
		if ref := strings.TrimSpace(sess.ReferenceContent); ref != "" {
			pc.ReferenceExcerpt = e.excerpt(ref, excerptLimit)
		}
		return pc
	}
	if prev, ok := sess.LastSerialized(); ok {
		pc.PreviousExcerpt = e.excerpt(prev, excerptLimit)
	}
	return pc
}

// degraded builds the failed-step result. Quality pins at the degraded
// score and the content carries a reader-facing message, so downstream
// normalization and convergence treat it like any other step.
func (e *StepExecutor) degraded(language string, stepIndex int, title string, err error, elapsed time.Duration) datatypes.StepResult {
	msg := "Content generation failed; a degraded result was returned."
	if isChinese(language) {
		msg = "内容生成失败，已返回降级结果。"
	}
	return datatypes.StepResult{
		Step:          stepIndex,
		StepName:      title,
		Status:        datatypes.StepFailed,
		Content:       map[string]any{"message": msg},
		QualityScore:  degradedScore,
		ContentType:   ContentTypeFallback,
		ExecutionTime: round3(elapsed.Seconds()),
		Error:         err.Error(),
	}
}

// stepTitle resolves the display title for a step, with a localized
// placeholder when the plan has no entry at that index.
func stepTitle(sess *Session, stepIndex int) string {
	def := sess.StepDefinitionAt(stepIndex)
	if strings.TrimSpace(def.Title) != "" {
		return def.Title
	}
	if isChinese(sess.Language) {
		return fmt.Sprintf("步骤%d", stepIndex+1)
	}
	return fmt.Sprintf("Step %d", stepIndex+1)
}

// parseOracleResponse turns raw oracle text into structured content. Clean
// JSON parses directly; JSON buried in prose is extracted by the outermost
// brace or bracket span; anything else is wrapped as plain text so the
// result is always renderable.
func parseOracleResponse(raw, language string) any {
	text := strings.TrimSpace(raw)
	if text == "" {
		empty := "empty response"
		if isChinese(language) {
			empty = "空响应"
		}
		return map[string]any{"text": empty}
	}

	if looksLikeJSONValue(text) {
		if v, ok := tryUnmarshal(text); ok {
			return v
		}
	}
	if m := jsonValuePattern.FindString(text); m != "" {
		if v, ok := tryUnmarshal(m); ok {
			return v
		}
	}
	return map[string]any{"text": text}
}

func looksLikeJSONValue(text string) bool {
	return (strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}")) ||
		(strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]"))
}

func tryUnmarshal(text string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	return v, true
}

// truncateExcerpt is the default ExcerptFunc: a hard cut at limit runes.
func truncateExcerpt(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
