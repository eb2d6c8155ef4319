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

import "strings"

// Stop reasons reported by ShouldStop. These are stable strings: they label
// Prometheus counters and land in journal records, so renaming one is a
// breaking change for dashboards.
const (
	// StopReasonMaxSteps means the session reached its effective step cap.
	StopReasonMaxSteps = "max_steps"

	// StopReasonQualityStability means the recent window of quality scores
	// all cleared the threshold.
	StopReasonQualityStability = "quality_stability"

	// StopReasonStructuralCoverage means the accumulated content mentions
	// enough of the essential section keywords.
	StopReasonStructuralCoverage = "structural_coverage"

	// StopReasonDuplicateContent means two adjacent recent steps produced
	// identical content.
	StopReasonDuplicateContent = "duplicate_content"
)

// DefaultEssentialKeywords are the section markers the coverage rule looks
// for when the configuration does not override them.
var DefaultEssentialKeywords = []string{"title", "overview", "content", "summary", "conclusion"}

// coverageRatio is the fraction of essential keywords that must appear
// before the coverage rule fires.
const coverageRatio = 0.8

// duplicateLookback is how many trailing results the duplicate rule compares.
const duplicateLookback = 3

// ConvergenceConfig carries the tunables ShouldStop evaluates against.
// The effective step cap is min(MaxSteps, plan length): a session never
// outruns its own plan, and a short plan finishes early.
type ConvergenceConfig struct {
	// MaxSteps caps how many steps a session may execute.
	MaxSteps int

	// QualityThreshold is the minimum score for the stability rule.
	QualityThreshold float64

	// StabilityWindow is how many consecutive scores must clear the
	// threshold. Zero disables the stability rule.
	StabilityWindow int

	// EssentialKeywords drives the structural coverage rule. Empty
	// disables it.
	EssentialKeywords []string
}

// SessionSnapshot is an immutable view of a session's progress, taken under
// the session lock. ShouldStop works only on snapshots so the rules stay
// pure and testable without a live session.
type SessionSnapshot struct {
	SessionID          string
	Topic              string
	CurrentStep        int
	PlanLength         int
	QualityScores      []float64
	SerializedContents []string
}

// ShouldStop decides whether a session has converged and names the rule
// that fired. Rules are evaluated in a fixed order so the reported reason
// is deterministic when several hold at once:
//
//  1. step-count cap reached
//  2. recent quality scores stable above the threshold
//  3. essential section keywords covered
//  4. adjacent duplicate content
//
// It returns false and an empty reason when the session should keep going.
func ShouldStop(snap SessionSnapshot, cfg ConvergenceConfig) (bool, string) {
	if snap.CurrentStep >= effectiveMaxSteps(cfg.MaxSteps, snap.PlanLength) {
		return true, StopReasonMaxSteps
	}
	if qualityStable(snap.QualityScores, cfg.QualityThreshold, cfg.StabilityWindow) {
		return true, StopReasonQualityStability
	}
	if structuralCoverage(snap.SerializedContents, cfg.EssentialKeywords) {
		return true, StopReasonStructuralCoverage
	}
	if duplicateRecent(snap.SerializedContents) {
		return true, StopReasonDuplicateContent
	}
	return false, ""
}

// effectiveMaxSteps is the real cap for a session. An empty plan yields a
// cap of zero, which makes the first poll converge without executing
// anything.
func effectiveMaxSteps(maxSteps, planLength int) int {
	if planLength < maxSteps {
		return planLength
	}
	return maxSteps
}

// qualityStable reports whether the last window scores all clear the
// threshold. Fewer scores than the window means no verdict yet.
func qualityStable(scores []float64, threshold float64, window int) bool {
	if window <= 0 || len(scores) < window {
		return false
	}
	for _, s := range scores[len(scores)-window:] {
		if s < threshold {
			return false
		}
	}
	return true
}

// structuralCoverage reports whether the concatenated serialized contents
// mention at least 80% of the essential keywords (floor of one). Matching
// is case-insensitive.
func structuralCoverage(serialized []string, keywords []string) bool {
	if len(keywords) == 0 || len(serialized) == 0 {
		return false
	}
	haystack := strings.ToLower(strings.Join(serialized, "\n"))
	found := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, kw) {
			found++
		}
	}
	needed := int(coverageRatio * float64(len(keywords)))
	if needed < 1 {
		needed = 1
	}
	return found >= needed
}

// duplicateRecent reports whether any two adjacent results among the last
// three serialize to the same bytes. Serialization is canonical JSON, so
// map ordering cannot fake a difference.
func duplicateRecent(serialized []string) bool {
	if len(serialized) < duplicateLookback {
		return false
	}
	recent := serialized[len(serialized)-duplicateLookback:]
	for i := 0; i < len(recent)-1; i++ {
		if recent[i] == recent[i+1] {
			return true
		}
	}
	return false
}
