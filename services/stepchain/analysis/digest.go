// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis summarizes execution journals into session digests.
// Digests are pure reads over the journal; they never touch live engine
// state, so they are safe to serve while a session is still polling.
package analysis

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
	"github.com/AleutianAI/StepChain/services/stepchain/execlog"
)

// previewRunes bounds the content preview on each step digest line.
const previewRunes = 120

// StepDigest is one executed step as seen in the journal.
type StepDigest struct {
	Index        int     `json:"index"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	QualityScore float64 `json:"quality_score"`
	Preview      string  `json:"preview"`
}

// SessionDigest summarizes one session's journal.
type SessionDigest struct {
	ChainID     string       `json:"chain_id"`
	SessionID   string       `json:"session_id"`
	Status      string       `json:"status"`
	TotalSteps  int          `json:"total_steps"`
	FailedSteps int          `json:"failed_steps"`
	Events      int          `json:"events"`
	AvgQuality  float64      `json:"avg_quality"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	Steps       []StepDigest `json:"steps"`
}

// Service computes digests from the execution log read-side.
//
// Thread Safety: safe for concurrent use. Identical concurrent requests
// collapse into one journal read via singleflight; journals are append-only,
// so every caller in the flight sees a digest that was valid at read time.
type Service struct {
	log    *execlog.Service
	flight singleflight.Group
}

// New wires the digest service over an execution log.
func New(log *execlog.Service) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("analysis: execution log is required")
	}
	return &Service{log: log}, nil
}

// Digest summarizes the journal for (chainID, sessionID). An empty
// sessionID resolves to the chain's most recently written session.
func (s *Service) Digest(chainID, sessionID string) (*SessionDigest, error) {
	if sessionID == "" {
		latest, err := s.log.LatestSessionID(chainID)
		if err != nil {
			return nil, err
		}
		sessionID = latest
	}

	key := chainID + "\x00" + sessionID
	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.build(chainID, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SessionDigest), nil
}

// build reads the journal once and folds it into a digest.
func (s *Service) build(chainID, sessionID string) (*SessionDigest, error) {
	records, err := s.log.ReadRecords(chainID, sessionID)
	if err != nil {
		return nil, err
	}

	digest := &SessionDigest{
		ChainID:   chainID,
		SessionID: sessionID,
		Status:    "in_progress",
	}

	qualitySum := 0.0
	scored := 0
	for _, rec := range records {
		switch rec.Type {
		case datatypes.LogTypeSessionStart:
			ts := rec.Timestamp
			digest.StartedAt = &ts
		case datatypes.LogTypeStep:
			step := StepDigest{
				Name:    rec.StepName,
				Status:  rec.Status,
				Preview: contentPreview(rec.Content),
			}
			if rec.Step != nil {
				step.Index = *rec.Step
			}
			if rec.QualityScore != nil {
				step.QualityScore = *rec.QualityScore
				qualitySum += *rec.QualityScore
				scored++
			}
			if rec.Status == string(datatypes.StepFailed) {
				digest.FailedSteps++
			}
			digest.Steps = append(digest.Steps, step)
		case datatypes.LogTypeEvent:
			digest.Events++
		case datatypes.LogTypeSessionEnd:
			ts := rec.Timestamp
			digest.FinishedAt = &ts
			if rec.Status != "" {
				digest.Status = rec.Status
			}
		}
	}

	digest.TotalSteps = len(digest.Steps)
	if scored > 0 {
		digest.AvgQuality = qualitySum / float64(scored)
	}
	return digest, nil
}

// contentPreview renders a bounded single-line preview of a step content.
func contentPreview(content any) string {
	if content == nil {
		return ""
	}
	b, err := json.Marshal(content)
	if err != nil {
		return ""
	}
	runes := []rune(string(b))
	if len(runes) <= previewRunes {
		return string(b)
	}
	return string(runes[:previewRunes]) + "…"
}
