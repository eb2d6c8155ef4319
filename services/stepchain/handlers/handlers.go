// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the StepChain HTTP surface. Handlers are thin:
// they bind and validate, call the core packages, and map sentinel errors to
// status codes. Everything a caller can observe about a session flows
// through the poll handler's envelope.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/StepChain/services/stepchain/analysis"
	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
	"github.com/AleutianAI/StepChain/services/stepchain/engine"
	"github.com/AleutianAI/StepChain/services/stepchain/execlog"
	"github.com/AleutianAI/StepChain/services/stepchain/normalize"
	"github.com/AleutianAI/StepChain/services/stepchain/observability"
	"github.com/AleutianAI/StepChain/services/stepchain/planner"
	"github.com/AleutianAI/StepChain/services/stepchain/registry"
)

var handlersTracer = otel.Tracer("stepchain.handlers")

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "stepchain"})
}

// CreateChain registers a chain. When the caller declares no steps the
// planner generates the plan, so every registered chain is pollable.
func CreateChain(reg *registry.Registry, pl *planner.Planner, metrics *observability.EngineMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlersTracer.Start(c.Request.Context(), "handlers.create_chain",
			oteltrace.WithSpanKind(oteltrace.SpanKindServer))
		defer span.End()

		var req datatypes.CreateChainRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bad request body")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "validation failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		kind, err := datatypes.ParseTaskKind(req.TaskKind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		steps := req.Steps
		if len(steps) == 0 {
			steps = pl.GeneratePlan(ctx, req.Topic, kind, req.Language)
		}

		chainID := reg.CreateChain(req.Topic, kind, req.Language, steps, req.ReferenceSources, nil)
		metrics.RecordChainCreated(string(kind))
		span.SetAttributes(
			attribute.String("chain.id", chainID),
			attribute.Int("chain.plan_steps", len(steps)),
		)

		c.JSON(http.StatusCreated, datatypes.CreateChainResponse{
			ChainID:  chainID,
			Topic:    req.Topic,
			TaskKind: kind,
			Language: req.Language,
			Steps:    steps,
		})
	}
}

// GetChain looks a chain up, refreshing its TTL as a side effect.
func GetChain(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		chain, err := reg.GetChain(c.Param("chain_id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "chain not found"})
			return
		}
		c.JSON(http.StatusOK, chain)
	}
}

// PollChain advances a chain's session by exactly one step and journals the
// outcome. An unknown chain is a client error; the engine never fabricates a
// session for a chain the registry cannot resolve.
func PollChain(reg *registry.Registry, eng *engine.Engine, journal *execlog.Service,
	metrics *observability.EngineMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlersTracer.Start(c.Request.Context(), "handlers.poll_chain",
			oteltrace.WithSpanKind(oteltrace.SpanKindServer))
		defer span.End()

		chainID := c.Param("chain_id")
		span.SetAttributes(attribute.String("chain.id", chainID))

		var req datatypes.PollRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		chain, err := reg.GetChain(chainID)
		if err != nil {
			span.SetStatus(codes.Error, "unknown chain")
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown chain_id"})
			return
		}

		firstPoll := req.SessionID == ""
		res, err := eng.ProcessRequest(ctx, engine.Request{
			Topic:            chain.Topic,
			TaskKind:         chain.TaskKind,
			Language:         chain.Language,
			Steps:            chain.Steps,
			SessionID:        req.SessionID,
			ReferenceContent: req.ReferenceContent,
			ReferenceSources: chain.ReferenceSources,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "poll failed")
			slog.Error("handlers: poll failed", "chain_id", chainID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "poll aborted"})
			return
		}
		span.SetAttributes(
			attribute.String("session.id", res.SessionID),
			attribute.Bool("session.completed", res.IsCompleted),
		)

		if firstPoll {
			logJournal(journal.Start(chainID, res.SessionID, map[string]any{
				"topic":      chain.Topic,
				"task_kind":  string(chain.TaskKind),
				"language":   chain.Language,
				"plan_steps": len(chain.Steps),
			}))
		}

		// The finalized aggregate is normalized like any step; its payload
		// rides under "final" and the normalizer folds the run summary in.
		item := normalize.Normalize(res.Result, chain.Topic, chain.Language)
		metrics.ObserveSubsteps(len(item.Substeps))

		payload := resultPayload(res.Result)
		payload["normalized"] = item
		logJournal(journal.AppendStep(chainID, res.SessionID, res.Result, &item))
		if res.IsCompleted {
			logJournal(journal.End(chainID, res.SessionID, string(datatypes.StepFinalized), map[string]any{
				"stop_reason": res.StopReason,
			}))
		}

		c.JSON(http.StatusOK, datatypes.PollResponse{
			Result:      payload,
			IsCompleted: res.IsCompleted,
			SessionID:   res.SessionID,
		})
	}
}

// GetResult returns the most recent terminal record for a session: the
// session_end when the run finished, otherwise the latest step.
func GetResult(journal *execlog.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		chainID := c.Param("chain_id")
		sessionID := c.Query("session_id")
		if sessionID == "" {
			latest, err := journal.LatestSessionID(chainID)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "no sessions recorded for chain"})
				return
			}
			sessionID = latest
		}
		rec, ok := journal.FindLastEvent(chainID, sessionID,
			datatypes.LogTypeSessionEnd, datatypes.LogTypeStep)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no results recorded for session"})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// GetDigest returns the analysis digest for a session, defaulting to the
// chain's most recent session.
func GetDigest(digests *analysis.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		digest, err := digests.Digest(c.Param("chain_id"), c.Query("session_id"))
		if err != nil {
			if errors.Is(err, execlog.ErrNoSessions) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no sessions recorded for chain"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, digest)
	}
}

// resultPayload flattens a step result for the response envelope.
func resultPayload(result datatypes.StepResult) gin.H {
	payload := gin.H{
		"step":           result.Step,
		"step_name":      result.StepName,
		"status":         result.Status,
		"content":        result.Content,
		"quality_score":  result.QualityScore,
		"content_type":   result.ContentType,
		"execution_time": result.ExecutionTime,
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	return payload
}

// logJournal reports a journal write failure without failing the poll; the
// journal is an audit trail, not part of the response contract.
func logJournal(err error) {
	if err != nil {
		slog.Warn("handlers: journal write failed", "error", err)
	}
}
