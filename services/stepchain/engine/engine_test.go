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
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
	"github.com/AleutianAI/StepChain/services/stepchain/oracle"
)

// fakeClock lets tests march time forward deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, client oracle.Client, opts ...Option) *Engine {
	t.Helper()
	exec, err := NewStepExecutor(client)
	require.NoError(t, err)
	eng, err := New(exec, opts...)
	require.NoError(t, err)
	return eng
}

func planOf(titles ...string) []datatypes.StepDefinition {
	steps := make([]datatypes.StepDefinition, len(titles))
	for i, title := range titles {
		steps[i] = datatypes.StepDefinition{
			Key:         fmt.Sprintf("step_%d", i+1),
			Title:       title,
			Description: "Work through " + title,
		}
	}
	return steps
}

func waitArrival(t *testing.T, mock *scriptedOracle) {
	t.Helper()
	select {
	case <-mock.arrivals:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an oracle call")
	}
}

func TestThreeStepPlanRunsToCompletion(t *testing.T) {
	mock := &scriptedOracle{responses: []string{
		`{"intro": "Q3 revenue grew twelve percent across regions"}`,
		`{"figures": {"q1": 410, "q2": 435, "q3": 487}}`,
		`{"wrap_up": ["revenue up", "churn down", "renewals steady"]}`,
	}}
	eng := newTestEngine(t, mock)

	req := Request{
		Topic:    "Quarterly Sales Review",
		TaskKind: datatypes.TaskKindNormal,
		Language: "en",
		Steps:    planOf("Intro", "Data", "Wrap"),
	}

	first, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.IsCompleted)
	require.True(t, strings.HasPrefix(first.SessionID, "sess_"))
	assert.Equal(t, 0, first.Result.Step)
	assert.Equal(t, "Intro", first.Result.StepName)
	assert.Equal(t, datatypes.StepCompleted, first.Result.Status)

	req.SessionID = first.SessionID
	second, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.False(t, second.IsCompleted)
	assert.Equal(t, 1, second.Result.Step)
	assert.Equal(t, first.SessionID, second.SessionID)

	third, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.True(t, third.IsCompleted)
	assert.Equal(t, StopReasonMaxSteps, third.StopReason)
	assert.Equal(t, datatypes.StepFinalized, third.Result.Status)
	assert.Equal(t, ContentTypeFinalization, third.Result.ContentType)
	assert.Equal(t, 2, third.Result.Step)

	content, ok := third.Result.Content.(map[string]any)
	require.True(t, ok)
	wantFinal := map[string]any{
		"wrap_up": []any{"revenue up", "churn down", "renewals steady"},
	}
	assert.Equal(t, wantFinal, content["final"])

	summary, ok := content["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, summary["total_steps"])
	avg, ok := summary["avg_quality"].(float64)
	require.True(t, ok)
	assert.Greater(t, avg, 0.0)
	assert.Less(t, avg, 1.0)

	require.Equal(t, 3, mock.calls())

	// Polling a finished session is idempotent: same aggregate, no new
	// oracle work.
	again, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.True(t, again.IsCompleted)
	assert.Equal(t, third.Result.Content, again.Result.Content)
	assert.Equal(t, 3, mock.calls())
}

func TestEmptyPlanCompletesOnFirstPoll(t *testing.T) {
	mock := &scriptedOracle{responses: []string{`{"x":1}`}}
	eng := newTestEngine(t, mock)

	res, err := eng.ProcessRequest(context.Background(), Request{
		Topic:    "Nothing To Plan",
		TaskKind: datatypes.TaskKindNormal,
		Language: "en",
	})
	require.NoError(t, err)

	require.True(t, res.IsCompleted)
	assert.Equal(t, StopReasonMaxSteps, res.StopReason)
	assert.Equal(t, 0, mock.calls())
	assert.Equal(t, 0, res.Result.Step)
	assert.InDelta(t, 0.85, res.Result.QualityScore, 1e-9)

	content := res.Result.Content.(map[string]any)
	summary := content["summary"].(map[string]any)
	assert.Equal(t, 0, summary["total_steps"])
	assert.Nil(t, content["final"])
}

func TestCursorAdvancesOncePerPoll(t *testing.T) {
	mock := &scriptedOracle{responses: []string{
		`{"p1": "aa"}`, `{"p2": "bb"}`, `{"p3": "cc"}`, `{"p4": "dd"}`,
	}}
	eng := newTestEngine(t, mock)

	req := Request{
		Topic:    "Long Topic",
		TaskKind: datatypes.TaskKindNormal,
		Language: "en",
		Steps:    planOf("One", "Two", "Three", "Four", "Five"),
	}

	var sessionID string
	for k := 1; k <= 4; k++ {
		req.SessionID = sessionID
		res, err := eng.ProcessRequest(context.Background(), req)
		require.NoError(t, err)
		require.False(t, res.IsCompleted, "poll %d should not complete", k)
		assert.Equal(t, k-1, res.Result.Step)
		sessionID = res.SessionID
	}
	assert.Equal(t, 4, mock.calls())
}

func TestDuplicateContentStopsEarly(t *testing.T) {
	mock := &scriptedOracle{responses: []string{`{"same": "thing"}`}}
	eng := newTestEngine(t, mock)

	req := Request{
		Topic:    "Repetitive Topic",
		TaskKind: datatypes.TaskKindNormal,
		Language: "en",
		Steps:    planOf("A", "B", "C", "D", "E", "F"),
	}

	res, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsCompleted)
	req.SessionID = res.SessionID

	res, err = eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsCompleted)

	res, err = eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.IsCompleted)
	assert.Equal(t, StopReasonDuplicateContent, res.StopReason)
	assert.Equal(t, 3, mock.calls())

	summary := res.Result.Content.(map[string]any)["summary"].(map[string]any)
	assert.Equal(t, 3, summary["total_steps"])
}

func TestQualityStabilityStopsEarly(t *testing.T) {
	long := strings.Repeat("x", 4200)
	mock := &scriptedOracle{responses: []string{
		fmt.Sprintf(`{"f1":"Deep Ocean Currents drive heat transport","f2":"%s","f3":"a","f4":"b","f5":"c","f6":"d","f7":"e"}`, long),
		fmt.Sprintf(`{"g1":"Deep Ocean Currents and salinity layers","g2":"%s","g3":"a","g4":"b","g5":"c","g6":"d","g7":"e"}`, long),
	}}
	eng := newTestEngine(t, mock)

	req := Request{
		Topic:    "Deep Ocean Currents",
		TaskKind: datatypes.TaskKindNormal,
		Language: "en",
		Steps:    planOf("One", "Two", "Three", "Four", "Five", "Six"),
	}

	res, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.IsCompleted)
	assert.GreaterOrEqual(t, res.Result.QualityScore, 0.85)

	req.SessionID = res.SessionID
	res, err = eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.IsCompleted)
	assert.Equal(t, StopReasonQualityStability, res.StopReason)
	assert.Equal(t, 2, mock.calls())
}

func TestStructuralCoverageStopsEarly(t *testing.T) {
	mock := &scriptedOracle{responses: []string{
		`{"title":"Q3","overview":"the quarter","content":"details","summary":"wrap"}`,
	}}
	eng := newTestEngine(t, mock)

	req := Request{
		Topic:    "Covered Topic",
		TaskKind: datatypes.TaskKindNormal,
		Language: "en",
		Steps:    planOf("One", "Two", "Three", "Four", "Five", "Six"),
	}

	res, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.IsCompleted)
	assert.Equal(t, StopReasonStructuralCoverage, res.StopReason)
	assert.Equal(t, 1, mock.calls())
}

func TestFailedStepsStillAdvanceAndConverge(t *testing.T) {
	mock := &scriptedOracle{failWith: errors.New("backend down")}
	eng := newTestEngine(t, mock)

	req := Request{
		Topic:    "Fragile Topic",
		TaskKind: datatypes.TaskKindNormal,
		Language: "en",
		Steps:    planOf("One", "Two"),
	}

	first, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.IsCompleted)
	assert.Equal(t, datatypes.StepFailed, first.Result.Status)
	assert.InDelta(t, 0.5, first.Result.QualityScore, 1e-9)

	req.SessionID = first.SessionID
	second, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.IsCompleted)
	assert.Equal(t, StopReasonMaxSteps, second.StopReason)

	summary := second.Result.Content.(map[string]any)["summary"].(map[string]any)
	assert.Equal(t, 2, summary["total_steps"])
	assert.InDelta(t, 0.5, summary["avg_quality"].(float64), 1e-9)
	assert.InDelta(t, 0.5, second.Result.QualityScore, 1e-9)
}

func TestCallerChosenSessionIDIsAdopted(t *testing.T) {
	mock := &scriptedOracle{responses: []string{`{"a":1}`, `{"b":2}`}}
	eng := newTestEngine(t, mock)

	req := Request{
		Topic:     "Bring Your Own ID",
		TaskKind:  datatypes.TaskKindNormal,
		Language:  "en",
		Steps:     planOf("One", "Two", "Three"),
		SessionID: "sess_byo1234567",
	}

	first, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sess_byo1234567", first.SessionID)
	assert.Equal(t, 0, first.Result.Step)

	second, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sess_byo1234567", second.SessionID)
	assert.Equal(t, 1, second.Result.Step)
}

func TestIdleSessionExpiresAndIsReplaced(t *testing.T) {
	clock := newFakeClock()
	mock := &scriptedOracle{responses: []string{`{"a":1}`, `{"b":2}`}}
	eng := newTestEngine(t, mock, WithClock(clock.Now), WithSessionTTL(time.Hour))

	req := Request{
		Topic:    "Perishable Topic",
		TaskKind: datatypes.TaskKindNormal,
		Language: "en",
		Steps:    planOf("One", "Two", "Three"),
	}

	first, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Result.Step)
	require.Equal(t, 1, eng.SessionCount())

	clock.Advance(61 * time.Minute)

	// The old session is swept; the same ID now names a fresh one that
	// starts over at step zero.
	req.SessionID = first.SessionID
	second, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 0, second.Result.Step)
	assert.Equal(t, 1, eng.SessionCount())
}

func TestFreshSessionSurvivesSweep(t *testing.T) {
	clock := newFakeClock()
	mock := &scriptedOracle{responses: []string{`{"a":1}`, `{"b":2}`}}
	eng := newTestEngine(t, mock, WithClock(clock.Now), WithSessionTTL(time.Hour))

	req := Request{
		Topic:    "Durable Topic",
		TaskKind: datatypes.TaskKindNormal,
		Language: "en",
		Steps:    planOf("One", "Two", "Three"),
	}

	first, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)

	req.SessionID = first.SessionID
	second, err := eng.ProcessRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Result.Step)
}

func TestSameSessionPollsSerialize(t *testing.T) {
	mock := &scriptedOracle{
		responses: []string{`{"s1":1}`, `{"s2":2}`},
		arrivals:  make(chan struct{}, 4),
		release:   make(chan struct{}),
	}
	eng := newTestEngine(t, mock)

	req := Request{
		Topic:     "Contended Topic",
		TaskKind:  datatypes.TaskKindNormal,
		Language:  "en",
		Steps:     planOf("One", "Two", "Three", "Four"),
		SessionID: "sess_shared0001",
	}

	type outcome struct {
		res *PollResult
		err error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := eng.ProcessRequest(context.Background(), req)
			results <- outcome{res, err}
		}()
	}

	// Only one poll may be inside the oracle at a time; the second call
	// arrives only after the first poll finishes end to end.
	waitArrival(t, mock)
	mock.release <- struct{}{}
	waitArrival(t, mock)
	mock.release <- struct{}{}

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		out := <-results
		require.NoError(t, out.err)
		require.False(t, out.res.IsCompleted)
		seen[out.res.Result.Step] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true}, seen)
	assert.Equal(t, 1, mock.peakConcurrency())
}

func TestDifferentSessionsRunConcurrently(t *testing.T) {
	mock := &scriptedOracle{
		responses: []string{`{"c1":1}`},
		arrivals:  make(chan struct{}, 4),
		release:   make(chan struct{}),
	}
	eng := newTestEngine(t, mock)

	base := Request{
		Topic:    "Parallel Topic",
		TaskKind: datatypes.TaskKindNormal,
		Language: "en",
		Steps:    planOf("One", "Two"),
	}

	done := make(chan error, 2)
	for _, id := range []string{"sess_parallel01", "sess_parallel02"} {
		req := base
		req.SessionID = id
		go func() {
			_, err := eng.ProcessRequest(context.Background(), req)
			done <- err
		}()
	}

	// Both polls must reach the oracle while neither has been released,
	// proving the store lock is not held across step execution.
	waitArrival(t, mock)
	waitArrival(t, mock)
	mock.release <- struct{}{}
	mock.release <- struct{}{}
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	assert.Equal(t, 2, mock.peakConcurrency())
}

func TestWaitingPollHonorsContextCancellation(t *testing.T) {
	mock := &scriptedOracle{
		responses: []string{`{"held":1}`},
		arrivals:  make(chan struct{}, 2),
		release:   make(chan struct{}),
	}
	eng := newTestEngine(t, mock)

	req := Request{
		Topic:     "Blocked Topic",
		TaskKind:  datatypes.TaskKindNormal,
		Language:  "en",
		Steps:     planOf("One", "Two"),
		SessionID: "sess_blocked001",
	}

	done := make(chan error, 1)
	go func() {
		_, err := eng.ProcessRequest(context.Background(), req)
		done <- err
	}()
	waitArrival(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.ProcessRequest(ctx, req)
	require.ErrorIs(t, err, ErrSessionLock)

	mock.release <- struct{}{}
	require.NoError(t, <-done)
}

func TestEngineRejectsBadConfig(t *testing.T) {
	exec, err := NewStepExecutor(&scriptedOracle{})
	require.NoError(t, err)

	_, err = New(exec, WithQualityThreshold(1.5))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(exec, WithStabilityWindow(-1))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(nil)
	require.ErrorIs(t, err, ErrNilExecutor)
}
