// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
	"github.com/AleutianAI/StepChain/services/stepchain/oracle"
)

// failingOracle always errors, forcing the fallback path.
type failingOracle struct{}

func (failingOracle) Generate(ctx context.Context, prompt string, params oracle.GenerationParams) (string, error) {
	return "", errors.New("model unreachable")
}

func newTestPlanner(t *testing.T, client oracle.Client) *Planner {
	t.Helper()
	p, err := New(client, nil)
	require.NoError(t, err)
	return p
}

func TestPlanSize_StableAndBounded(t *testing.T) {
	first := PlanSize("Quarterly Sales Review", datatypes.TaskKindNormal)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, PlanSize("Quarterly Sales Review", datatypes.TaskKindNormal))
	}
	assert.GreaterOrEqual(t, first, 8)
	assert.LessOrEqual(t, first, 12)
}

func TestPlanSize_ClampedToKindCap(t *testing.T) {
	for i := 0; i < 20; i++ {
		topic := fmt.Sprintf("topic %d", i)
		assert.LessOrEqual(t, PlanSize(topic, datatypes.TaskKindSlide), 8)
		assert.LessOrEqual(t, PlanSize(topic, datatypes.TaskKindReport), 10)
	}
}

func TestGeneratePlan_ParsesOracleArray(t *testing.T) {
	response := `[
		{"key": 3, "title": "Survey the market", "description": "List the main competitors."},
		{"key": 7, "title": "Analyze pricing", "description": "Compare price points."}
	]`
	p := newTestPlanner(t, oracle.NewStaticClient(response))

	steps := p.GeneratePlan(context.Background(), "market entry", datatypes.TaskKindNormal, "en")

	require.Len(t, steps, 2)
	assert.Equal(t, "Survey the market", steps[0].Title)
	// Keys are renumbered from 1 regardless of what the oracle sent.
	assert.Equal(t, "1", steps[0].Key)
	assert.Equal(t, "2", steps[1].Key)
}

func TestGeneratePlan_ExtractsArrayFromProse(t *testing.T) {
	response := "Here is your plan:\n[{\"title\": \"Only step\", \"description\": \"d\"}]\nEnjoy."
	p := newTestPlanner(t, oracle.NewStaticClient(response))

	steps := p.GeneratePlan(context.Background(), "t", datatypes.TaskKindNormal, "en")

	require.Len(t, steps, 1)
	assert.Equal(t, "Only step", steps[0].Title)
}

func TestGeneratePlan_AcceptsStepsObjectWrapper(t *testing.T) {
	response := `{"steps": [{"title": "Wrapped", "description": ""}]}`
	p := newTestPlanner(t, oracle.NewStaticClient(response))

	steps := p.GeneratePlan(context.Background(), "t", datatypes.TaskKindNormal, "en")

	require.Len(t, steps, 1)
	assert.Equal(t, "Wrapped", steps[0].Title)
}

func TestGeneratePlan_FallsBackOnOracleError(t *testing.T) {
	p := newTestPlanner(t, failingOracle{})

	steps := p.GeneratePlan(context.Background(), "Quarterly Sales Review", datatypes.TaskKindReport, "en")

	want := PlanSize("Quarterly Sales Review", datatypes.TaskKindReport)
	require.Len(t, steps, want)
	for i, s := range steps {
		assert.Equal(t, fmt.Sprintf("%d", i+1), s.Key)
		assert.NotEmpty(t, s.Title)
	}
}

func TestGeneratePlan_FallsBackOnGarbageResponse(t *testing.T) {
	p := newTestPlanner(t, oracle.NewStaticClient("I cannot help with that."))

	steps := p.GeneratePlan(context.Background(), "t", datatypes.TaskKindSlide, "en")

	assert.Len(t, steps, PlanSize("t", datatypes.TaskKindSlide))
}

func TestGeneratePlan_CapsOversizedPlans(t *testing.T) {
	var items []string
	for i := 0; i < 30; i++ {
		items = append(items, fmt.Sprintf(`{"title": "Step %d", "description": ""}`, i))
	}
	response := "[" + strings.Join(items, ",") + "]"
	p := newTestPlanner(t, oracle.NewStaticClient(response))

	topic := "oversized"
	steps := p.GeneratePlan(context.Background(), topic, datatypes.TaskKindNormal, "en")

	assert.LessOrEqual(t, len(steps), PlanSize(topic, datatypes.TaskKindNormal)+2)
}

func TestFallbackPlan_LocalizedPlaceholders(t *testing.T) {
	p := newTestPlanner(t, failingOracle{})

	steps := p.FallbackPlan("测试主题", datatypes.TaskKindNormal, "zh", 12)

	require.Len(t, steps, 12)
	// The built-in template covers the first entries; positions past its
	// end are synthesized localized placeholders.
	last := steps[len(steps)-1]
	assert.Contains(t, last.Title, "步骤")
	assert.Contains(t, last.Description, "测试主题")
}

func TestFallbackPlan_ZeroCount(t *testing.T) {
	p := newTestPlanner(t, failingOracle{})
	assert.Empty(t, p.FallbackPlan("t", datatypes.TaskKindNormal, "en", 0))
}
