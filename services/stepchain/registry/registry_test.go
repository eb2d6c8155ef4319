// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/StepChain/services/stepchain/datatypes"
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

func testSteps() []datatypes.StepDefinition {
	return []datatypes.StepDefinition{
		{Key: "step_1", Title: "Intro", Description: "Frame the topic"},
		{Key: "step_2", Title: "Data", Description: "Gather the numbers"},
	}
}

func TestCreateAndGetChain(t *testing.T) {
	r := New()

	chainID := r.CreateChain("Quarterly Sales Review", datatypes.TaskKindReport, "en", testSteps(), []string{"q3.xlsx"}, nil)
	require.True(t, strings.HasPrefix(chainID, "chain_"))
	assert.Len(t, chainID, len("chain_")+12)

	record, err := r.GetChain(chainID)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly Sales Review", record.Topic)
	assert.Equal(t, datatypes.TaskKindReport, record.TaskKind)
	assert.Len(t, record.Steps, 2)
	assert.Equal(t, []string{"q3.xlsx"}, record.ReferenceSources)
}

func TestGetChainReturnsCopy(t *testing.T) {
	r := New()
	chainID := r.CreateChain("Topic", datatypes.TaskKindNormal, "en", testSteps(), nil, nil)

	first, err := r.GetChain(chainID)
	require.NoError(t, err)
	first.Steps[0].Title = "mutated"
	first.Topic = "mutated"

	second, err := r.GetChain(chainID)
	require.NoError(t, err)
	assert.Equal(t, "Intro", second.Steps[0].Title)
	assert.Equal(t, "Topic", second.Topic)
}

func TestGetChainUnknown(t *testing.T) {
	r := New()
	_, err := r.GetChain("chain_missing")
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestLookupRefreshesTTL(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now), WithTTL(time.Hour))

	chainID := r.CreateChain("Topic", datatypes.TaskKindNormal, "en", testSteps(), nil, nil)

	// Touch the chain every 40 minutes; it must survive well past the bare
	// TTL because each lookup refreshes updated_at.
	for i := 0; i < 4; i++ {
		clock.Advance(40 * time.Minute)
		_, err := r.GetChain(chainID)
		require.NoError(t, err)
	}
}

func TestExpiredChainEvictedOnLookup(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now), WithTTL(time.Hour))

	chainID := r.CreateChain("Topic", datatypes.TaskKindNormal, "en", testSteps(), nil, nil)
	clock.Advance(61 * time.Minute)

	_, err := r.GetChain(chainID)
	assert.ErrorIs(t, err, ErrChainNotFound)
	assert.Equal(t, 0, r.Len())
}

func TestCreateSweepsExpiredChains(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now), WithTTL(time.Hour))

	stale := r.CreateChain("Stale", datatypes.TaskKindNormal, "en", testSteps(), nil, nil)
	clock.Advance(2 * time.Hour)

	fresh := r.CreateChain("Fresh", datatypes.TaskKindNormal, "en", testSteps(), nil, nil)

	_, err := r.GetChain(stale)
	assert.ErrorIs(t, err, ErrChainNotFound)
	_, err = r.GetChain(fresh)
	assert.NoError(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestDeleteChain(t *testing.T) {
	r := New()
	chainID := r.CreateChain("Topic", datatypes.TaskKindNormal, "en", testSteps(), nil, nil)

	r.DeleteChain(chainID)
	_, err := r.GetChain(chainID)
	assert.ErrorIs(t, err, ErrChainNotFound)

	// Deleting again is a no-op.
	r.DeleteChain(chainID)
}

func TestConcurrentRegistryAccess(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ids[idx] = r.CreateChain("Topic", datatypes.TaskKindNormal, "en", testSteps(), nil, nil)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "chain IDs must be unique")
		seen[id] = true

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := r.GetChain(id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
}
