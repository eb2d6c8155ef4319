// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetPlain_Overrides(t *testing.T) {
	t.Cleanup(func() {
		plainMu.Lock()
		plainSet = false
		plainMu.Unlock()
	})

	SetPlain(true)
	assert.True(t, Plain())

	SetPlain(false)
	assert.False(t, Plain())
}

func TestPlain_RespectsNoColor(t *testing.T) {
	plainMu.Lock()
	plainSet = false
	plainMu.Unlock()

	t.Setenv("NO_COLOR", "1")
	assert.True(t, Plain())
}

func TestPlain_RespectsStepchainPlain(t *testing.T) {
	plainMu.Lock()
	plainSet = false
	plainMu.Unlock()

	t.Setenv("STEPCHAIN_PLAIN", "1")
	assert.True(t, Plain())
}

// Output helpers must not panic in either mode; they write to stdout and
// stderr which tests do not capture.
func TestHelpers_DoNotPanic(t *testing.T) {
	t.Cleanup(func() {
		plainMu.Lock()
		plainSet = false
		plainMu.Unlock()
	})

	for _, mode := range []bool{true, false} {
		SetPlain(mode)
		Title("title")
		Success("done")
		Warning("careful")
		Error("broken")
		Info("note")
		Muted("aside")
		KeyValue("chain", "chain_abc123")
		StepLine(0, "Intro", "completed", 0.712)
		StepLine(1, "Data", "failed", 0.5)
		Box("Result", "content")
	}
}
