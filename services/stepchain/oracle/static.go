// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"sync/atomic"
)

// StaticClient returns a fixed response for every call. It backs the "noop"
// oracle backend for local development and smoke tests where no model is
// reachable.
type StaticClient struct {
	response string
	calls    atomic.Int64
}

func NewStaticClient(response string) *StaticClient {
	if response == "" {
		response = `{"text": "static oracle response", "points": ["point one", "point two", "point three"]}`
	}
	return &StaticClient{response: response}
}

// Generate implements the Client interface
func (s *StaticClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.calls.Add(1)
	return s.response, nil
}

// Calls reports how many generations have been served.
func (s *StaticClient) Calls() int64 { return s.calls.Load() }
