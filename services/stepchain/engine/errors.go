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

import "errors"

// Sentinel errors for the engine package.
var (
	// ErrNilOracle indicates the executor was constructed without a backend.
	ErrNilOracle = errors.New("oracle client is required")

	// ErrNilExecutor indicates the engine was constructed without an executor.
	ErrNilExecutor = errors.New("step executor is required")

	// ErrInvalidConfig indicates an out-of-range engine configuration value.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrSessionLock indicates the per-session lock could not be acquired,
	// which only happens when the caller's context ends while waiting.
	ErrSessionLock = errors.New("session lock not acquired")
)
