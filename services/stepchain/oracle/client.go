package oracle

import (
	"context"
	"errors"
)

// ErrUnavailable classifies transport, timeout, and quota failures from any
// backend. The step executor absorbs these; callers above it never see one.
var ErrUnavailable = errors.New("oracle unavailable")

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client is the generation oracle: one complete, non-streaming text
// completion per call. Implementations honor ctx deadlines and wrap
// ErrUnavailable on transport/timeout/quota failures.
type Client interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Float32Ptr is a helper for building GenerationParams literals.
func Float32Ptr(v float32) *float32 { return &v }

// IntPtr is a helper for building GenerationParams literals.
func IntPtr(v int) *int { return &v }
