package out

import (
	"context"
	"time"
)

// =============================================================================
// Inference Port
// =============================================================================

// GenerateOptions tune one inference call. A zero Timeout falls back to the
// runner's default.
type GenerateOptions struct {
	Temperature float64
	Timeout     time.Duration
}

// InferenceRunner calls the local JSON-mode inference endpoint. Generate
// returns the raw model output string; callers own parsing. Transport
// failures are retryable, malformed model output is not.
type InferenceRunner interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	ModelName() string
}
