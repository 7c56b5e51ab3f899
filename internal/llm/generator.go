// Package llm is the boundary to the external generation service.
package llm

import (
	"context"
	"errors"
)

// Tier names a model class. Nodes ask for a tier; the client resolves it to
// a concrete model id from configuration.
type Tier string

const (
	TierLite  Tier = "lite"
	TierFlash Tier = "flash"
	TierTop   Tier = "top"
)

// ErrAllModelsFailed is returned when the requested model and every model in
// its fallback chain failed.
var ErrAllModelsFailed = errors.New("llm: all models in fallback chain failed")

// Request is one generation call.
type Request struct {
	// Role identifies the calling node, used for logs and rate accounting.
	Role string
	// Model is a tier name or a concrete model id.
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Usage counts tokens for one call.
type Usage struct {
	Input  int
	Output int
}

// Generation is the result of a call.
type Generation struct {
	Text string
	// Model is the model that actually answered.
	Model    string
	Fallback bool
	Usage    Usage
}

// Generator is implemented by generation backends.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Generation, error)
}
