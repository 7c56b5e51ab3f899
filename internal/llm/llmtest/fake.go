// Package llmtest provides a scripted Generator for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"theological-agent/internal/llm"
)

// Reply is the scripted answer for one role.
type Reply struct {
	Text  string
	Usage llm.Usage
	Err   error
	Delay time.Duration
}

// Generator answers by request role. Unscripted roles get a default reply
// naming the role.
type Generator struct {
	mu      sync.Mutex
	replies map[string]Reply
	calls   []llm.Request
}

// New returns a Generator with the given replies keyed by role.
func New(replies map[string]Reply) *Generator {
	if replies == nil {
		replies = map[string]Reply{}
	}
	return &Generator{replies: replies}
}

// Set replaces the reply for a role.
func (g *Generator) Set(role string, r Reply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[role] = r
}

func (g *Generator) Generate(ctx context.Context, req llm.Request) (*llm.Generation, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	r, ok := g.replies[req.Role]
	g.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	text := r.Text
	if !ok {
		text = fmt.Sprintf("%s analysis", req.Role)
	}
	usage := r.Usage
	if usage == (llm.Usage{}) {
		usage = llm.Usage{Input: 10, Output: 20}
	}
	return &llm.Generation{Text: text, Model: req.Model, Usage: usage}, nil
}

// Calls returns the requests received so far.
func (g *Generator) Calls() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]llm.Request, len(g.calls))
	copy(out, g.calls)
	return out
}

// CallsFor counts the requests made by a role.
func (g *Generator) CallsFor(role string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.Role == role {
			n++
		}
	}
	return n
}
