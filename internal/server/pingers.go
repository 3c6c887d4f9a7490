package server

import (
	"context"
	"fmt"
)

// Prober is anything that can check its own reachability.
// *bootstrap.Controller, *embedder.OllamaEmbedder and *embedder.OpenAIEmbedder
// satisfy it.
type Prober interface {
	Ping(ctx context.Context) error
}

// namedPinger attaches a readiness label to a Prober.
type namedPinger struct {
	// name identifies the dependency in readiness responses (e.g. "index").
	name string
	// probe is the wrapped dependency.
	probe Prober
}

// NewPinger labels p for GET /api/ready.
func NewPinger(name string, p Prober) Pinger {
	return &namedPinger{name: name, probe: p}
}

// Name returns the dependency label used in readiness responses.
func (p *namedPinger) Name() string { return p.name }

// Ping delegates to the wrapped probe.
func (p *namedPinger) Ping(ctx context.Context) error {
	if err := p.probe.Ping(ctx); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}
