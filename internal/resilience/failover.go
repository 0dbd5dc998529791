package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/campusagent/internal/observe"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// ErrAllFailed is returned by [Failover.Complete] when no backend produced a
// response.
var ErrAllFailed = errors.New("resilience: all providers failed")

type backend struct {
	name     string
	provider llm.Provider
	breaker  *Breaker
}

// Failover is an [llm.Provider] that tries its backends in order, skipping
// those whose breaker is open. It is safe for concurrent use.
type Failover struct {
	backends []backend
	cfg      BreakerConfig
}

var _ llm.Provider = (*Failover)(nil)

// NewFailover returns a failover whose first choice is primary. cfg is the
// template for every backend's breaker; its Name is replaced by the backend
// name.
func NewFailover(primaryName string, primary llm.Provider, cfg BreakerConfig) *Failover {
	f := &Failover{cfg: cfg}
	f.Add(primaryName, primary)
	return f
}

// Add appends a backend tried after all previously added ones.
func (f *Failover) Add(name string, p llm.Provider) {
	cfg := f.cfg
	cfg.Name = name
	f.backends = append(f.backends, backend{name: name, provider: p, breaker: NewBreaker(cfg)})
}

// Names returns the backend names in the order they are tried.
func (f *Failover) Names() []string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.name
	}
	return names
}

// Complete returns the first successful response. A cancelled ctx stops the
// chain immediately.
func (f *Failover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var errs []error
	for _, b := range f.backends {
		var resp *llm.CompletionResponse
		err := b.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = b.provider.Complete(ctx, req)
			return err
		})
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("resilience: %s: %w", b.name, err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			observe.Logger(ctx).Debug("skipping llm backend with open circuit", "provider", b.name)
			continue
		}
		observe.Logger(ctx).Warn("llm backend failed, trying next", "provider", b.name, "err", err)
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// Capabilities reports the primary backend's capabilities.
func (f *Failover) Capabilities() llm.ModelCapabilities {
	return f.backends[0].provider.Capabilities()
}

// Check returns an error when every backend's circuit is open. It is meant
// for readiness probes.
func (f *Failover) Check(context.Context) error {
	for _, b := range f.backends {
		if b.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("resilience: circuit open for %s", strings.Join(f.Names(), ", "))
}
