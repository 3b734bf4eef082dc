// Package sync coordinates connection probing, catalog synchronization
// and balance refresh against upstream SMM providers. Connection state
// is deliberately kept in memory only: a restart resets every provider
// to unknown and the next probe or sync re-establishes the truth.
package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suitableit/smm-panel-backend/internal/db/models"
	"github.com/suitableit/smm-panel-backend/internal/telemetry"
	"github.com/suitableit/smm-panel-backend/internal/upstream"
)

// ConnectionState is the transient reachability of a provider.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateTesting      ConnectionState = "testing"
	StateUnknown      ConnectionState = "unknown"
)

// Catalog is the upstream surface the sync package needs.
type Catalog interface {
	FetchServices(ctx context.Context, p *models.Provider) ([]upstream.Service, error)
	FetchBalance(ctx context.Context, p *models.Provider) (decimal.Decimal, error)
	Probe(ctx context.Context, p *models.Provider) error
}

// ProviderLister lists probe targets.
type ProviderLister interface {
	ListNonTrashed(ctx context.Context) ([]models.Provider, error)
}

// ProbeResult is the outcome of probing one provider.
type ProbeResult struct {
	ID        int64 `json:"id"`
	Connected bool  `json:"connected"`
}

// Prober tracks per-provider connection state and verifies
// reachability on demand.
type Prober struct {
	client       Catalog
	providers    ProviderLister
	probeTimeout time.Duration

	mu     gosync.RWMutex
	states map[int64]ConnectionState
}

// NewProber creates a prober. probeTimeout bounds each individual
// connection test.
func NewProber(client Catalog, providers ProviderLister, probeTimeout time.Duration) *Prober {
	if probeTimeout <= 0 {
		probeTimeout = 15 * time.Second
	}
	return &Prober{
		client:       client,
		providers:    providers,
		probeTimeout: probeTimeout,
		states:       make(map[int64]ConnectionState),
	}
}

// State returns the last known connection state, or unknown for a
// provider that was never probed.
func (pr *Prober) State(id int64) ConnectionState {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	if s, ok := pr.states[id]; ok {
		return s
	}
	return StateUnknown
}

// setState records a state transition.
func (pr *Prober) setState(id int64, s ConnectionState) {
	pr.mu.Lock()
	pr.states[id] = s
	pr.mu.Unlock()
}

// Forget drops the state entry for a provider, e.g. after a permanent
// delete.
func (pr *Prober) Forget(id int64) {
	pr.mu.Lock()
	delete(pr.states, id)
	pr.mu.Unlock()
}

// Test probes a single provider and records the result. The returned
// error carries the upstream classification when the probe failed.
func (pr *Prober) Test(ctx context.Context, p *models.Provider) (bool, error) {
	pr.setState(p.ID, StateTesting)

	probeCtx, cancel := context.WithTimeout(ctx, pr.probeTimeout)
	defer cancel()

	err := pr.client.Probe(probeCtx, p)
	if err != nil {
		pr.setState(p.ID, StateDisconnected)
		telemetry.ConnectionProbesTotal.WithLabelValues("disconnected").Inc()
		slog.Warn("provider probe failed",
			"provider_id", p.ID,
			"provider", p.Name,
			"kind", string(upstream.KindOf(err)),
			"error", err)
		return false, err
	}

	pr.setState(p.ID, StateConnected)
	telemetry.ConnectionProbesTotal.WithLabelValues("connected").Inc()
	return true, nil
}

// TestAll probes every provider outside the trash, inactive ones
// included, and replaces the state map in one step so readers never
// observe a half-updated bulk test.
func (pr *Prober) TestAll(ctx context.Context) ([]ProbeResult, error) {
	providers, err := pr.providers.ListNonTrashed(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ProbeResult, 0, len(providers))
	fresh := make(map[int64]ConnectionState, len(providers))

	for i := range providers {
		p := &providers[i]

		probeCtx, cancel := context.WithTimeout(ctx, pr.probeTimeout)
		err := pr.client.Probe(probeCtx, p)
		cancel()

		connected := err == nil
		if connected {
			fresh[p.ID] = StateConnected
			telemetry.ConnectionProbesTotal.WithLabelValues("connected").Inc()
		} else {
			fresh[p.ID] = StateDisconnected
			telemetry.ConnectionProbesTotal.WithLabelValues("disconnected").Inc()
			slog.Warn("provider probe failed",
				"provider_id", p.ID,
				"provider", p.Name,
				"error", err)
		}

		results = append(results, ProbeResult{ID: p.ID, Connected: connected})
	}

	pr.mu.Lock()
	pr.states = fresh
	pr.mu.Unlock()

	return results, nil
}

// EnsureConnected enforces the sync precondition: a provider known to
// be disconnected fails fast, and one with unknown state gets a fresh
// probe before any sync work starts.
func (pr *Prober) EnsureConnected(ctx context.Context, p *models.Provider) error {
	switch pr.State(p.ID) {
	case StateConnected:
		return nil
	case StateDisconnected:
		return upstream.NewError(upstream.KindConnection, "Provider is not connected", nil)
	}

	connected, err := pr.Test(ctx, p)
	if err != nil {
		return err
	}
	if !connected {
		return upstream.NewError(upstream.KindConnection, "Provider is not connected", nil)
	}
	return nil
}
