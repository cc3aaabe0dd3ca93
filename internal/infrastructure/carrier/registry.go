package carrier

import (
	"fmt"
	"net/http"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

// Registry resolves the adapter of each enabled carrier.
type Registry struct {
	adapters map[domain.Carrier]ports.CarrierAdapter
}

var _ ports.AdapterProvider = (*Registry)(nil)

// NewRegistry builds adapters for the enabled entries of cfgs. All adapters
// share client.
func NewRegistry(cfgs []Config, client *http.Client) (*Registry, error) {
	r := &Registry{adapters: make(map[domain.Carrier]ports.CarrierAdapter, len(cfgs))}
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		a, err := newAdapter(cfg, client)
		if err != nil {
			return nil, err
		}
		r.adapters[cfg.Carrier] = a
	}
	return r, nil
}

func newAdapter(cfg Config, client *http.Client) (ports.CarrierAdapter, error) {
	switch cfg.Carrier {
	case domain.CarrierFedEx:
		return NewFedEx(cfg, client), nil
	case domain.CarrierUPS:
		return NewUPS(cfg, client), nil
	case domain.CarrierDHL:
		return NewDHL(cfg, client), nil
	case domain.CarrierUSPS:
		return NewUSPS(cfg, client), nil
	case domain.CarrierCanadaPost:
		return NewCanadaPost(cfg, client), nil
	case domain.CarrierPurolator:
		return NewPurolator(cfg, client), nil
	}
	return nil, fmt.Errorf("carrier registry: %w: %q", domain.ErrUnknownCarrier, cfg.Carrier)
}

// For returns the adapter of carrier, or domain.ErrCarrierDisabled.
func (r *Registry) For(carrier domain.Carrier) (ports.CarrierAdapter, error) {
	a, ok := r.adapters[carrier]
	if !ok {
		return nil, fmt.Errorf("%s: %w", carrier, domain.ErrCarrierDisabled)
	}
	return a, nil
}

// Enabled lists the carriers with an adapter, in domain.Carriers order.
func (r *Registry) Enabled() []domain.Carrier {
	var out []domain.Carrier
	for _, c := range domain.Carriers {
		if _, ok := r.adapters[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
