// Package normalizer maps carrier-native event codes onto the canonical
// status state machine using per-carrier lookup tables.
package normalizer

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
	"github.com/99minutos/tracking-sync/internal/core/timeline"
)

//go:embed default_table.yaml
var defaultTable []byte

// KeywordRule maps a case-insensitive description substring to a status.
type KeywordRule struct {
	Contains string                 `yaml:"contains"`
	Status   domain.CanonicalStatus `yaml:"status"`
}

// CarrierTable is the lookup table of one carrier. Lookup order is codes,
// keywords (first match wins), types, default.
type CarrierTable struct {
	Codes    map[string]domain.CanonicalStatus `yaml:"codes"`
	Types    map[string]domain.CanonicalStatus `yaml:"types"`
	Keywords []KeywordRule                     `yaml:"keywords"`
	Default  domain.CanonicalStatus            `yaml:"default"`
}

// Table holds the lookup tables of every carrier.
type Table struct {
	Carriers map[domain.Carrier]*CarrierTable `yaml:"carriers"`
}

// Parse decodes and validates a YAML table. Codes and types are matched
// case-insensitively.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("normalizer: decode table: %w", err)
	}
	for carrier, ct := range t.Carriers {
		if !carrier.Valid() {
			return nil, fmt.Errorf("normalizer: table: %w: %q", domain.ErrUnknownCarrier, carrier)
		}
		if ct == nil {
			return nil, fmt.Errorf("normalizer: table: carrier %s has no rules", carrier)
		}
		if err := ct.normalize(); err != nil {
			return nil, fmt.Errorf("normalizer: table: carrier %s: %w", carrier, err)
		}
	}
	return &t, nil
}

func (ct *CarrierTable) normalize() error {
	var err error
	if ct.Codes, err = upperKeys(ct.Codes); err != nil {
		return fmt.Errorf("codes: %w", err)
	}
	if ct.Types, err = upperKeys(ct.Types); err != nil {
		return fmt.Errorf("types: %w", err)
	}
	for i, kw := range ct.Keywords {
		if strings.TrimSpace(kw.Contains) == "" {
			return fmt.Errorf("keyword %d: empty match", i)
		}
		if !kw.Status.Valid() {
			return fmt.Errorf("keyword %q: unknown status %q", kw.Contains, kw.Status)
		}
		ct.Keywords[i].Contains = strings.ToLower(kw.Contains)
	}
	if ct.Default != "" && !ct.Default.Valid() {
		return fmt.Errorf("default: unknown status %q", ct.Default)
	}
	return nil
}

func upperKeys(in map[string]domain.CanonicalStatus) (map[string]domain.CanonicalStatus, error) {
	out := make(map[string]domain.CanonicalStatus, len(in))
	for k, v := range in {
		if !v.Valid() {
			return nil, fmt.Errorf("%q: unknown status %q", k, v)
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return out, nil
}

// Default returns the embedded table.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTable reads a table file and overlays it on the embedded default. A
// carrier section in the file replaces that carrier's default rules. An empty
// path returns the default table.
func LoadTable(path string) (*Table, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("normalizer: read table: %w", err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for carrier, ct := range override.Carriers {
		base.Carriers[carrier] = ct
	}
	return base, nil
}

// Lookup resolves one raw event to a canonical status.
func (ct *CarrierTable) Lookup(ev ports.RawEvent) (domain.CanonicalStatus, bool) {
	if ct == nil {
		return "", false
	}
	if s, ok := ct.Codes[strings.ToUpper(strings.TrimSpace(ev.Code))]; ok && ev.Code != "" {
		return s, true
	}
	desc := strings.ToLower(ev.Description)
	for _, kw := range ct.Keywords {
		if strings.Contains(desc, kw.Contains) {
			return kw.Status, true
		}
	}
	if s, ok := ct.Types[strings.ToUpper(strings.TrimSpace(ev.Type))]; ok && ev.Type != "" {
		return s, true
	}
	if ct.Default != "" {
		return ct.Default, true
	}
	return "", false
}

var statusDescriptions = map[domain.CanonicalStatus]string{
	domain.StatusLabelCreated:   "Shipping label created",
	domain.StatusPickedUp:       "Picked up by carrier",
	domain.StatusInTransit:      "In transit",
	domain.StatusOutForDelivery: "Out for delivery",
	domain.StatusDelivered:      "Delivered",
	domain.StatusException:      "Delivery exception",
	domain.StatusReturned:       "Returned to sender",
	domain.StatusCancelled:      "Shipment cancelled",
}

// Normalizer turns adapter events into merge candidates.
type Normalizer struct {
	table *Table
	log   zerolog.Logger
}

// New builds a Normalizer over table.
func New(table *Table, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		table: table,
		log:   log.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize maps every raw event to a candidate in adapter order. Events with
// a malformed timestamp or no mapping become error candidates so the merger
// can drop them individually.
func (n *Normalizer) Normalize(carrier domain.Carrier, raw []ports.RawEvent) []timeline.Candidate {
	ct := n.table.Carriers[carrier]
	out := make([]timeline.Candidate, 0, len(raw))
	for _, ev := range raw {
		c := timeline.Candidate{Event: domain.TrackingEvent{
			Timestamp:            ev.Timestamp,
			CarrierCode:          ev.Code,
			CarrierDescription:   ev.Description,
			ExceptionCode:        ev.ExceptionCode,
			ExceptionDescription: ev.ExceptionDescription,
			SignatureName:        ev.SignatureName,
			Location:             n.location(carrier, ev.Location),
			RawData:              ev.Raw,
		}}

		if ev.TimestampErr != nil {
			c.Err = ev.TimestampErr
			out = append(out, c)
			continue
		}

		status, ok := ct.Lookup(ev)
		if !ok {
			c.Err = fmt.Errorf("%w: %s code=%q type=%q", domain.ErrUnmappedStatus, carrier, ev.Code, ev.Type)
			out = append(out, c)
			continue
		}
		c.Event.Status = status
		c.Event.Exception = status == domain.StatusException || ev.ExceptionCode != ""
		c.Event.Description = statusDescriptions[status]
		out = append(out, c)
	}
	return out
}

// location copies l and strips coordinates that are out of range.
func (n *Normalizer) location(carrier domain.Carrier, l *domain.Location) *domain.Location {
	if l.IsZero() {
		return nil
	}
	loc := *l
	if l.Coordinates != nil {
		coords := *l.Coordinates
		loc.Coordinates = &coords
		if err := coords.Validate(); err != nil {
			n.log.Debug().Err(err).Str("carrier", string(carrier)).Msg("discarding coordinates")
			loc.Coordinates = nil
		}
	}
	if loc.IsZero() {
		return nil
	}
	return &loc
}
