// Package simplugin implements a deterministic, in-memory
// resource.Plugin and resource.PoolPlugin for demos, integration
// tests, and development environments without real PC/SC hardware.
// Its reader and card population is entirely under the caller's
// control via Attach/Detach/InsertCard/RemoveCard.
package simplugin

import (
	"sync"

	"github.com/cardresource/cardres/internal/resource"
)

// smartCard is a resource.SmartCard with fixed, caller-supplied bytes.
type smartCard struct {
	selectResponse []byte
	atr            []byte
	hasATR         bool
}

func (c smartCard) SelectApplicationResponse() []byte { return c.selectResponse }
func (c smartCard) PowerOnData() ([]byte, bool)       { return c.atr, c.hasATR }

// NewSmartCard builds a resource.SmartCard from a select-application
// response and an optional ATR (power-on data).
func NewSmartCard(selectResponse, atr []byte) resource.SmartCard {
	return smartCard{selectResponse: selectResponse, atr: atr, hasATR: atr != nil}
}

// reader is an in-memory resource.CardReader whose card presence is
// toggled directly by test/demo code rather than polled from hardware.
type reader struct {
	name string

	mu      sync.Mutex
	present bool
	card    resource.SmartCard
}

func (r *reader) Name() string { return r.name }

func (r *reader) IsCardPresent() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.present, nil
}

// Plugin is an in-memory resource.Plugin (and resource.PoolPlugin) with
// a fixed set of named readers whose card presence is controlled
// programmatically.
type Plugin struct {
	name string

	mu      sync.Mutex
	readers map[string]*reader
	loaned  map[string]bool
}

// New creates an empty simulated plugin named name.
func New(name string) *Plugin {
	return &Plugin{name: name, readers: make(map[string]*reader)}
}

// Name implements resource.Plugin and resource.PoolPlugin.
func (p *Plugin) Name() string { return p.name }

// Attach adds a reader to the plugin's population with no card
// present. Safe to call again for a reader that already exists (a
// no-op in that case).
func (p *Plugin) Attach(readerName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.readers[readerName]; exists {
		return
	}
	p.readers[readerName] = &reader{name: readerName}
}

// Detach removes a reader from the plugin's population.
func (p *Plugin) Detach(readerName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.readers, readerName)
}

// InsertCard simulates a card being placed on readerName. The reader
// must already be attached.
func (p *Plugin) InsertCard(readerName string, card resource.SmartCard) {
	p.mu.Lock()
	r, ok := p.readers[readerName]
	p.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	r.present = true
	r.card = card
	r.mu.Unlock()
}

// RemoveCard simulates a card being lifted off readerName.
func (p *Plugin) RemoveCard(readerName string) {
	p.mu.Lock()
	r, ok := p.readers[readerName]
	p.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	r.present = false
	r.card = nil
	r.mu.Unlock()
}

// Readers implements resource.Plugin.
func (p *Plugin) Readers() ([]resource.CardReader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	readers := make([]resource.CardReader, 0, len(p.readers))
	for _, r := range p.readers {
		readers = append(readers, r)
	}
	return readers, nil
}

// AllocateReader implements resource.PoolPlugin by handing out an
// attached reader that isn't already on loan (map iteration order, so
// which one is not defined). readerGroupReference
// is accepted but ignored: the simulated plugin has a single pool.
func (p *Plugin) AllocateReader(_ string) (resource.CardReader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.readers {
		if !p.onLoan(r.name) {
			p.loan(r.name)
			return r, nil
		}
	}
	return nil, resource.ErrNoCardResourceAvailable
}

// ReleaseReader implements resource.PoolPlugin.
func (p *Plugin) ReleaseReader(reader resource.CardReader) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.loaned, reader.Name())
	return nil
}

func (p *Plugin) onLoan(name string) bool {
	if p.loaned == nil {
		return false
	}
	return p.loaned[name]
}

func (p *Plugin) loan(name string) {
	if p.loaned == nil {
		p.loaned = make(map[string]bool)
	}
	p.loaned[name] = true
}
