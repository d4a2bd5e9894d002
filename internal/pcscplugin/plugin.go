// Package pcscplugin implements a resource.Plugin backed by real PC/SC
// readers via github.com/ebfe/scard. It enumerates readers through the
// system's PC/SC resource manager and, when started, polls for readers
// being plugged or unplugged so the coordinator can pick them up
// without a restart.
package pcscplugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebfe/scard"
	"golang.org/x/time/rate"

	"github.com/cardresource/cardres/internal/logging"
	"github.com/cardresource/cardres/internal/resource"
)

// pollInterval is how often StartReaderDetection checks the reader
// list for additions/removals. These polls do not wait on the plugin's
// rate limiter, which paces only Readers() calls.
const pollInterval = 2 * time.Second

// Plugin is a resource.Plugin (and resource.ObservablePlugin) backed by
// the host's PC/SC subsystem.
type Plugin struct {
	name    string
	ctx     *scard.Context
	limiter *rate.Limiter

	mu        sync.Mutex
	observers []resource.PluginObserver
	handler   resource.PluginObservationExceptionHandler
	known     map[string]bool
	stopCh    chan struct{}
	running   bool
}

// New establishes a PC/SC context and returns a Plugin named name. The
// context stays open for the plugin's lifetime; call Close when done.
func New(name string) (*Plugin, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcscplugin: establish context: %w", err)
	}
	return &Plugin{
		name:    name,
		ctx:     ctx,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		known:   make(map[string]bool),
	}, nil
}

// Name implements resource.Plugin.
func (p *Plugin) Name() string { return p.name }

// Close releases the underlying PC/SC context.
func (p *Plugin) Close() error {
	p.StopReaderDetection()
	return p.ctx.Release()
}

// Readers implements resource.Plugin by listing every reader the PC/SC
// resource manager currently knows about.
func (p *Plugin) Readers() ([]resource.CardReader, error) {
	if err := p.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}
	names, err := p.ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("pcscplugin: list readers: %w", err)
	}
	readers := make([]resource.CardReader, 0, len(names))
	for _, n := range names {
		readers = append(readers, newReader(p.ctx, n))
	}
	return readers, nil
}

// AddObserver implements resource.ObservablePlugin.
func (p *Plugin) AddObserver(observer resource.PluginObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// RemoveObserver implements resource.ObservablePlugin.
func (p *Plugin) RemoveObserver(observer resource.PluginObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.observers[:0]
	for _, o := range p.observers {
		if o != observer {
			kept = append(kept, o)
		}
	}
	p.observers = kept
}

// SetExceptionHandler implements resource.ObservablePlugin.
func (p *Plugin) SetExceptionHandler(handler resource.PluginObservationExceptionHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// StartReaderDetection implements resource.ObservablePlugin by polling
// the PC/SC reader list on a background goroutine.
func (p *Plugin) StartReaderDetection() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stop := p.stopCh
	p.mu.Unlock()

	go p.detectLoop(stop)
}

// StopReaderDetection implements resource.ObservablePlugin.
func (p *Plugin) StopReaderDetection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	close(p.stopCh)
}

func (p *Plugin) detectLoop(stop chan struct{}) {
	defer logging.RecoverAndLog("pcscplugin reader detection", false)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Plugin) pollOnce() {
	names, err := p.ctx.ListReaders()
	if err != nil {
		p.mu.Lock()
		handler := p.handler
		p.mu.Unlock()
		if handler != nil {
			handler.OnPluginObservationError(p.name, err)
		}
		return
	}

	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}

	p.mu.Lock()
	var added, removed []string
	for n := range seen {
		if !p.known[n] {
			added = append(added, n)
		}
	}
	for n := range p.known {
		if !seen[n] {
			removed = append(removed, n)
		}
	}
	p.known = seen
	observers := append([]resource.PluginObserver(nil), p.observers...)
	p.mu.Unlock()

	for _, n := range added {
		event := resource.PluginEvent{PluginName: p.name, ReaderName: n, Type: resource.ReaderConnected}
		for _, o := range observers {
			o.OnPluginEvent(event)
		}
	}
	for _, n := range removed {
		event := resource.PluginEvent{PluginName: p.name, ReaderName: n, Type: resource.ReaderDisconnected}
		for _, o := range observers {
			o.OnPluginEvent(event)
		}
	}
}
