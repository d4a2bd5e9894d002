package resource

import (
	"context"
	"errors"
	"sync"
)

// mockReader is a CardReader test double with a fluent builder,
// matching the teacher's WithReaders/WithCard/WithError style.
type mockReader struct {
	mu      sync.Mutex
	name    string
	present bool
	err     error
}

func newMockReader(name string) *mockReader { return &mockReader{name: name} }

func (r *mockReader) withCardPresent(present bool) *mockReader {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.present = present
	return r
}

func (r *mockReader) withError(err error) *mockReader {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	return r
}

func (r *mockReader) Name() string { return r.name }

func (r *mockReader) IsCardPresent() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	return r.present, nil
}

// mockSmartCard is a SmartCard test double.
type mockSmartCard struct {
	sar     []byte
	pod     []byte
	hasPOD  bool
}

func newMockSmartCard(sar string) *mockSmartCard { return &mockSmartCard{sar: []byte(sar)} }

func (c *mockSmartCard) withPowerOnData(pod string) *mockSmartCard {
	c.pod = []byte(pod)
	c.hasPOD = true
	return c
}

func (c *mockSmartCard) SelectApplicationResponse() []byte { return c.sar }
func (c *mockSmartCard) PowerOnData() ([]byte, bool)       { return c.pod, c.hasPOD }

// mockPlugin is a Plugin test double exposing a fixed reader set.
type mockPlugin struct {
	name    string
	readers []CardReader
	err     error
}

func newMockPlugin(name string, readers ...CardReader) *mockPlugin {
	return &mockPlugin{name: name, readers: readers}
}

func (p *mockPlugin) withError(err error) *mockPlugin { p.err = err; return p }
func (p *mockPlugin) Name() string                    { return p.name }
func (p *mockPlugin) Readers() ([]CardReader, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.readers, nil
}

// mockObservablePlugin is an ObservablePlugin test double that never
// actually raises events; it exists to exercise the monitoring-related
// builder wiring without needing a real background goroutine.
type mockObservablePlugin struct {
	mockPlugin
	handler PluginObservationExceptionHandler
}

func newMockObservablePlugin(name string) *mockObservablePlugin {
	return &mockObservablePlugin{mockPlugin: mockPlugin{name: name}}
}

func (p *mockObservablePlugin) AddObserver(PluginObserver)    {}
func (p *mockObservablePlugin) RemoveObserver(PluginObserver) {}
func (p *mockObservablePlugin) SetExceptionHandler(h PluginObservationExceptionHandler) {
	p.handler = h
}
func (p *mockObservablePlugin) StartReaderDetection() {}
func (p *mockObservablePlugin) StopReaderDetection()  {}

// mockPoolPlugin is a PoolPlugin test double handing out a fixed
// reader once per allocate call and tracking releases.
type mockPoolPlugin struct {
	mu        sync.Mutex
	name      string
	available []CardReader
	released  []CardReader
	err       error
}

func newMockPoolPlugin(name string, readers ...CardReader) *mockPoolPlugin {
	return &mockPoolPlugin{name: name, available: readers}
}

func (p *mockPoolPlugin) withError(err error) *mockPoolPlugin { p.err = err; return p }
func (p *mockPoolPlugin) Name() string                        { return p.name }

func (p *mockPoolPlugin) AllocateReader(groupReference string) (CardReader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if len(p.available) == 0 {
		return nil, nil
	}
	r := p.available[0]
	p.available = p.available[1:]
	return r, nil
}

func (p *mockPoolPlugin) ReleaseReader(reader CardReader) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, reader)
	p.available = append(p.available, reader)
	return nil
}

// mockExtension is a CardResourceProfileExtension test double that
// matches any card present on a reader, unless configured to reject a
// specific reader name. By default it reports the same card content
// for a reader on every call; withCardValue overrides that per reader
// to simulate a different physical card being presented.
type mockExtension struct {
	mu       sync.Mutex
	rejected map[string]bool
	cardVal  map[string]string
	err      error
}

func newMockExtension() *mockExtension {
	return &mockExtension{rejected: make(map[string]bool), cardVal: make(map[string]string)}
}

func (e *mockExtension) reject(readerName string) *mockExtension {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejected[readerName] = true
	return e
}

// withCardValue sets the card content returned for readerName until
// changed again, simulating a card swap without changing the reader.
func (e *mockExtension) withCardValue(readerName, value string) *mockExtension {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cardVal[readerName] = value
	return e
}

func (e *mockExtension) MatchCard(ctx context.Context, reader CardReader) (SmartCard, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, false, e.err
	}
	if e.rejected[reader.Name()] {
		return nil, false, nil
	}
	if v, ok := e.cardVal[reader.Name()]; ok {
		return newMockSmartCard(v), true, nil
	}
	return newMockSmartCard("card:" + reader.Name()), true, nil
}

var errMock = errors.New("mock error")
