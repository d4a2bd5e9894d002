package pcscplugin

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebfe/scard"

	"github.com/cardresource/cardres/internal/logging"
	"github.com/cardresource/cardres/internal/resource"
)

// reader is a resource.CardReader (and resource.ObservableCardReader)
// backed by a single named PC/SC reader slot.
type reader struct {
	ctx  *scard.Context
	name string

	mu        sync.Mutex
	observers []resource.CardReaderObserver
	handler   resource.CardReaderObservationExceptionHandler
	present   bool
	stopCh    chan struct{}
	running   bool
}

func newReader(ctx *scard.Context, name string) *reader {
	return &reader{ctx: ctx, name: name}
}

// Name implements resource.CardReader.
func (r *reader) Name() string { return r.name }

// IsCardPresent implements resource.CardReader with a non-blocking
// status check: GetStatusChange with a zero timeout reports the
// reader's current state without waiting for a change.
func (r *reader) IsCardPresent() (bool, error) {
	states := []scard.ReaderState{{Reader: r.name, CurrentState: scard.StateUnaware}}
	if err := r.ctx.GetStatusChange(states, 0); err != nil && err != scard.ErrTimeout {
		return false, fmt.Errorf("pcscplugin: status change for %s: %w", r.name, err)
	}
	return states[0].EventState&scard.StatePresent != 0, nil
}

// connect opens a shared connection to whatever card is currently
// seated in the reader. Callers must Disconnect when finished.
func (r *reader) connect() (*scard.Card, error) {
	card, err := r.ctx.Connect(r.name, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, fmt.Errorf("pcscplugin: connect %s: %w", r.name, err)
	}
	return card, nil
}

// AddObserver implements resource.ObservableCardReader.
func (r *reader) AddObserver(observer resource.CardReaderObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, observer)
}

// RemoveObserver implements resource.ObservableCardReader.
func (r *reader) RemoveObserver(observer resource.CardReaderObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.observers[:0]
	for _, o := range r.observers {
		if o != observer {
			kept = append(kept, o)
		}
	}
	r.observers = kept
}

// SetExceptionHandler implements resource.ObservableCardReader.
func (r *reader) SetExceptionHandler(handler resource.CardReaderObservationExceptionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

// StartCardDetection implements resource.ObservableCardReader by
// blocking on GetStatusChange in a background goroutine — the PC/SC
// equivalent of the teacher's WaitForCard poll, run in a loop instead
// of once.
func (r *reader) StartCardDetection() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	stop := r.stopCh
	r.mu.Unlock()

	go r.detectLoop(stop)
}

// StopCardDetection implements resource.ObservableCardReader.
func (r *reader) StopCardDetection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)
}

func (r *reader) detectLoop(stop chan struct{}) {
	defer logging.RecoverAndLog("pcscplugin card detection", false)

	last := scard.StateUnaware
	for {
		select {
		case <-stop:
			return
		default:
		}

		states := []scard.ReaderState{{Reader: r.name, CurrentState: last}}
		// A bounded timeout lets the loop notice StopCardDetection
		// instead of blocking on GetStatusChange forever.
		err := r.ctx.GetStatusChange(states, 1*time.Second)
		if err != nil {
			if err == scard.ErrTimeout {
				continue
			}
			r.mu.Lock()
			handler := r.handler
			r.mu.Unlock()
			if handler != nil {
				handler.OnCardReaderObservationError(r.name, err)
			}
			continue
		}
		last = states[0].EventState &^ scard.StateChanged

		present := states[0].EventState&scard.StatePresent != 0

		r.mu.Lock()
		changed := present != r.present
		r.present = present
		observers := append([]resource.CardReaderObserver(nil), r.observers...)
		r.mu.Unlock()

		if !changed {
			continue
		}

		eventType := resource.CardRemoved
		if present {
			eventType = resource.CardInserted
		}
		event := resource.CardReaderEvent{ReaderName: r.name, Type: eventType}
		for _, o := range observers {
			o.OnCardReaderEvent(event)
		}
	}
}
