package resource

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cardresource/cardres/internal/metrics"
)

// readerManager tracks the lifecycle of a single reader: whether it is
// active, whether it currently holds a matching CardResource, and
// whether that resource is locked (busy) for exclusive use by a
// caller.
//
// Every exported method takes mu for its whole duration. The original
// source left this synchronized only in a commented-out block; every
// caller here, including ProfileManager, always goes through these
// methods rather than touching state directly, so a single mutex per
// manager is sufficient and lock ordering never has to consider it
// alongside another reader's mutex.
type readerManager struct {
	mu sync.Mutex

	reader       CardReader
	pluginName   string
	usageTimeout time.Duration // 0 means unbounded
	active       bool
	busy         bool
	lockDeadline time.Time // zero value means unbounded

	cardResource    *CardResource   // the resource currently backed by a present, matching card, if any
	resourceHistory []*CardResource // every CardResource ever created for this reader, oldest first

	logf func(format string, args ...any)
}

func newReaderManager(reader CardReader, pluginName string, usageTimeout time.Duration) *readerManager {
	return &readerManager{reader: reader, pluginName: pluginName, usageTimeout: usageTimeout, logf: func(string, ...any) {}}
}

// activate transitions the manager to the Active-Free state. Called
// once when the reader is first registered with the service.
func (rm *readerManager) activate() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.active = true
	metrics.ReadersActive.Inc()
}

// deactivate transitions the manager to Inactive, discarding any held
// resource. Called when the reader disconnects.
func (rm *readerManager) deactivate() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.active {
		metrics.ReadersActive.Dec()
	}
	if rm.busy {
		metrics.ReadersBusy.Dec()
	}
	rm.active = false
	rm.busy = false
	rm.lockDeadline = time.Time{}
	rm.cardResource = nil
}

func (rm *readerManager) isActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.active
}

func (rm *readerManager) readerName() string {
	return rm.reader.Name()
}

// snapshot reports the manager's current active/busy/card-present
// state for status reporting (HTTP/WebSocket API, CLI), without
// exposing the manager itself.
func (rm *readerManager) snapshot() ReaderStatus {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return ReaderStatus{
		Name:        rm.reader.Name(),
		Plugin:      rm.pluginName,
		Active:      rm.active,
		Busy:        rm.busy,
		CardPresent: rm.cardResource != nil,
	}
}

// matches checks whether the reader currently holds a card matching
// extension, reusing the previously discovered CardResource if the
// same physical card is still present. It never locks the resource;
// callers that want exclusive use must follow up with lock.
func (rm *readerManager) matches(ctx context.Context, extension CardResourceProfileExtension) (*CardResource, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.getOrCreateCardResourceLocked(ctx, extension)
}

// lock attempts to reserve res for exclusive use. It fails if the
// reader is already busy with an unexpired lock, or if res is stale
// (no longer the manager's current CardResource). An expired usage
// timeout auto-releases the previous holder before granting the new
// lock, exactly like the source's escape hatch for callers who forgot
// to release.
func (rm *readerManager) lock(res *CardResource) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.cardResource == nil || rm.cardResource.ID() != res.ID() {
		return false
	}

	wasBusy := rm.busy
	if rm.busy {
		if rm.lockDeadline.IsZero() || time.Now().Before(rm.lockDeadline) {
			return false
		}
		// Usage timeout elapsed: force-release the stale holder.
		rm.logf("reader %s automatically unlocked: usage timeout of %s elapsed", rm.reader.Name(), rm.usageTimeout)
		metrics.UsageTimeoutReclaimsTotal.Inc()
	}

	rm.busy = true
	if rm.usageTimeout <= 0 {
		rm.lockDeadline = time.Time{}
	} else {
		rm.lockDeadline = time.Now().Add(rm.usageTimeout)
	}
	if !wasBusy {
		metrics.ReadersBusy.Inc()
	}
	return true
}

// unlock releases the current holder's exclusive lock, if any.
func (rm *readerManager) unlock() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.busy {
		metrics.ReadersBusy.Dec()
	}
	rm.busy = false
	rm.lockDeadline = time.Time{}
}

// isFree reports whether the reader holds a card and it is not
// currently locked.
func (rm *readerManager) isFree() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.cardResource != nil && !rm.busy
}

// cardResources returns every CardResource ever created for this
// reader, oldest first, for callers (tests, diagnostics) that need the
// full history rather than just the currently held one.
func (rm *readerManager) cardResources() []*CardResource {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return append([]*CardResource(nil), rm.resourceHistory...)
}

// removeCardResource discards the manager's current CardResource, if
// id matches it, clears any lock, and forgets the resource's identity
// entirely (it is dropped from the history too), so that the same
// physical card presented again is minted as a new CardResource
// rather than resurrecting the removed one. Used when a card is
// removed or a caller explicitly asks the resource be forgotten.
func (rm *readerManager) removeCardResource(id uuid.UUID) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for i, res := range rm.resourceHistory {
		if res.ID() == id {
			rm.resourceHistory = append(rm.resourceHistory[:i], rm.resourceHistory[i+1:]...)
			break
		}
	}
	if rm.cardResource != nil && rm.cardResource.ID() == id {
		if rm.busy {
			metrics.ReadersBusy.Dec()
		}
		rm.cardResource = nil
		rm.busy = false
		rm.lockDeadline = time.Time{}
	}
}

// forgetCard unconditionally clears whatever CardResource the manager
// currently holds, without changing its active/inactive state. Used
// when the reader itself reports the card physically removed.
func (rm *readerManager) forgetCard() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.busy {
		metrics.ReadersBusy.Dec()
	}
	rm.cardResource = nil
	rm.busy = false
	rm.lockDeadline = time.Time{}
}

// getOrCreateCardResourceLocked must be called with mu held. It
// consults the reader for card presence, asks extension whether the
// present card matches, and reuses the existing CardResource when the
// card is unchanged (areEquals), avoiding needlessly invalidating a
// resource callers may still be holding a reference to.
func (rm *readerManager) getOrCreateCardResourceLocked(ctx context.Context, extension CardResourceProfileExtension) (*CardResource, error) {
	present, err := rm.reader.IsCardPresent()
	if err != nil {
		return nil, err
	}
	if !present {
		if rm.busy {
			metrics.ReadersBusy.Dec()
		}
		rm.cardResource = nil
		rm.busy = false
		rm.lockDeadline = time.Time{}
		return nil, nil
	}

	smartCard, matched, err := extension.MatchCard(ctx, rm.reader)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, nil
	}

	if rm.cardResource != nil && smartCardsEquivalent(rm.cardResource.SmartCard(), smartCard) {
		return rm.cardResource, nil
	}

	// The currently held resource, if any, no longer matches: the card
	// changed. Before minting a new identity, check whether this is a
	// card the reader held before (removed and now reinserted) so that
	// re-presenting the same physical card resolves back to the same
	// CardResource rather than a fresh one every time.
	for _, existing := range rm.resourceHistory {
		if smartCardsEquivalent(existing.SmartCard(), smartCard) {
			if rm.busy {
				metrics.ReadersBusy.Dec()
			}
			rm.cardResource = existing
			rm.busy = false
			rm.lockDeadline = time.Time{}
			return existing, nil
		}
	}

	newRes, err := newCardResource(rm.reader, smartCard)
	if err != nil {
		return nil, err
	}
	if rm.busy {
		metrics.ReadersBusy.Dec()
	}
	rm.resourceHistory = append(rm.resourceHistory, newRes)
	rm.cardResource = newRes
	rm.busy = false
	rm.lockDeadline = time.Time{}
	return newRes, nil
}
