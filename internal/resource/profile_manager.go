package resource

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cardresource/cardres/internal/metrics"
)

// profileManager owns everything needed to resolve one configured
// profile to a CardResource: which plugins/readers are candidates, the
// matching extension, the allocation strategy, and (if the profile
// falls back to pool plugins) which ones and under which group
// reference.
type profileManager struct {
	mu sync.Mutex

	name                 string
	extension            CardResourceProfileExtension
	strategy             AllocationStrategy
	acceptedPluginNames  map[string]bool // empty/nil means all configured plugins accepted
	readerNameRegex      *regexp.Regexp
	readerGroupReference string
	poolPlugins          []PoolPlugin
	usePoolFirst         bool
	blocking             bool
	blockingCycle        time.Duration
	blockingTimeout      time.Duration

	candidates []*readerManager

	// registerPool hands a pool-allocated reader/card pair to the owning
	// Service so that a later ReleaseCardResource/RemoveCardResource
	// call finds it and routes the release back to the pool plugin.
	registerPool func(pluginName string, reader CardReader, smartCard SmartCard) (*CardResource, error)

	logf func(format string, args ...any)
}

func newProfileManager(cfg CardResourceProfileConfig, blocking bool, cycle, timeout time.Duration, poolPlugins []PoolPlugin, usePoolFirst bool, registerPool func(pluginName string, reader CardReader, smartCard SmartCard) (*CardResource, error)) *profileManager {
	var accepted map[string]bool
	if len(cfg.Plugins) > 0 {
		accepted = make(map[string]bool, len(cfg.Plugins))
		for _, p := range cfg.Plugins {
			accepted[p] = true
		}
	}
	if registerPool == nil {
		// No service back-reference was supplied (a profileManager built
		// directly, outside of Service.Start): fall back to minting the
		// CardResource locally, with no pool bookkeeping.
		registerPool = func(_ string, reader CardReader, smartCard SmartCard) (*CardResource, error) {
			return newCardResource(reader, smartCard)
		}
	}
	return &profileManager{
		name:                 cfg.Name,
		extension:            cfg.Extension,
		strategy:             cfg.AllocationStrategy,
		acceptedPluginNames:  accepted,
		readerNameRegex:      cfg.readerNameRegex,
		readerGroupReference: cfg.ReaderGroupReference,
		poolPlugins:          poolPlugins,
		usePoolFirst:         usePoolFirst,
		blocking:             blocking,
		blockingCycle:        cycle,
		blockingTimeout:      timeout,
		registerPool:         registerPool,
		logf:                 func(string, ...any) {},
	}
}

// isReaderAccepted decides whether a reader belonging to pluginName is
// a candidate for this profile: the plugin must be in the profile's
// accepted set (or the profile accepts every configured plugin), and
// if a reader name pattern was configured, the reader's name must
// match it.
func (pm *profileManager) isReaderAccepted(pluginName, readerName string) bool {
	if pm.acceptedPluginNames != nil && !pm.acceptedPluginNames[pluginName] {
		return false
	}
	if pm.readerNameRegex != nil && !pm.readerNameRegex.MatchString(readerName) {
		return false
	}
	return true
}

// onReaderConnected adds rm as a candidate if this profile accepts it.
// Called by the service whenever a reader is registered, regardless of
// whether the reader currently holds a matching card.
func (pm *profileManager) onReaderConnected(rm *readerManager, pluginName string) {
	if !pm.isReaderAccepted(pluginName, rm.readerName()) {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, c := range pm.candidates {
		if c == rm {
			return
		}
	}
	pm.candidates = append(pm.candidates, rm)
}

// onReaderDisconnected drops rm from the candidate list.
func (pm *profileManager) onReaderDisconnected(rm *readerManager) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for i, c := range pm.candidates {
		if c == rm {
			pm.candidates = append(pm.candidates[:i], pm.candidates[i+1:]...)
			return
		}
	}
}

// onCardInserted is a hook for observability; matching itself always
// happens lazily inside getCardResource so that a reader with a stale
// notification never becomes a false positive.
func (pm *profileManager) onCardInserted(rm *readerManager) {}

// removeCardResource forgets the given resource id everywhere it might
// still be tracked; a no-op if it belongs to another profile.
func (pm *profileManager) removeCardResource(id uuid.UUID) {
	pm.mu.Lock()
	candidates := append([]*readerManager(nil), pm.candidates...)
	pm.mu.Unlock()
	for _, c := range candidates {
		c.removeCardResource(id)
	}
}

// getCardResource resolves this profile to a free, matching
// CardResource, blocking and retrying on the configured cycle/timeout
// if the profile was configured for blocking allocation. Cancelling
// ctx during a blocking wait returns ctx.Err() instead of silently
// continuing to retry, which is this system's chosen interpretation of
// interruption handling.
func (pm *profileManager) getCardResource(ctx context.Context) (*CardResource, error) {
	var deadline time.Time
	if pm.blocking && pm.blockingTimeout > 0 {
		deadline = time.Now().Add(pm.blockingTimeout)
	}

	for {
		res, err := pm.getRegularOrPoolCardResource(ctx)
		if err != nil {
			pm.recordAllocation("error")
			return nil, err
		}
		if res != nil {
			pm.recordAllocation("success")
			return res, nil
		}

		if !pm.blocking {
			pm.recordAllocation("refused")
			return nil, ErrNoCardResourceAvailable
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			pm.recordAllocation("refused")
			return nil, ErrNoCardResourceAvailable
		}

		if err := pauseIfNeeded(ctx, pm.blockingCycle); err != nil {
			pm.recordAllocation("error")
			return nil, err
		}
	}
}

func (pm *profileManager) recordAllocation(result string) {
	metrics.AllocationsTotal.WithLabelValues(pm.name, pm.strategy.String(), result).Inc()
}

func (pm *profileManager) getRegularOrPoolCardResource(ctx context.Context) (*CardResource, error) {
	if pm.usePoolFirst && len(pm.poolPlugins) > 0 {
		if res := pm.getPoolCardResource(ctx); res != nil {
			return res, nil
		}
		return pm.getRegularCardResource(ctx)
	}

	res, err := pm.getRegularCardResource(ctx)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	if len(pm.poolPlugins) == 0 {
		return nil, nil
	}
	return pm.getPoolCardResource(ctx), nil
}

// getRegularCardResource scans the candidate readers in their current
// order, taking each candidate's own lock only for the duration of the
// match+lock attempt. This is the fix for the source's commented-out
// synchronization gap: two concurrent callers can never both walk away
// believing they hold the same reader's card.
func (pm *profileManager) getRegularCardResource(ctx context.Context) (*CardResource, error) {
	pm.mu.Lock()
	candidates := append([]*readerManager(nil), pm.candidates...)
	pm.mu.Unlock()

	for i, rm := range candidates {
		res, err := rm.matches(ctx, pm.extension)
		if err != nil {
			pm.logf("profile %s: reader %s match error: %v", pm.name, rm.readerName(), err)
			continue
		}
		if res == nil {
			continue
		}
		if !rm.lock(res) {
			continue
		}
		pm.updateCardResourcesOrder(i)
		return res, nil
	}
	return nil, nil
}

// updateCardResourcesOrder applies the profile's allocation strategy
// to the candidate list after allocatedIndex was just handed out.
func (pm *profileManager) updateCardResourcesOrder(allocatedIndex int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if allocatedIndex < 0 || allocatedIndex >= len(pm.candidates) {
		return
	}
	pm.strategy.reorder(pm.candidates, allocatedIndex)
}

// getPoolCardResource asks each configured pool plugin, in order, for
// a reader, matching a fresh CardResource against whatever it hands
// back. A pool plugin raising an error is logged and skipped, per the
// documented "PluginException swallowed" rule for pool allocation. A
// successful match is registered with the owning Service as pool-owned
// (registerPool) so that releasing it later routes back to pp rather
// than being silently dropped.
func (pm *profileManager) getPoolCardResource(ctx context.Context) *CardResource {
	for _, pp := range pm.poolPlugins {
		reader, err := pp.AllocateReader(pm.readerGroupReference)
		if err != nil {
			pm.logf("profile %s: pool plugin %s allocate error: %v", pm.name, pp.Name(), err)
			metrics.PoolAllocationsTotal.WithLabelValues(pp.Name(), "error").Inc()
			continue
		}
		if reader == nil {
			continue
		}

		smartCard, matched, err := pm.extension.MatchCard(ctx, reader)
		if err != nil || !matched {
			if relErr := pp.ReleaseReader(reader); relErr != nil {
				pm.logf("profile %s: pool plugin %s release error: %v", pm.name, pp.Name(), relErr)
			}
			metrics.PoolAllocationsTotal.WithLabelValues(pp.Name(), "refused").Inc()
			continue
		}

		res, err := pm.registerPool(pp.Name(), reader, smartCard)
		if err != nil {
			_ = pp.ReleaseReader(reader)
			metrics.PoolAllocationsTotal.WithLabelValues(pp.Name(), "error").Inc()
			continue
		}
		metrics.PoolAllocationsTotal.WithLabelValues(pp.Name(), "success").Inc()
		return res
	}
	return nil
}

// pauseIfNeeded sleeps for d or returns early with ctx.Err() if ctx is
// cancelled first.
func pauseIfNeeded(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CardResourceProfileConfig is the resolved, immutable configuration
// for one profile, produced by CardResourceProfileConfiguratorBuilder.Build.
type CardResourceProfileConfig struct {
	Name                 string
	Extension            CardResourceProfileExtension
	AllocationStrategy   AllocationStrategy
	Plugins              []string
	ReaderGroupReference string

	readerNameRegex *regexp.Regexp
}

func (c CardResourceProfileConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: profile name must not be empty", ErrIllegalArgument)
	}
	if c.Extension == nil {
		return fmt.Errorf("%w: profile %s: extension must not be nil", ErrIllegalArgument, c.Name)
	}
	return nil
}
