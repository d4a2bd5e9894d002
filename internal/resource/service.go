package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ReaderStatus is a point-in-time snapshot of one tracked reader,
// exposed to callers outside this package (HTTP/WebSocket API, CLI)
// that have no business touching a readerManager directly.
type ReaderStatus struct {
	Name        string `json:"name"`
	Plugin      string `json:"plugin"`
	Active      bool   `json:"active"`
	Busy        bool   `json:"busy"`
	CardPresent bool   `json:"cardPresent"`
}

type readerKey struct {
	plugin string
	reader string
}

type poolResourceEntry struct {
	pluginName string
	reader     CardReader
}

// Service is the process-wide card resource coordinator: it tracks
// every reader across every configured plugin, matches them against
// configured profiles, and hands out CardResources to callers of
// GetCardResource. There is exactly one Service per process, reached
// through Provider.Get().
//
// mu guards the four indexes below and the lifecycle methods
// (Configure/Start/Stop/register/unregister). GetCardResource holds mu
// only long enough to look up its profile manager; allocation itself
// contends only at each candidate reader's own lock, so one slow or
// blocking caller never stalls every other profile's allocation
// attempts. Lock ordering, when both
// are needed, is always mu before a readerManager's own mutex, never
// the reverse.
type Service struct {
	mu sync.Mutex

	started bool
	config  *Configuration

	readerManagers   map[readerKey]*readerManager
	readerPluginOf   map[string]string // reader name -> owning plugin name, for event dispatch without a full scan
	profileManagers  map[string]*profileManager
	poolCardResources map[uuid.UUID]poolResourceEntry

	logf func(format string, args ...any)
}

var (
	instance     *Service
	instanceOnce sync.Once
)

func getInstance() *Service {
	instanceOnce.Do(func() {
		instance = &Service{
			readerManagers:    make(map[readerKey]*readerManager),
			readerPluginOf:    make(map[string]string),
			profileManagers:   make(map[string]*profileManager),
			poolCardResources: make(map[uuid.UUID]poolResourceEntry),
			logf:              func(string, ...any) {},
		}
	})
	return instance
}

// SetLogger installs a printf-style sink for the service's internal
// diagnostic logging. Passing nil restores the no-op default.
func (s *Service) SetLogger(logf func(format string, args ...any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logf == nil {
		logf = func(string, ...any) {}
	}
	s.logf = logf
}

// RegisterPoolCardResource wraps a reader and smart card obtained
// directly from a pool plugin (outside the normal GetCardResource
// flow) into a trackable CardResource, so that a later
// ReleaseCardResource/RemoveCardResource call knows which pool plugin
// to hand the reader back to.
func (s *Service) RegisterPoolCardResource(pluginName string, reader CardReader, smartCard SmartCard) (*CardResource, error) {
	res, err := newCardResource(reader, smartCard)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.poolCardResources[res.ID()] = poolResourceEntry{pluginName: pluginName, reader: reader}
	s.mu.Unlock()
	return res, nil
}

// configure installs cfg as the service's configuration. Must be
// called before Start; calling it again after Start returns
// ErrIllegalState.
func (s *Service) configure(cfg *Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("%w: cannot configure while started", ErrIllegalState)
	}
	s.config = cfg
	return nil
}

// Start brings up every configured plugin and profile: readers are
// enumerated and activated (a-b), profiles are built from them (c),
// readers no profile will ever match are dropped (d), and background
// observation begins (e). Starting an already-started service is a
// no-op error.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("%w: service already started", ErrIllegalState)
	}
	if s.config == nil {
		return fmt.Errorf("%w: service not configured", ErrIllegalState)
	}

	if err := s.initializeReaderManagersLocked(); err != nil {
		return err
	}
	s.initializeCardProfileManagersLocked()
	s.removeUnusedReaderManagersLocked()
	s.startMonitoringLocked()

	s.started = true
	s.logf("card resource service started with %d readers, %d profiles", len(s.readerManagers), len(s.profileManagers))
	return nil
}

// Stop tears the service down: the started flag drops first so that
// any in-flight GetCardResource call sees a consistent world as soon
// as possible, background observation is stopped next, and finally
// every index is cleared.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return fmt.Errorf("%w: service not started", ErrIllegalState)
	}
	s.started = false

	s.stopMonitoringLocked()

	s.readerManagers = make(map[readerKey]*readerManager)
	s.readerPluginOf = make(map[string]string)
	s.profileManagers = make(map[string]*profileManager)
	s.poolCardResources = make(map[uuid.UUID]poolResourceEntry)

	s.logf("card resource service stopped")
	return nil
}

// GetCardResource resolves profileName to a CardResource, blocking
// according to the service-wide allocation mode. s.mu is held only to
// read the started flag and the profile manager; the allocation itself
// touches only that profileManager and the reader managers it walks.
func (s *Service) GetCardResource(ctx context.Context, profileName string) (*CardResource, error) {
	s.mu.Lock()
	started := s.started
	pm := s.profileManagers[profileName]
	s.mu.Unlock()

	if !started {
		return nil, fmt.Errorf("%w: service not started", ErrIllegalState)
	}
	if pm == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, profileName)
	}
	return pm.getCardResource(ctx)
}

// ReleaseCardResource returns res to its owner without discarding it:
// a regular resource's reader becomes free again for the next
// allocation; a pool resource's reader is handed back to its pool
// plugin. Releasing a resource nobody currently holds is a no-op,
// matching the source's idempotent release.
func (s *Service) ReleaseCardResource(res *CardResource) error {
	s.mu.Lock()
	if entry, ok := s.poolCardResources[res.ID()]; ok {
		delete(s.poolCardResources, res.ID())
		s.mu.Unlock()
		return s.releasePoolReader(entry)
	}
	rm := s.findReaderManagerLocked(res)
	s.mu.Unlock()

	if rm != nil {
		rm.unlock()
	}
	return nil
}

// RemoveCardResource releases res and additionally forgets it
// everywhere it might be tracked: the owning reader manager, every
// profile's candidate bookkeeping, and the pool index.
func (s *Service) RemoveCardResource(res *CardResource) error {
	if err := s.ReleaseCardResource(res); err != nil {
		return err
	}

	s.mu.Lock()
	rm := s.findReaderManagerLocked(res)
	profileManagers := make([]*profileManager, 0, len(s.profileManagers))
	for _, pm := range s.profileManagers {
		profileManagers = append(profileManagers, pm)
	}
	s.mu.Unlock()

	if rm != nil {
		rm.removeCardResource(res.ID())
	}
	for _, pm := range profileManagers {
		pm.removeCardResource(res.ID())
	}
	return nil
}

func (s *Service) releasePoolReader(entry poolResourceEntry) error {
	s.mu.Lock()
	pp := s.findPoolPluginLocked(entry.pluginName)
	s.mu.Unlock()
	if pp == nil {
		return nil
	}
	return pp.ReleaseReader(entry.reader)
}

func (s *Service) findPoolPluginLocked(name string) PoolPlugin {
	if s.config == nil || s.config.poolPlugins == nil {
		return nil
	}
	for _, pp := range s.config.poolPlugins.poolPlugins {
		if pp.Name() == name {
			return pp
		}
	}
	return nil
}

// findReaderManagerLocked scans every reader manager for the one
// currently holding res. Must be called with mu held.
func (s *Service) findReaderManagerLocked(res *CardResource) *readerManager {
	for _, rm := range s.readerManagers {
		if rm.readerName() == res.Reader().Name() {
			return rm
		}
	}
	return nil
}

// OnPluginEvent implements PluginObserver: a reader joining or leaving
// an observable plugin's population is reflected into the service's
// reader index and every affected profile.
func (s *Service) OnPluginEvent(event PluginEvent) {
	switch event.Type {
	case ReaderConnected:
		s.onReaderConnected(event.PluginName, event.ReaderName)
	case ReaderDisconnected:
		s.onReaderDisconnected(event.PluginName, event.ReaderName)
	}
}

// OnCardReaderEvent implements CardReaderObserver: a card being
// inserted into or removed from an observed reader invalidates or
// refreshes that reader's CardResource.
func (s *Service) OnCardReaderEvent(event CardReaderEvent) {
	s.mu.Lock()
	pluginName := s.readerPluginOf[event.ReaderName]
	rm := s.readerManagers[readerKey{plugin: pluginName, reader: event.ReaderName}]
	profileManagers := make([]*profileManager, 0, len(s.profileManagers))
	for _, pm := range s.profileManagers {
		profileManagers = append(profileManagers, pm)
	}
	s.mu.Unlock()

	if rm == nil {
		return
	}

	switch event.Type {
	case CardInserted:
		for _, pm := range profileManagers {
			pm.onCardInserted(rm)
		}
	case CardRemoved:
		rm.forgetCard()
	}
}

// OnPluginObservationError implements PluginObservationExceptionHandler
// for plugins that didn't supply their own.
func (s *Service) OnPluginObservationError(pluginName string, err error) {
	s.logf("plugin %s observation error: %v", pluginName, err)
}

// OnCardReaderObservationError implements
// CardReaderObservationExceptionHandler for readers that didn't supply
// their own.
func (s *Service) OnCardReaderObservationError(readerName string, err error) {
	s.logf("reader %s observation error: %v", readerName, err)
}

func (s *Service) onReaderConnected(pluginName, readerName string) {
	s.mu.Lock()
	if s.config == nil {
		s.mu.Unlock()
		return
	}
	cp, group, found := s.findConfiguredPluginLocked(pluginName)
	if !found {
		s.mu.Unlock()
		return
	}
	var reader CardReader
	for _, r := range mustReaders(cp.plugin) {
		if r.Name() == readerName {
			reader = r
			break
		}
	}
	if reader == nil {
		s.mu.Unlock()
		return
	}
	rm := s.registerReaderLocked(pluginName, reader, cp, group)
	profileManagers := make([]*profileManager, 0, len(s.profileManagers))
	for _, pm := range s.profileManagers {
		profileManagers = append(profileManagers, pm)
	}
	s.mu.Unlock()

	for _, pm := range profileManagers {
		pm.onReaderConnected(rm, pluginName)
	}
}

func (s *Service) onReaderDisconnected(pluginName, readerName string) {
	s.mu.Lock()
	key := readerKey{plugin: pluginName, reader: readerName}
	rm, ok := s.readerManagers[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.readerManagers, key)
	delete(s.readerPluginOf, readerName)
	profileManagers := make([]*profileManager, 0, len(s.profileManagers))
	for _, pm := range s.profileManagers {
		profileManagers = append(profileManagers, pm)
	}
	s.mu.Unlock()

	rm.deactivate()
	for _, pm := range profileManagers {
		pm.onReaderDisconnected(rm)
	}
}

// findConfiguredPluginLocked returns the configuredPlugin and its
// owning PluginsConfigurator group for pluginName. Must be called with
// mu held.
func (s *Service) findConfiguredPluginLocked(pluginName string) (configuredPlugin, *PluginsConfigurator, bool) {
	for _, group := range s.config.pluginGroups {
		for _, cp := range group.plugins {
			if cp.plugin.Name() == pluginName {
				return cp, group, true
			}
		}
	}
	return configuredPlugin{}, nil, false
}

// registerReaderLocked creates and activates a readerManager for
// reader, running its one-time setup hook if configured, and wiring
// background card observation if the plugin group requested it. Must
// be called with mu held.
func (s *Service) registerReaderLocked(pluginName string, reader CardReader, cp configuredPlugin, group *PluginsConfigurator) *readerManager {
	key := readerKey{plugin: pluginName, reader: reader.Name()}
	if rm, ok := s.readerManagers[key]; ok {
		return rm
	}

	if cp.readerConfigurator != nil {
		if err := cp.readerConfigurator.SetupReader(reader); err != nil {
			s.logf("reader %s setup error: %v", reader.Name(), err)
		}
	}

	rm := newReaderManager(reader, pluginName, group.usageTimeout)
	rm.logf = s.logf
	rm.activate()
	s.readerManagers[key] = rm
	s.readerPluginOf[reader.Name()] = pluginName

	if cp.withReaderMonitoring {
		if obs, ok := reader.(ObservableCardReader); ok {
			obs.AddObserver(s)
			handler := cp.readerExceptionHandler
			if handler == nil {
				handler = s
			}
			obs.SetExceptionHandler(handler)
			obs.StartCardDetection()
		}
	}

	return rm
}

func (s *Service) initializeReaderManagersLocked() error {
	for _, group := range s.config.pluginGroups {
		for _, cp := range group.plugins {
			readers, err := cp.plugin.Readers()
			if err != nil {
				return fmt.Errorf("plugin %s: %w", cp.plugin.Name(), err)
			}
			for _, reader := range readers {
				s.registerReaderLocked(cp.plugin.Name(), reader, cp, group)
			}
		}
	}
	return nil
}

func (s *Service) initializeCardProfileManagersLocked() {
	var poolPlugins []PoolPlugin
	usePoolFirst := false
	if s.config.poolPlugins != nil {
		poolPlugins = s.config.poolPlugins.poolPlugins
		usePoolFirst = s.config.poolPlugins.usePoolFirst
	}

	for _, profileCfg := range s.config.profiles {
		pm := newProfileManager(profileCfg, s.config.blocking, s.config.blockingCycle, s.config.blockingTimeout, poolPlugins, usePoolFirst, s.RegisterPoolCardResource)
		pm.logf = s.logf
		s.profileManagers[profileCfg.Name] = pm

		for key, rm := range s.readerManagers {
			pm.onReaderConnected(rm, key.plugin)
		}
	}
}

func (s *Service) removeUnusedReaderManagersLocked() {
	used := make(map[readerKey]bool)
	for key, rm := range s.readerManagers {
		for _, pm := range s.profileManagers {
			if pm.isReaderAccepted(key.plugin, rm.readerName()) {
				used[key] = true
				break
			}
		}
	}
	for key, rm := range s.readerManagers {
		if !used[key] {
			rm.deactivate()
			delete(s.readerManagers, key)
			delete(s.readerPluginOf, key.reader)
		}
	}
}

func (s *Service) startMonitoringLocked() {
	for _, group := range s.config.pluginGroups {
		for _, cp := range group.plugins {
			if !cp.withPluginMonitoring {
				continue
			}
			obs, ok := cp.plugin.(ObservablePlugin)
			if !ok {
				continue
			}
			obs.AddObserver(s)
			handler := cp.pluginExceptionHandler
			if handler == nil {
				handler = s
			}
			obs.SetExceptionHandler(handler)
			obs.StartReaderDetection()
		}
	}
}

func (s *Service) stopMonitoringLocked() {
	for _, group := range s.config.pluginGroups {
		for _, cp := range group.plugins {
			if obs, ok := cp.plugin.(ObservablePlugin); ok && cp.withPluginMonitoring {
				obs.StopReaderDetection()
				obs.RemoveObserver(s)
			}
		}
	}
	for _, rm := range s.readerManagers {
		if obs, ok := rm.reader.(ObservableCardReader); ok {
			obs.StopCardDetection()
			obs.RemoveObserver(s)
		}
	}
}

// Profiles returns the names of every profile this service was
// configured with, sorted for a stable API/CLI presentation.
func (s *Service) Profiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.profileManagers))
	for name := range s.profileManagers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReaderStatuses returns a snapshot of every reader the service
// currently tracks, sorted by name for a stable presentation.
func (s *Service) ReaderStatuses() []ReaderStatus {
	s.mu.Lock()
	managers := make([]*readerManager, 0, len(s.readerManagers))
	for _, rm := range s.readerManagers {
		managers = append(managers, rm)
	}
	s.mu.Unlock()

	statuses := make([]ReaderStatus, 0, len(managers))
	for _, rm := range managers {
		statuses = append(statuses, rm.snapshot())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// IsStarted reports whether the service has been started.
func (s *Service) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// mustReaders calls Readers and swallows the error, used from event
// paths where the plugin was just proven reachable by raising the
// event in the first place; a failure here is logged by the caller's
// nil-reader check instead of propagated.
func mustReaders(p Plugin) []CardReader {
	readers, err := p.Readers()
	if err != nil {
		return nil
	}
	return readers
}
