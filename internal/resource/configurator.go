package resource

import (
	"fmt"
	"time"
)

// DefaultCycleDuration is the poll interval used by blocking
// allocation mode when the caller doesn't override it.
const DefaultCycleDuration = 100 * time.Millisecond

// ConfiguratorBuilder assembles a Configuration and, on Configure(),
// applies it to the process-wide Service singleton. WithPoolPlugins
// and WithBlockingAllocationMode may each be called at most once;
// WithPlugins and WithCardResourceProfiles accept repeated calls, with
// profile names unique across all calls. Call Configure() last.
type ConfiguratorBuilder struct {
	pluginGroups         []*PluginsConfigurator
	poolPlugins          *PoolPluginsConfigurator
	poolPluginsSet       bool
	profiles             []CardResourceProfileConfig
	profileNames         map[string]bool
	blocking             bool
	blockingSet          bool
	blockingCycle        time.Duration
	blockingTimeout      time.Duration
}

// NewConfiguratorBuilder starts a new top-level configurator.
func NewConfiguratorBuilder() *ConfiguratorBuilder {
	return &ConfiguratorBuilder{profileNames: make(map[string]bool)}
}

// WithPlugins adds a group of regular plugins sharing a usage timeout.
// May be called more than once to configure several groups with
// different timeouts.
func (b *ConfiguratorBuilder) WithPlugins(group *PluginsConfigurator) *ConfiguratorBuilder {
	if group == nil {
		panic(fmt.Errorf("%w: plugins configurator must not be nil", ErrIllegalArgument))
	}
	b.pluginGroups = append(b.pluginGroups, group)
	return b
}

// WithPoolPlugins sets the pool plugins the service falls back to. May
// only be called once.
func (b *ConfiguratorBuilder) WithPoolPlugins(pool *PoolPluginsConfigurator) *ConfiguratorBuilder {
	if b.poolPluginsSet {
		panic(fmt.Errorf("%w: pool plugins already configured", ErrIllegalState))
	}
	if pool == nil {
		panic(fmt.Errorf("%w: pool plugins configurator must not be nil", ErrIllegalArgument))
	}
	b.poolPlugins = pool
	b.poolPluginsSet = true
	return b
}

// WithCardResourceProfiles registers one or more profiles. May be
// called more than once; every profile name must be unique across all
// calls.
func (b *ConfiguratorBuilder) WithCardResourceProfiles(profiles ...CardResourceProfileConfig) *ConfiguratorBuilder {
	for _, p := range profiles {
		if b.profileNames[p.Name] {
			panic(fmt.Errorf("%w: profile %s already configured", ErrIllegalState, p.Name))
		}
		b.profileNames[p.Name] = true
		b.profiles = append(b.profiles, p)
	}
	return b
}

// WithBlockingAllocationMode enables blocking allocation for every
// profile (there is no per-profile setting): GetCardResource polls every
// cycle until either a resource frees up or timeout elapses. May only
// be called once.
func (b *ConfiguratorBuilder) WithBlockingAllocationMode(cycle, timeout time.Duration) *ConfiguratorBuilder {
	if b.blockingSet {
		panic(fmt.Errorf("%w: blocking allocation mode already configured", ErrIllegalState))
	}
	if cycle <= 0 {
		panic(fmt.Errorf("%w: cycle duration must be positive", ErrIllegalArgument))
	}
	if timeout <= 0 {
		panic(fmt.Errorf("%w: timeout must be positive", ErrIllegalArgument))
	}
	b.blocking = true
	b.blockingCycle = cycle
	b.blockingTimeout = timeout
	b.blockingSet = true
	return b
}

// Configure validates the accumulated configuration and applies it to
// the process-wide Service singleton, pruning any plugin no profile
// actually uses. Returns the pruned Configuration for inspection.
func (b *ConfiguratorBuilder) Configure() (*Configuration, error) {
	if len(b.pluginGroups) == 0 && !b.poolPluginsSet {
		return nil, fmt.Errorf("%w: at least one plugin or pool plugin must be configured", ErrIllegalState)
	}
	if len(b.profiles) == 0 {
		return nil, fmt.Errorf("%w: at least one card resource profile must be configured", ErrIllegalState)
	}

	allPluginNames := make(map[string]bool)
	for _, g := range b.pluginGroups {
		for _, cp := range g.plugins {
			allPluginNames[cp.plugin.Name()] = true
		}
	}
	for _, p := range b.profiles {
		for _, name := range p.Plugins {
			if !allPluginNames[name] {
				return nil, fmt.Errorf("%w: profile %s references unconfigured plugin %s", ErrIllegalState, p.Name, name)
			}
		}
	}

	cycle := b.blockingCycle
	if cycle <= 0 {
		cycle = DefaultCycleDuration
	}

	cfg := &Configuration{
		pluginGroups:    b.pluginGroups,
		poolPlugins:     b.poolPlugins,
		profiles:        b.profiles,
		blocking:        b.blocking,
		blockingCycle:   cycle,
		blockingTimeout: b.blockingTimeout,
	}

	pruneUnusedPlugins(cfg)

	if err := getInstance().configure(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pruneUnusedPlugins drops any configured plugin group entry that no
// profile actually references, mirroring the source's unused-plugin
// pruning step so the service never wires observation goroutines for
// hardware nothing will ever allocate from.
func pruneUnusedPlugins(cfg *Configuration) {
	used := cfg.usedPlugins()
	for _, group := range cfg.pluginGroups {
		kept := group.plugins[:0]
		for _, cp := range group.plugins {
			if used[cp.plugin.Name()] {
				kept = append(kept, cp)
			}
		}
		group.plugins = kept
	}
}
