package resource

import "time"

// Configuration is the frozen result of a Configurator build: every
// plugin, pool plugin, and profile the service will use once started,
// plus the blocking-allocation-mode settings, which apply to every
// profile alike.
type Configuration struct {
	pluginGroups    []*PluginsConfigurator
	poolPlugins     *PoolPluginsConfigurator
	profiles        []CardResourceProfileConfig
	blocking        bool
	blockingCycle   time.Duration
	blockingTimeout time.Duration
}

// usedPlugins returns the set of every plugin actually referenced by
// this configuration's profiles: every plugin, if any profile omitted
// WithPlugins (accepting all of them), or the union of each profile's
// explicit plugin list otherwise. Mirrors computeUsedPlugins's
// short-circuit-to-all-if-any-profile-uses-defaults rule.
func (c *Configuration) usedPlugins() map[string]bool {
	all := make(map[string]bool)
	for _, group := range c.pluginGroups {
		for _, cp := range group.plugins {
			all[cp.plugin.Name()] = true
		}
	}

	for _, p := range c.profiles {
		if len(p.Plugins) == 0 {
			return all
		}
	}

	used := make(map[string]bool)
	for _, p := range c.profiles {
		for _, name := range p.Plugins {
			used[name] = true
		}
	}
	return used
}
