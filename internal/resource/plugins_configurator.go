package resource

import (
	"fmt"
	"time"
)

// configuredPlugin pairs a regular Plugin with the one-time setup hook
// and background-observation wiring the service applies to every
// reader it discovers on that plugin.
type configuredPlugin struct {
	plugin               Plugin
	readerConfigurator   ReaderConfiguratorSpi
	withPluginMonitoring bool
	withReaderMonitoring bool
	pluginExceptionHandler PluginObservationExceptionHandler
	readerExceptionHandler CardReaderObservationExceptionHandler
}

// PluginsConfigurator groups one or more regular plugins that share a
// usage timeout: every reader discovered on any of them auto-releases
// a stale lock after the same duration.
type PluginsConfigurator struct {
	plugins      []configuredPlugin
	usageTimeout time.Duration
}

// PluginsConfiguratorBuilder builds a PluginsConfigurator, validating
// each addition eagerly the way the source's Builder does.
type PluginsConfiguratorBuilder struct {
	plugins             []configuredPlugin
	usageTimeout        time.Duration
	usageTimeoutSet     bool
	seenPluginNames     map[string]bool
}

// NewPluginsConfiguratorBuilder starts a new PluginsConfigurator
// builder with the default usage timeout (0, meaning unbounded).
func NewPluginsConfiguratorBuilder() *PluginsConfiguratorBuilder {
	return &PluginsConfiguratorBuilder{seenPluginNames: make(map[string]bool)}
}

// WithUsageTimeout sets the usage timeout applied to every reader
// registered through this configurator. d must be at least 1
// nanosecond; the zero value (unbounded) is only reachable by never
// calling this method, matching the source's rule that an explicit
// timeout of zero is rejected rather than treated as infinite.
func (b *PluginsConfiguratorBuilder) WithUsageTimeout(d time.Duration) *PluginsConfiguratorBuilder {
	if b.usageTimeoutSet {
		panic(fmt.Errorf("%w: usage timeout already configured", ErrIllegalState))
	}
	if d <= 0 {
		panic(fmt.Errorf("%w: usage timeout must be positive", ErrIllegalArgument))
	}
	b.usageTimeout = d
	b.usageTimeoutSet = true
	return b
}

// AddPlugin registers plugin with no background observation.
// readerConfigurator may be nil if readers of this plugin need no
// one-time setup.
func (b *PluginsConfiguratorBuilder) AddPlugin(plugin Plugin, readerConfigurator ReaderConfiguratorSpi) *PluginsConfiguratorBuilder {
	return b.addPlugin(configuredPlugin{plugin: plugin, readerConfigurator: readerConfigurator})
}

// AddPluginWithMonitoring registers an ObservablePlugin. Plugin- and
// reader-level background observation are enabled independently of
// each other, one for each exception handler actually supplied: a nil
// handler simply leaves that half of monitoring off rather than
// panicking, exactly like the source's ConfiguredPlugin constructor,
// which only toggles mWithPluginMonitoring/mWithReaderMonitoring when
// the corresponding handler is non-null. A plugin registered here
// therefore never has monitoring on with a nil handler.
func (b *PluginsConfiguratorBuilder) AddPluginWithMonitoring(
	plugin ObservablePlugin,
	readerConfigurator ReaderConfiguratorSpi,
	pluginExceptionHandler PluginObservationExceptionHandler,
	readerExceptionHandler CardReaderObservationExceptionHandler,
) *PluginsConfiguratorBuilder {
	return b.addPlugin(configuredPlugin{
		plugin:                 plugin,
		readerConfigurator:     readerConfigurator,
		withPluginMonitoring:   pluginExceptionHandler != nil,
		withReaderMonitoring:   readerExceptionHandler != nil,
		pluginExceptionHandler: pluginExceptionHandler,
		readerExceptionHandler: readerExceptionHandler,
	})
}

func (b *PluginsConfiguratorBuilder) addPlugin(cp configuredPlugin) *PluginsConfiguratorBuilder {
	if cp.plugin == nil {
		panic(fmt.Errorf("%w: plugin must not be nil", ErrIllegalArgument))
	}
	if _, isPool := cp.plugin.(PoolPlugin); isPool {
		panic(fmt.Errorf("%w: a pool plugin cannot be added as a regular plugin", ErrIllegalArgument))
	}
	if b.seenPluginNames[cp.plugin.Name()] {
		panic(fmt.Errorf("%w: plugin %s already configured", ErrIllegalState, cp.plugin.Name()))
	}
	b.seenPluginNames[cp.plugin.Name()] = true
	b.plugins = append(b.plugins, cp)
	return b
}

// Build finalizes the configurator. At least one plugin must have been
// added.
func (b *PluginsConfiguratorBuilder) Build() (*PluginsConfigurator, error) {
	if len(b.plugins) == 0 {
		return nil, fmt.Errorf("%w: no plugin was configured", ErrIllegalState)
	}
	return &PluginsConfigurator{plugins: b.plugins, usageTimeout: b.usageTimeout}, nil
}
