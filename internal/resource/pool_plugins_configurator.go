package resource

import "fmt"

// PoolPluginsConfigurator groups the pool plugins the service can fall
// back to when no regular reader has a matching card, and whether pool
// plugins should be tried before or after regular readers.
type PoolPluginsConfigurator struct {
	usePoolFirst bool
	poolPlugins  []PoolPlugin
}

// PoolPluginsConfiguratorBuilder builds a PoolPluginsConfigurator.
type PoolPluginsConfiguratorBuilder struct {
	usePoolFirst        bool
	usePoolFirstSet     bool
	poolPlugins         []PoolPlugin
	seen                map[string]bool
}

// NewPoolPluginsConfiguratorBuilder starts a new builder. Pool plugins
// are tried after regular readers unless UsePoolFirst is called.
func NewPoolPluginsConfiguratorBuilder() *PoolPluginsConfiguratorBuilder {
	return &PoolPluginsConfiguratorBuilder{seen: make(map[string]bool)}
}

// UsePoolFirst makes pool plugins be tried before regular readers.
func (b *PoolPluginsConfiguratorBuilder) UsePoolFirst() *PoolPluginsConfiguratorBuilder {
	if b.usePoolFirstSet {
		panic(fmt.Errorf("%w: pool plugins priority already configured", ErrIllegalState))
	}
	b.usePoolFirst = true
	b.usePoolFirstSet = true
	return b
}

// AddPoolPlugin registers a pool plugin. Each plugin may only be added
// once.
func (b *PoolPluginsConfiguratorBuilder) AddPoolPlugin(plugin PoolPlugin) *PoolPluginsConfiguratorBuilder {
	if plugin == nil {
		panic(fmt.Errorf("%w: poolPlugin must not be nil", ErrIllegalArgument))
	}
	if b.seen[plugin.Name()] {
		panic(fmt.Errorf("%w: pool plugin %s already configured", ErrIllegalState, plugin.Name()))
	}
	b.seen[plugin.Name()] = true
	b.poolPlugins = append(b.poolPlugins, plugin)
	return b
}

// Build finalizes the configurator. At least one pool plugin must have
// been added.
func (b *PoolPluginsConfiguratorBuilder) Build() (*PoolPluginsConfigurator, error) {
	if len(b.poolPlugins) == 0 {
		return nil, fmt.Errorf("%w: no pool plugin was configured", ErrIllegalState)
	}
	return &PoolPluginsConfigurator{usePoolFirst: b.usePoolFirst, poolPlugins: b.poolPlugins}, nil
}
