package resource

import (
	"fmt"
	"regexp"
)

// CardResourceProfileConfiguratorBuilder builds one profile's configuration.
type CardResourceProfileConfiguratorBuilder struct {
	cfg              CardResourceProfileConfig
	pluginsSet       bool
	regexSet         bool
	groupRefSet      bool
}

// NewCardResourceProfileConfigurator starts a new profile builder.
// name identifies the profile to callers of Service.GetCardResource;
// extension decides whether a presented card matches this profile and
// must not be nil.
func NewCardResourceProfileConfigurator(name string, extension CardResourceProfileExtension) *CardResourceProfileConfiguratorBuilder {
	if name == "" {
		panic(fmt.Errorf("%w: profile name must not be empty", ErrIllegalArgument))
	}
	if extension == nil {
		panic(fmt.Errorf("%w: profile %s: extension must not be nil", ErrIllegalArgument, name))
	}
	return &CardResourceProfileConfiguratorBuilder{cfg: CardResourceProfileConfig{Name: name, Extension: extension}}
}

// WithAllocationStrategy overrides the default (AllocationFirst)
// candidate ordering strategy for this profile.
func (b *CardResourceProfileConfiguratorBuilder) WithAllocationStrategy(strategy AllocationStrategy) *CardResourceProfileConfiguratorBuilder {
	b.cfg.AllocationStrategy = strategy
	return b
}

// WithPlugins restricts this profile's candidate readers to the named
// plugins. May only be called once; omitting it accepts readers from
// every configured plugin.
func (b *CardResourceProfileConfiguratorBuilder) WithPlugins(pluginNames ...string) *CardResourceProfileConfiguratorBuilder {
	if b.pluginsSet {
		panic(fmt.Errorf("%w: profile %s: plugins already configured", ErrIllegalState, b.cfg.Name))
	}
	if len(pluginNames) == 0 {
		panic(fmt.Errorf("%w: profile %s: at least one plugin name required", ErrIllegalArgument, b.cfg.Name))
	}
	b.cfg.Plugins = append([]string(nil), pluginNames...)
	b.pluginsSet = true
	return b
}

// WithReaderNameRegex restricts this profile's candidate readers to
// those whose name matches pattern. May only be called once; the
// pattern is compiled eagerly so a malformed regex fails at
// configuration time, not at first allocation attempt.
func (b *CardResourceProfileConfiguratorBuilder) WithReaderNameRegex(pattern string) *CardResourceProfileConfiguratorBuilder {
	if b.regexSet {
		panic(fmt.Errorf("%w: profile %s: reader name regex already configured", ErrIllegalState, b.cfg.Name))
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		panic(fmt.Errorf("%w: profile %s: invalid reader name regex: %v", ErrIllegalArgument, b.cfg.Name, err))
	}
	b.cfg.readerNameRegex = re
	b.regexSet = true
	return b
}

// WithReaderGroupReference sets the group reference passed to pool
// plugins when this profile falls back to one. May only be called
// once.
func (b *CardResourceProfileConfiguratorBuilder) WithReaderGroupReference(ref string) *CardResourceProfileConfiguratorBuilder {
	if b.groupRefSet {
		panic(fmt.Errorf("%w: profile %s: reader group reference already configured", ErrIllegalState, b.cfg.Name))
	}
	b.cfg.ReaderGroupReference = ref
	b.groupRefSet = true
	return b
}

// Build finalizes the profile configuration.
func (b *CardResourceProfileConfiguratorBuilder) Build() (CardResourceProfileConfig, error) {
	if err := b.cfg.validate(); err != nil {
		return CardResourceProfileConfig{}, err
	}
	return b.cfg, nil
}
