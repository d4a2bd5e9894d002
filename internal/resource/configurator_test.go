package resource

import (
	"testing"
	"time"
)

func mustPanic(t *testing.T, why string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic: %s", why)
		}
	}()
	fn()
}

func TestPluginsConfiguratorRejectsDuplicatePlugin(t *testing.T) {
	p := newMockPlugin("plugin-1")
	b := NewPluginsConfiguratorBuilder().AddPlugin(p, nil)
	mustPanic(t, "duplicate plugin", func() { b.AddPlugin(p, nil) })
}

func TestPluginsConfiguratorAddPluginWithMonitoringToleratesNilHandlers(t *testing.T) {
	plugin := newMockObservablePlugin("plugin-1")
	group, err := NewPluginsConfiguratorBuilder().
		AddPluginWithMonitoring(plugin, nil, nil, nil).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if group.plugins[0].withPluginMonitoring || group.plugins[0].withReaderMonitoring {
		t.Fatalf("expected monitoring to stay off when both handlers are nil")
	}
}

func TestPluginsConfiguratorAddPluginWithMonitoringGatesIndependently(t *testing.T) {
	plugin := newMockObservablePlugin("plugin-1")
	group, err := NewPluginsConfiguratorBuilder().
		AddPluginWithMonitoring(plugin, nil, mockPluginExceptionHandler{}, nil).
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !group.plugins[0].withPluginMonitoring {
		t.Fatalf("expected plugin monitoring to turn on when its handler is non-nil")
	}
	if group.plugins[0].withReaderMonitoring {
		t.Fatalf("expected reader monitoring to stay off when its handler is nil")
	}
}

type mockPluginExceptionHandler struct{}

func (mockPluginExceptionHandler) OnPluginObservationError(string, error) {}

func TestPluginsConfiguratorRejectsPoolPluginAsRegular(t *testing.T) {
	pp := newMockPoolPlugin("pool-1")
	b := NewPluginsConfiguratorBuilder()
	mustPanic(t, "pool plugin added as regular", func() { b.AddPlugin(poolAsPlugin{pp}, nil) })
}

// poolAsPlugin lets a PoolPlugin satisfy the Plugin interface so the
// "pool plugin added as regular" rejection path can be exercised.
type poolAsPlugin struct{ PoolPlugin }

func (p poolAsPlugin) Readers() ([]CardReader, error) { return nil, nil }

func TestPluginsConfiguratorRejectsZeroUsageTimeout(t *testing.T) {
	b := NewPluginsConfiguratorBuilder()
	mustPanic(t, "zero usage timeout", func() { b.WithUsageTimeout(0) })
}

func TestPluginsConfiguratorBuildRequiresAtLeastOnePlugin(t *testing.T) {
	_, err := NewPluginsConfiguratorBuilder().Build()
	if err == nil {
		t.Fatalf("expected an error building with no plugins")
	}
}

func TestPoolPluginsConfiguratorRejectsDuplicateUsePoolFirst(t *testing.T) {
	b := NewPoolPluginsConfiguratorBuilder().UsePoolFirst()
	mustPanic(t, "duplicate UsePoolFirst", func() { b.UsePoolFirst() })
}

func TestCardResourceProfileConfiguratorRejectsBadRegex(t *testing.T) {
	mustPanic(t, "invalid regex", func() {
		NewCardResourceProfileConfigurator("p", newMockExtension()).WithReaderNameRegex("[")
	})
}

func TestCardResourceProfileConfiguratorRejectsDuplicateRegex(t *testing.T) {
	b := NewCardResourceProfileConfigurator("p", newMockExtension()).WithReaderNameRegex("r.*")
	mustPanic(t, "duplicate regex", func() { b.WithReaderNameRegex("r.*") })
}

func TestCardResourceProfileConfiguratorRejectsNilExtension(t *testing.T) {
	mustPanic(t, "nil extension", func() { NewCardResourceProfileConfigurator("p", nil) })
}

func TestConfiguratorRejectsUnknownPluginInProfile(t *testing.T) {
	resetServiceForTest(t)
	plugin := newMockPlugin("plugin-1")
	group, err := NewPluginsConfiguratorBuilder().AddPlugin(plugin, nil).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	profile, err := NewCardResourceProfileConfigurator("profile-a", newMockExtension()).
		WithPlugins("nonexistent").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = NewConfiguratorBuilder().
		WithPlugins(group).
		WithCardResourceProfiles(profile).
		Configure()
	if err == nil {
		t.Fatalf("expected an error for a profile referencing an unconfigured plugin")
	}
}

func TestConfiguratorPrunesUnusedPlugins(t *testing.T) {
	resetServiceForTest(t)
	used := newMockPlugin("used-plugin", newMockReader("r1"))
	unused := newMockPlugin("unused-plugin", newMockReader("r2"))
	group, err := NewPluginsConfiguratorBuilder().AddPlugin(used, nil).AddPlugin(unused, nil).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	profile, err := NewCardResourceProfileConfigurator("profile-a", newMockExtension()).
		WithPlugins("used-plugin").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := NewConfiguratorBuilder().
		WithPlugins(group).
		WithCardResourceProfiles(profile).
		Configure()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.pluginGroups[0].plugins) != 1 {
		t.Fatalf("expected unused-plugin to be pruned, got %d plugins remaining", len(cfg.pluginGroups[0].plugins))
	}
}

func TestConfiguratorRejectsZeroBlockingCycle(t *testing.T) {
	b := NewConfiguratorBuilder()
	mustPanic(t, "zero cycle duration", func() { b.WithBlockingAllocationMode(0, time.Second) })
}

func TestConfiguratorRejectsZeroBlockingTimeout(t *testing.T) {
	b := NewConfiguratorBuilder()
	mustPanic(t, "zero timeout", func() { b.WithBlockingAllocationMode(time.Second, 0) })
}

func TestConfiguratorAppliesDefaultCycleDurationWhenBlockingDisabled(t *testing.T) {
	resetServiceForTest(t)
	plugin := newMockPlugin("plugin-1", newMockReader("r1"))
	group, _ := NewPluginsConfiguratorBuilder().AddPlugin(plugin, nil).Build()
	profile, _ := NewCardResourceProfileConfigurator("profile-a", newMockExtension()).Build()

	cfg, err := NewConfiguratorBuilder().
		WithPlugins(group).
		WithCardResourceProfiles(profile).
		Configure()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.blockingCycle != DefaultCycleDuration {
		t.Fatalf("expected the unused blockingCycle field to still default when blocking mode was never enabled")
	}
}
