package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// resetServiceForTest reinitializes the process-wide singleton so
// tests don't observe state left behind by an earlier test. Only
// available from within the package's own test binary.
func resetServiceForTest(t *testing.T) {
	t.Helper()
	instance = &Service{
		readerManagers:    make(map[readerKey]*readerManager),
		readerPluginOf:    make(map[string]string),
		profileManagers:   make(map[string]*profileManager),
		poolCardResources: make(map[uuid.UUID]poolResourceEntry),
		logf:              func(string, ...any) {},
	}
}

func buildTestService(t *testing.T, plugin Plugin, profile CardResourceProfileConfig) *Service {
	t.Helper()
	resetServiceForTest(t)
	group, err := NewPluginsConfiguratorBuilder().AddPlugin(plugin, nil).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewConfiguratorBuilder().
		WithPlugins(group).
		WithCardResourceProfiles(profile).
		Configure(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc := Provider{}.Get()
	if err := svc.Start(); err != nil {
		t.Fatalf("unexpected error starting service: %v", err)
	}
	return svc
}

func TestServiceStartTwiceFails(t *testing.T) {
	plugin := newMockPlugin("plugin-1", newMockReader("r1").withCardPresent(true))
	profile, _ := NewCardResourceProfileConfigurator("profile-a", newMockExtension()).Build()
	svc := buildTestService(t, plugin, profile)

	if err := svc.Start(); err == nil {
		t.Fatalf("expected starting an already-started service to fail")
	}
}

func TestServiceGetCardResourceBeforeStartFails(t *testing.T) {
	resetServiceForTest(t)
	_, err := Provider{}.Get().GetCardResource(context.Background(), "profile-a")
	if err == nil {
		t.Fatalf("expected an error before Start")
	}
}

func TestServiceGetCardResourceUnknownProfile(t *testing.T) {
	plugin := newMockPlugin("plugin-1", newMockReader("r1").withCardPresent(true))
	profile, _ := NewCardResourceProfileConfigurator("profile-a", newMockExtension()).Build()
	svc := buildTestService(t, plugin, profile)

	_, err := svc.GetCardResource(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile, got %v", err)
	}
}

func TestServiceAllocateReleaseCycle(t *testing.T) {
	plugin := newMockPlugin("plugin-1", newMockReader("r1").withCardPresent(true))
	profile, _ := NewCardResourceProfileConfigurator("profile-a", newMockExtension()).Build()
	svc := buildTestService(t, plugin, profile)

	res, err := svc.GetCardResource(context.Background(), "profile-a")
	if err != nil || res == nil {
		t.Fatalf("expected an allocation, got res=%v err=%v", res, err)
	}

	_, err = svc.GetCardResource(context.Background(), "profile-a")
	if err == nil {
		t.Fatalf("expected the reader to be busy after the first allocation")
	}

	if err := svc.ReleaseCardResource(res); err != nil {
		t.Fatalf("unexpected error releasing: %v", err)
	}

	res2, err := svc.GetCardResource(context.Background(), "profile-a")
	if err != nil || res2 == nil {
		t.Fatalf("expected a second allocation after release, got res=%v err=%v", res2, err)
	}
}

func TestServiceReleaseCardResourceReleasesPoolReader(t *testing.T) {
	resetServiceForTest(t)
	poolReader := newMockReader("pool-r1")
	pool := newMockPoolPlugin("pool-1", poolReader)
	poolCfg, err := NewPoolPluginsConfiguratorBuilder().AddPoolPlugin(pool).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	profile, _ := NewCardResourceProfileConfigurator("profile-a", newMockExtension()).Build()
	if _, err := NewConfiguratorBuilder().
		WithCardResourceProfiles(profile).
		WithPoolPlugins(poolCfg).
		Configure(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc := Provider{}.Get()
	if err := svc.Start(); err != nil {
		t.Fatalf("unexpected error starting service: %v", err)
	}

	res, err := svc.GetCardResource(context.Background(), "profile-a")
	if err != nil || res == nil {
		t.Fatalf("expected a pool allocation, got res=%v err=%v", res, err)
	}
	if len(pool.released) != 0 {
		t.Fatalf("expected no release before ReleaseCardResource, got %d", len(pool.released))
	}

	if err := svc.ReleaseCardResource(res); err != nil {
		t.Fatalf("unexpected error releasing: %v", err)
	}
	if len(pool.released) != 1 {
		t.Fatalf("expected the pool reader to be released exactly once, got %d", len(pool.released))
	}
	if pool.released[0].Name() != "pool-r1" {
		t.Fatalf("expected pool-r1 to be released, got %s", pool.released[0].Name())
	}
}

func TestServiceRemoveUnusedReaderManagers(t *testing.T) {
	resetServiceForTest(t)
	acceptedReader := newMockReader("accepted").withCardPresent(true)
	otherReader := newMockReader("other").withCardPresent(true)
	plugin := newMockPlugin("plugin-1", acceptedReader, otherReader)
	group, _ := NewPluginsConfiguratorBuilder().AddPlugin(plugin, nil).Build()
	profile, _ := NewCardResourceProfileConfigurator("profile-a", newMockExtension()).
		WithReaderNameRegex("^accepted$").
		Build()
	if _, err := NewConfiguratorBuilder().WithPlugins(group).WithCardResourceProfiles(profile).Configure(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc := Provider{}.Get()
	if err := svc.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(svc.readerManagers) != 1 {
		t.Fatalf("expected only the accepted reader to survive pruning, got %d readers", len(svc.readerManagers))
	}
}

func TestServiceStopClearsState(t *testing.T) {
	plugin := newMockPlugin("plugin-1", newMockReader("r1").withCardPresent(true))
	profile, _ := NewCardResourceProfileConfigurator("profile-a", newMockExtension()).Build()
	svc := buildTestService(t, plugin, profile)

	if err := svc.Stop(); err != nil {
		t.Fatalf("unexpected error stopping: %v", err)
	}
	if len(svc.readerManagers) != 0 || len(svc.profileManagers) != 0 {
		t.Fatalf("expected Stop to clear all indexes")
	}
	if err := svc.Stop(); err == nil {
		t.Fatalf("expected stopping an already-stopped service to fail")
	}
}
