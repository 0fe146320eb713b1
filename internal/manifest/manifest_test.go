package manifest

import (
	"path/filepath"
	"testing"
)

func TestLoad_ParsesSpacesAndLimits(t *testing.T) {
	m, err := Load(filepath.Join("testdata"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	home, ok := m.SpaceByName("home")
	if !ok {
		t.Fatalf("expected a 'home' space to be configured")
	}
	if home.Provider != ProviderSQLite {
		t.Fatalf("expected home to use the sqlite provider, got %q", home.Provider)
	}
	if home.Path != "home.db" {
		t.Fatalf("expected home path 'home.db', got %q", home.Path)
	}

	scratch, ok := m.SpaceByName("scratch")
	if !ok {
		t.Fatalf("expected a 'scratch' space to be configured")
	}
	if scratch.Provider != ProviderNone {
		t.Fatalf("expected scratch to be ephemeral-only, got %q", scratch.Provider)
	}

	if m.Limits.RecursionLimit != 50 {
		t.Fatalf("expected recursion limit 50, got %d", m.Limits.RecursionLimit)
	}
	if m.Limits.MaxProxyArraySize != 1000 {
		t.Fatalf("expected max proxy array size 1000, got %d", m.Limits.MaxProxyArraySize)
	}
}

func TestLoad_MissingDirectoryFails(t *testing.T) {
	if _, err := Load(filepath.Join("testdata", "does-not-exist")); err == nil {
		t.Fatalf("expected an error for a missing manifest directory")
	}
}

func TestDefaultLimits_MatchProxyDefault(t *testing.T) {
	limits := DefaultLimits()
	if limits.RecursionLimit != 100 {
		t.Fatalf("expected default recursion limit 100, got %d", limits.RecursionLimit)
	}
}

func TestNewProviderFactory_RejectsEphemeralOnlySpace(t *testing.T) {
	m := &Manifest{Spaces: []SpaceConfig{{Name: "scratch", Provider: ProviderNone}}}
	factory := m.NewProviderFactory(t.TempDir())

	if _, err := factory("scratch"); err == nil {
		t.Fatalf("expected an error requesting a provider for an ephemeral-only space")
	}
}

func TestNewProviderFactory_OpensConfiguredSQLiteSpace(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{Spaces: []SpaceConfig{{Name: "home", Provider: ProviderSQLite, Path: "home.db"}}}
	factory := m.NewProviderFactory(dir)

	p, err := factory("home")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	defer p.Close()
}
