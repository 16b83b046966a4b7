package config

import (
	"os"
	"testing"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") = %v", err)
	}
	if cfg.Domain.Dim != 3 {
		t.Fatalf("Domain.Dim = %d, want 3", cfg.Domain.Dim)
	}
	if cfg.Domain.SampleBudgetBytes != 262144 {
		t.Fatalf("Domain.SampleBudgetBytes = %d, want 262144", cfg.Domain.SampleBudgetBytes)
	}
	if cfg.Derived.DomainMax[0] != 1.0 {
		t.Fatalf("Derived.DomainMax[0] = %v, want 1.0", cfg.Derived.DomainMax[0])
	}
}

func TestLoadRejectsBadDim(t *testing.T) {
	tmp := t.TempDir() + "/bad.yaml"
	writeFile(t, tmp, "domain:\n  dim: 4\n")
	if _, err := Load(tmp); err == nil {
		t.Fatalf("expected an error for domain.dim=4")
	}
}

func TestLoadRejectsBadBoundary(t *testing.T) {
	tmp := t.TempDir() + "/bad.yaml"
	writeFile(t, tmp, "domain:\n  boundary: bogus\n")
	if _, err := Load(tmp); err == nil {
		t.Fatalf("expected an error for an unknown boundary mode")
	}
}

func TestCfgPanicsBeforeInit(t *testing.T) {
	global = nil
	defer func() {
		if recover() == nil {
			t.Fatalf("Cfg() should panic before Init()")
		}
	}()
	Cfg()
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
