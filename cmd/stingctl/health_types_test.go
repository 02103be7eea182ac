package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultStartupPlan_Shape(t *testing.T) {
	plan := DefaultStartupPlan()

	if plan.Version != StartupPlanVersion {
		t.Errorf("version = %s, want %s", plan.Version, StartupPlanVersion)
	}
	if len(plan.Tiers) != 6 {
		t.Fatalf("got %d tiers, want 6", len(plan.Tiers))
	}

	// Tier indices are consistent with position
	for i, tier := range plan.Tiers {
		if len(tier) == 0 {
			t.Errorf("tier %d is empty", i)
		}
		for _, svc := range tier {
			if svc.Tier != i {
				t.Errorf("service %s declares tier %d but sits in tier %d", svc.Name, svc.Tier, i)
			}
			if svc.MaxAttempts < 1 {
				t.Errorf("service %s has no attempt budget", svc.Name)
			}
			if svc.Criticality != CriticalityEssential &&
				svc.Criticality != CriticalityImportant &&
				svc.Criticality != CriticalityOptional {
				t.Errorf("service %s has invalid criticality %q", svc.Name, svc.Criticality)
			}
		}
	}

	// The anchor services sit in their expected tiers
	anchors := map[string]int{
		"vault":    0,
		"postgres": 1,
		"redis":    1,
		"app":      4,
		"frontend": 5,
	}
	for name, wantTier := range anchors {
		svc, ok := plan.ServiceByName(name)
		if !ok {
			t.Errorf("plan is missing %s", name)
			continue
		}
		if svc.Tier != wantTier {
			t.Errorf("%s in tier %d, want %d", name, svc.Tier, wantTier)
		}
	}

	// No duplicate names
	seen := make(map[string]bool)
	for _, svc := range plan.AllServices() {
		if seen[svc.Name] {
			t.Errorf("duplicate service %s", svc.Name)
		}
		seen[svc.Name] = true
	}
}

func TestStartupPlan_ServiceByName(t *testing.T) {
	plan := testPlan()

	svc, ok := plan.ServiceByName("database")
	if !ok {
		t.Fatal("database not found")
	}
	if svc.Tier != 1 || svc.Criticality != CriticalityEssential {
		t.Errorf("database = tier %d/%s, want 1/essential", svc.Tier, svc.Criticality)
	}

	if _, ok := plan.ServiceByName("nonexistent"); ok {
		t.Error("found a service that does not exist")
	}
}

func TestLoadStartupPlan_EmptyPathUsesDefault(t *testing.T) {
	plan, err := LoadStartupPlan("")
	if err != nil {
		t.Fatalf("LoadStartupPlan(\"\") failed: %v", err)
	}
	if len(plan.Tiers) != 6 {
		t.Errorf("got %d tiers, want the default 6", len(plan.Tiers))
	}
}

func TestLoadStartupPlan_MissingFileUsesDefault(t *testing.T) {
	plan, err := LoadStartupPlan(filepath.Join(t.TempDir(), "services.yaml"))
	if err != nil {
		t.Fatalf("LoadStartupPlan on missing file failed: %v", err)
	}
	if len(plan.Tiers) != 6 {
		t.Errorf("got %d tiers, want the default 6", len(plan.Tiers))
	}
}

func TestLoadStartupPlan_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	content := `
tiers:
  - - name: vault
      tier: 0
      criticality: essential
      probe:
        kind: container-running
      max_attempts: 5
      interval: 1s
  - - name: app
      tier: 1
      criticality: essential
      probe:
        kind: http
        target: http://localhost:5000/api/health
      max_attempts: 10
      interval: 2s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	plan, err := LoadStartupPlan(path)
	if err != nil {
		t.Fatalf("LoadStartupPlan failed: %v", err)
	}
	if len(plan.Tiers) != 2 {
		t.Fatalf("got %d tiers, want 2 from the override", len(plan.Tiers))
	}
	if plan.Version != StartupPlanVersion {
		t.Errorf("version = %q, want defaulted %q", plan.Version, StartupPlanVersion)
	}
	app, ok := plan.ServiceByName("app")
	if !ok {
		t.Fatal("override plan missing app")
	}
	if app.Probe.Kind != ProbeHTTP || app.MaxAttempts != 10 {
		t.Errorf("app = %+v, override fields not applied", app)
	}
}

func TestLoadStartupPlan_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte("tiers: {not: [valid"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := LoadStartupPlan(path); err == nil {
		t.Fatal("malformed YAML accepted")
	}
}

func TestLoadStartupPlan_EmptyTiersRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte("version: \"1.0.0\"\ntiers: []\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := LoadStartupPlan(path); err == nil {
		t.Fatal("plan with no tiers accepted")
	}
}

func TestGenerateID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateID()
		if id == "" {
			t.Fatal("empty ID")
		}
		if seen[id] {
			t.Fatalf("duplicate ID %s", id)
		}
		seen[id] = true
	}
}
