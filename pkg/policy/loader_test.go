package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/opencomply/opencomply/pkg/engine"
)

func writePolicyFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
}

func TestLoader_LoadDirectory(t *testing.T) {
	dir := t.TempDir()

	writePolicyFile(t, dir, "no_vendor_deletes.rego", `# Blocks vendor deletions entirely
# severity: error
package custom.no_vendor_deletes

import rego.v1

deny contains violation if {
	some resource in input.plan.to_delete
	resource.type == "vendor"
	violation := {
		"message": sprintf("vendor %s cannot be deleted", [resource.natural_key]),
		"severity": "error",
	}
}
`)
	writePolicyFile(t, dir, "notes.txt", "not a policy")

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadDirectory(dir)
	if err != nil {
		t.Fatalf("failed to load directory: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "no_vendor_deletes" {
		t.Errorf("unexpected name: %s", p.Name)
	}
	if p.Severity != SeverityError {
		t.Errorf("expected severity from directive, got %s", p.Severity)
	}
	if p.Description == "" {
		t.Error("expected the description from leading comments")
	}
}

func TestLoader_DefaultSeverity(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "plain.rego", `package custom.plain

import rego.v1

deny contains msg if {
	false
	msg := "never"
}
`)

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadDirectory(dir)
	if err != nil {
		t.Fatalf("failed to load directory: %v", err)
	}
	if policies[0].Severity != SeverityWarning {
		t.Errorf("expected the default severity, got %s", policies[0].Severity)
	}
}

// Loaded policies participate in plan gating alongside the built-ins.
func TestEngine_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "no_vendor_deletes.rego", `# severity: error
package custom.no_vendor_deletes

import rego.v1

deny contains violation if {
	some resource in input.plan.to_delete
	resource.type == "vendor"
	violation := {
		"message": sprintf("vendor %s cannot be deleted", [resource.natural_key]),
		"severity": "error",
	}
}
`)

	e := newTestEngine(t)
	if err := e.LoadDirectory(context.Background(), dir); err != nil {
		t.Fatalf("failed to load directory: %v", err)
	}

	plan := &engine.Plan{
		Workspace: "default",
		ToDelete: []engine.ResourceDescriptor{{
			Type:       engine.ResourceTypeVendor,
			NaturalKey: "Acme",
			Attributes: map[string]string{"name": "Acme"},
		}},
	}
	result, err := e.CheckPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatalf("expected the custom policy to deny the plan")
	}
}
