package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/opencomply/opencomply/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	return e
}

func deleteDescriptors(n int) []engine.ResourceDescriptor {
	descs := make([]engine.ResourceDescriptor, 0, n)
	for i := 0; i < n; i++ {
		descs = append(descs, engine.ResourceDescriptor{
			Type:       engine.ResourceTypeVendor,
			NaturalKey: strings.Repeat("x", i+1),
			Attributes: map[string]string{"name": strings.Repeat("x", i+1)},
		})
	}
	return descs
}

func TestCheckPlan_AllowsSmallPlan(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{
		Workspace: "default",
		ToCreate: []engine.ResourceDescriptor{{
			Type:       engine.ResourceTypeControl,
			NaturalKey: "AC-1",
			Attributes: map[string]string{"control_id": "AC-1", "title": "T"},
		}},
	}

	result, err := e.CheckPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected the plan to be allowed, got violations: %v", result.Violations)
	}
}

func TestCheckPlan_DeletionGuard(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{
		Workspace: "default",
		ToDelete:  deleteDescriptors(11),
	}

	result, err := e.CheckPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected the plan to be denied")
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "deletion-guard" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a deletion-guard violation, got %v", result.Violations)
	}
}

func TestCheckPlan_ProtectedControls(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{
		Workspace: "default",
		ToDelete: []engine.ResourceDescriptor{{
			Type:       engine.ResourceTypeControl,
			NaturalKey: "AC-1",
			Attributes: map[string]string{"control_id": "AC-1", "status": "active"},
		}},
	}

	result, err := e.CheckPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected deletion of an active control to be denied")
	}
	if !strings.Contains(result.Violations[0].Message, "AC-1") {
		t.Errorf("expected the violation to name the control: %v", result.Violations[0])
	}

	// Retired controls delete freely.
	plan.ToDelete[0].Attributes["status"] = "retired"
	result, err = e.CheckPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected deletion of a retired control to pass, got %v", result.Violations)
	}
}

func TestCheckPlan_WarningDoesNotBlock(t *testing.T) {
	e := newTestEngine(t)

	plan := &engine.Plan{
		Workspace: "default",
		ToCreate: []engine.ResourceDescriptor{{
			Type:       engine.ResourceTypePolicy,
			NaturalKey: "Security Policy",
			Attributes: map[string]string{"name": "Security Policy"},
		}},
	}

	result, err := e.CheckPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("warnings must not block the plan: %v", result.Violations)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "policy-description") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a policy-description warning, got %v", result.Warnings)
	}
}

func TestDisablePolicy(t *testing.T) {
	e := newTestEngine(t)

	if err := e.DisablePolicy("deletion-guard"); err != nil {
		t.Fatalf("failed to disable policy: %v", err)
	}

	plan := &engine.Plan{Workspace: "default", ToDelete: deleteDescriptors(11)}
	result, err := e.CheckPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policies must not fire: %v", result.Violations)
	}

	if err := e.EnablePolicy("deletion-guard"); err != nil {
		t.Fatalf("failed to enable policy: %v", err)
	}
	result, _ = e.CheckPlan(context.Background(), plan)
	if result.Allowed {
		t.Error("re-enabled policy must fire again")
	}
}

func TestCheckPlan_StableViolationOrder(t *testing.T) {
	e := newTestEngine(t)

	alwaysDeny := func(name, pkg string) Policy {
		return Policy{
			Name:     name,
			Severity: SeverityError,
			Enabled:  true,
			Rego: `package opencomply.policies.` + pkg + `

import rego.v1

deny contains violation if {
	input.plan
	violation := {"message": "always fires", "severity": "error"}
}
`,
		}
	}
	zeta := alwaysDeny("zeta-always", "zeta_always")
	alpha := alwaysDeny("alpha-always", "alpha_always")
	if err := e.compileAndStorePolicy(&zeta); err != nil {
		t.Fatalf("failed to compile policy: %v", err)
	}
	if err := e.compileAndStorePolicy(&alpha); err != nil {
		t.Fatalf("failed to compile policy: %v", err)
	}

	plan := &engine.Plan{
		Workspace: "default",
		ToCreate: []engine.ResourceDescriptor{{
			Type:       engine.ResourceTypeControl,
			NaturalKey: "AC-1",
			Attributes: map[string]string{"control_id": "AC-1", "title": "T"},
		}},
	}

	for run := 0; run < 5; run++ {
		result, err := e.CheckPlan(context.Background(), plan)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Violations) != 2 {
			t.Fatalf("expected 2 violations, got %v", result.Violations)
		}
		if result.Violations[0].Policy != "alpha-always" || result.Violations[1].Policy != "zeta-always" {
			t.Fatalf("run %d: violations out of order: %q, %q",
				run, result.Violations[0].Policy, result.Violations[1].Policy)
		}
	}
}

func TestGetAndListPolicies(t *testing.T) {
	e := newTestEngine(t)

	p, err := e.GetPolicy("deletion-guard")
	if err != nil {
		t.Fatalf("failed to get policy: %v", err)
	}
	if p.Severity != SeverityError {
		t.Errorf("unexpected severity: %s", p.Severity)
	}

	if _, err := e.GetPolicy("no-such-policy"); err == nil {
		t.Error("expected an error for an unknown policy")
	}

	if got := len(e.ListPolicies()); got != len(GetBuiltinPolicies()) {
		t.Errorf("expected %d policies, got %d", len(GetBuiltinPolicies()), got)
	}
}
