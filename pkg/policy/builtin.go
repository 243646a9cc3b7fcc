package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		deletionGuardPolicy(),
		protectedControlsPolicy(),
		policyContentPolicy(),
	}
}

// deletionGuardPolicy blocks plans that would delete a large slice of the
// live state at once. A legitimate sync rarely removes this much; plans that
// do are usually the result of applying a truncated or wrong file.
func deletionGuardPolicy() Policy {
	return Policy{
		Name:        "deletion-guard",
		Description: "Blocks plans deleting more than 10 resources in one apply",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "deletion"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package opencomply.policies.deletion_guard

import rego.v1

deny contains violation if {
	input.plan
	deletions := count(input.plan.to_delete)
	deletions > 10
	violation := {
		"message": sprintf("plan deletes %d resources, above the limit of 10", [deletions]),
		"severity": "error",
	}
}
`,
	}
}

// protectedControlsPolicy blocks deleting controls that are still active.
// Active controls back evidence collection; retire them first.
func protectedControlsPolicy() Policy {
	return Policy{
		Name:        "protected-controls",
		Description: "Blocks deletion of controls whose status is active",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "controls"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package opencomply.policies.protected_controls

import rego.v1

deny contains violation if {
	some resource in input.plan.to_delete
	resource.type == "control"
	resource.attributes.status == "active"
	violation := {
		"message": sprintf("control %s is active and cannot be deleted; retire it first", [resource.natural_key]),
		"severity": "error",
		"resource": resource.natural_key,
	}
}
`,
	}
}

// policyContentPolicy warns when a policy document is created without a
// description.
func policyContentPolicy() Policy {
	return Policy{
		Name:        "policy-description",
		Description: "Warns when policy documents are created without a description",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"hygiene"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package opencomply.policies.policy_description

import rego.v1

deny contains violation if {
	some resource in input.plan.to_create
	resource.type == "policy"
	not resource.attributes.description
	violation := {
		"message": sprintf("policy %s has no description", [resource.natural_key]),
		"severity": "warning",
		"resource": resource.natural_key,
	}
}
`,
	}
}
