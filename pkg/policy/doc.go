// Package policy provides the OPA-based governance gate that reviews every
// plan before it applies.
//
// Policies are Rego modules whose deny rules emit violations. The input
// document carries the full plan plus evaluation context:
//
//	{
//	    "plan": { "to_create": [...], "to_update": [...], "to_delete": [...] },
//	    "context": { "workspace": "default", "timestamp": "..." }
//	}
//
// Violations at error or critical severity deny the plan; info and warning
// findings surface as warnings without blocking. Built-in policies guard
// against bulk deletion and deleting active controls; additional .rego files
// load from a policy directory at startup.
package policy
