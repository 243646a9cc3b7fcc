// Package engine provides the core types and the reconciliation pipeline for
// the opencomply declarative configuration engine.
//
// # Overview
//
// Operators describe desired compliance-platform state (controls,
// frameworks, policies, risks, vendors) as versioned text files. The engine
// computes the difference against the live database state and applies it:
//
//  1. Parse - turn file content into canonical ResourceDescriptors (Parser)
//  2. Snapshot - read live state into the same descriptor shape (Snapshotter)
//  3. Plan - compute create/update/delete sets (DiffPlanner)
//  4. Apply - execute the plan with per-item failure isolation (Applier)
//  5. Export - regenerate file content from live state (Exporter)
//
// The Service type wires these stages into the preview (read-only), apply
// (mutating, serialized per workspace and resource type) and refresh
// (export) paths.
//
// # Core Domain Types
//
//   - ResourceDescriptor: a declared or live resource keyed by natural key
//   - Plan: the computed reconciliation, sorted and deterministic
//   - ApplyResult: per-invocation accounting with per-resource errors
//   - ConfigFile: a persisted, monotonically versioned file record
//
// # Natural Keys
//
// Resources are identified by stable, human-meaningful keys (a control code,
// a framework name) rather than database ids, so declarative files stay
// meaningful across environments. ResourceType.NaturalKeyField is the single
// registry of key derivation rules shared by Parser, Snapshotter and
// Exporter.
//
// # Error Classification
//
// Errors are classified for propagation policy:
//
//   - Parse: malformed content, fails the whole file
//   - Validation: schema violation, blocks the apply path
//   - Conflict: optimistic-version mismatch or in-flight apply, retryable
//   - Store: per-item resource-store failure, collected during apply
//   - Permanent: non-recoverable
//
// Use the helpers to classify:
//
//	if engine.IsConflict(err) {
//	    // re-fetch and retry
//	}
package engine
