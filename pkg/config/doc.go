// Package config implements the declarative file formats of the engine: the
// multi-format Parser, the round-trip Exporter and the per-type attribute
// schemas.
//
// Three formats normalize to the same canonical descriptors:
//
//   - HCL: resource "<type>" "<key>" { ... } blocks
//   - YAML: top-level plural sections holding sequences or mappings
//   - JSON: the same tree shape as YAML
//
// All attribute values are normalized to strings at the parse boundary, so
// the planner compares plain string maps regardless of source format.
//
// The Exporter is the inverse of the Parser: exporting live state and
// re-parsing the output yields descriptors that diff to an empty plan.
package config
