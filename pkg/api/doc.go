// Package api exposes the reconciliation pipeline over a REST API.
//
// Routes are grouped under /api/v1. File endpoints manage the versioned
// declarative tree, preview and apply drive the reconciliation service, and
// the read-side endpoints serve cached resource projections plus the audit
// trail. Policy endpoints manage the Rego gate. /healthz and the metrics
// endpoint live at the root.
package api
