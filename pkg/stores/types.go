package stores

import (
	"time"
)

// AuditEntry represents one recorded apply invocation.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Workspace string    `json:"workspace"`
	Actor     string    `json:"actor"`
	Path      string    `json:"path"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Deleted   int       `json:"deleted"`
	Errors    int       `json:"errors"`
	Details   string    `json:"details"` // JSON blob of per-resource errors
	Timestamp time.Time `json:"timestamp"`
}
