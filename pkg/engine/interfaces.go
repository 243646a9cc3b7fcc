package engine

import (
	"context"
)

// Parser turns raw file content into canonical resource descriptors.
// Implemented by pkg/config for the declarative, YAML and JSON formats.
type Parser interface {
	// Parse parses one file's content. Fail-fast at file granularity: a
	// syntactically invalid file yields zero descriptors and non-empty
	// Errors. The sourceFileID is attached to every descriptor.
	Parse(path, content string, format Format, sourceFileID string) *ParseResult
}

// Exporter regenerates config file content from live descriptors; the
// inverse of Parser for one resource type. Output must re-parse and re-diff
// to an empty plan against the same descriptors.
type Exporter interface {
	Export(t ResourceType, format Format, descriptors []ResourceDescriptor) (string, error)
}

// ResourceStore is the uniform read/write contract each of the five CRUD
// domains implements. A store instance is already scoped to one workspace
// and one resource type.
type ResourceStore interface {
	// List returns all live (not soft-deleted) resources.
	List(ctx context.Context) ([]StoredResource, error)

	// FindByNaturalKey returns the live resource with the given key, or a
	// NOT_FOUND store error.
	FindByNaturalKey(ctx context.Context, key string) (*StoredResource, error)

	// Create inserts a new resource from attributes. The natural key is
	// derived from the attributes via ResourceType.NaturalKeyField.
	Create(ctx context.Context, attrs map[string]string) (*StoredResource, error)

	// Update applies the given attributes to the resource by id. Attributes
	// with empty values are cleared; others are set. Unmentioned attributes
	// are left untouched (minimal-diff writes).
	Update(ctx context.Context, id string, attrs map[string]string) (*StoredResource, error)

	// Delete soft-deletes the resource by id.
	Delete(ctx context.Context, id string) error
}

// ResourceStoreProvider hands out the store for one (workspace, type) pair.
type ResourceStoreProvider interface {
	Resources(workspace string, t ResourceType) ResourceStore
}

// FileStore owns persisted ConfigFile records. Pure storage; it never
// interprets content.
type FileStore interface {
	// GetFile returns the file at path, or a NOT_FOUND store error.
	GetFile(ctx context.Context, workspace, path string) (*ConfigFile, error)

	// ListFiles returns all files in the workspace whose path starts with
	// prefix (empty prefix lists everything), sorted by path.
	ListFiles(ctx context.Context, workspace, prefix string) ([]*ConfigFile, error)

	// CreateFile creates a new file at version 1. Fails with ALREADY_EXISTS
	// if the path is taken.
	CreateFile(ctx context.Context, workspace, path string, format Format, content, commitMessage string) (*ConfigFile, error)

	// UpdateFile overwrites content and increments the version. Fails with
	// NOT_FOUND if the path is absent and with VERSION_MISMATCH if
	// baseVersion is not the current version (optimistic concurrency).
	UpdateFile(ctx context.Context, workspace, path, content string, baseVersion int64, commitMessage string) (*ConfigFile, error)
}

// CacheInvalidator is notified after any successful mutation of a resource
// type so dependent cached projections (list views, detail pages) can be
// refreshed.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, workspace string, t ResourceType)
}

// PlanGate evaluates governance policies against a computed plan before it
// is applied. Implemented by pkg/policy.
type PlanGate interface {
	CheckPlan(ctx context.Context, plan *Plan) (*GateResult, error)
}

// AuditRecorder records one entry per apply invocation.
type AuditRecorder interface {
	RecordApply(ctx context.Context, workspace, actor, path string, result *ApplyResult) error
}
