package engine

import (
	"fmt"
	"sort"
	"time"
)

// ResourceType identifies one of the managed compliance domains.
type ResourceType string

const (
	// ResourceTypeControl is a compliance control (e.g. "AC-1").
	ResourceTypeControl ResourceType = "control"

	// ResourceTypeFramework is a compliance framework (e.g. "SOC 2").
	ResourceTypeFramework ResourceType = "framework"

	// ResourceTypePolicy is an organizational policy document.
	ResourceTypePolicy ResourceType = "policy"

	// ResourceTypeRisk is a tracked risk register entry.
	ResourceTypeRisk ResourceType = "risk"

	// ResourceTypeVendor is a third-party vendor record.
	ResourceTypeVendor ResourceType = "vendor"
)

// AllResourceTypes returns the closed set of managed resource types in a
// stable order.
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceTypeControl,
		ResourceTypeFramework,
		ResourceTypePolicy,
		ResourceTypeRisk,
		ResourceTypeVendor,
	}
}

// Validate checks if the resource type is one of the managed domains.
func (t ResourceType) Validate() error {
	switch t {
	case ResourceTypeControl, ResourceTypeFramework, ResourceTypePolicy,
		ResourceTypeRisk, ResourceTypeVendor:
		return nil
	default:
		return fmt.Errorf("unknown resource type: %s", t)
	}
}

// Plural returns the plural form used for file paths and for top-level
// mapping keys in the YAML/JSON formats.
func (t ResourceType) Plural() string {
	if t == ResourceTypePolicy {
		return "policies"
	}
	return string(t) + "s"
}

// ResourceTypeForPlural resolves a plural mapping key back to its resource
// type.
func ResourceTypeForPlural(plural string) (ResourceType, bool) {
	for _, t := range AllResourceTypes() {
		if t.Plural() == plural {
			return t, true
		}
	}
	return "", false
}

// NaturalKeyField returns the attribute that carries the natural key for a
// resource type. Parser, Snapshotter and Exporter all derive keys through
// this single function; they must never diverge.
func (t ResourceType) NaturalKeyField() string {
	switch t {
	case ResourceTypeControl:
		return "control_id"
	case ResourceTypeRisk:
		return "title"
	default:
		return "name"
	}
}

// Format identifies the serialization format of a config file.
type Format string

const (
	// FormatHCL is the declarative resource-block format.
	FormatHCL Format = "hcl"

	// FormatYAML is the YAML mapping format.
	FormatYAML Format = "yaml"

	// FormatJSON is the JSON mapping format.
	FormatJSON Format = "json"
)

// Validate checks if the format is supported.
func (f Format) Validate() error {
	switch f {
	case FormatHCL, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", f)
	}
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// FormatForPath infers the format from a file path extension. Unknown
// extensions default to the declarative format.
func FormatForPath(path string) Format {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			switch path[i+1:] {
			case "yaml", "yml":
				return FormatYAML
			case "json":
				return FormatJSON
			}
			return FormatHCL
		}
	}
	return FormatHCL
}

// ResourceDescriptor is the canonical, format-independent representation of
// one declared or live resource. It is reconstructed on every parse or
// snapshot and never persisted.
type ResourceDescriptor struct {
	// Type is the managed resource type.
	Type ResourceType `json:"type"`

	// NaturalKey is the stable, human-meaningful identifier (control code,
	// framework name, ...), never a database-generated id, so files stay
	// stable across re-exports and environments.
	NaturalKey string `json:"natural_key"`

	// Attributes maps attribute names to normalized string values.
	Attributes map[string]string `json:"attributes"`

	// SourceFileID is the config file that declared this descriptor, when it
	// came from a parse rather than a snapshot.
	SourceFileID string `json:"source_file_id,omitempty"`
}

// SortedAttributeNames returns the attribute names in lexical order.
// Iteration over Attributes must always go through this to keep plan and
// export output deterministic.
func (d *ResourceDescriptor) SortedAttributeNames() []string {
	names := make([]string, 0, len(d.Attributes))
	for name := range d.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OperationType represents the type of operation to perform on a resource.
type OperationType string

const (
	// OperationCreate indicates a new resource should be created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing resource should be updated.
	OperationUpdate OperationType = "update"

	// OperationDelete indicates an existing resource should be deleted.
	OperationDelete OperationType = "delete"

	// OperationNoop indicates the resource already matches desired state.
	OperationNoop OperationType = "noop"
)

// IsDestructive returns true if the operation destroys live state.
func (o OperationType) IsDestructive() bool {
	return o == OperationDelete
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationNoop:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// FieldChange describes a single attribute-level difference.
type FieldChange struct {
	// Field is the attribute name being changed.
	Field string `json:"field"`

	// Before is the value in current state; empty for added attributes.
	Before string `json:"before,omitempty"`

	// After is the value in desired state; empty for removed attributes.
	After string `json:"after,omitempty"`

	// Action is add, remove or modify.
	Action ChangeAction `json:"action"`
}

// ChangeAction represents the kind of attribute change.
type ChangeAction string

const (
	// ChangeActionAdd indicates a new attribute is being set.
	ChangeActionAdd ChangeAction = "add"

	// ChangeActionRemove indicates an attribute is being cleared.
	ChangeActionRemove ChangeAction = "remove"

	// ChangeActionModify indicates an attribute value is changing.
	ChangeActionModify ChangeAction = "modify"
)

// ResourceUpdate is one toUpdate entry: the natural key plus only the
// attributes that differ, so the applier can do minimal-diff writes.
type ResourceUpdate struct {
	// Type is the resource type.
	Type ResourceType `json:"type"`

	// NaturalKey identifies the resource being updated.
	NaturalKey string `json:"natural_key"`

	// Changes lists the differing attributes, sorted by field name.
	Changes []FieldChange `json:"changes"`
}

// Plan is the computed set of operations that reconcile desired state with
// current state. It is a pure value: identical inputs always produce an
// identical Plan, with all sets sorted by natural key.
type Plan struct {
	// Workspace scopes the plan, when computed through the service.
	Workspace string `json:"workspace,omitempty"`

	// ToCreate lists descriptors present in desired but not in current state.
	ToCreate []ResourceDescriptor `json:"to_create"`

	// ToUpdate lists attribute-level diffs for keys present in both.
	ToUpdate []ResourceUpdate `json:"to_update"`

	// ToDelete lists descriptors present in current but not in desired state.
	ToDelete []ResourceDescriptor `json:"to_delete"`

	// Warnings are non-fatal inconsistencies (unknown fields, validation
	// findings surfaced during preview).
	Warnings []string `json:"warnings,omitempty"`

	// Errors are fatal findings (malformed descriptors); a plan with errors
	// must not be applied.
	Errors []string `json:"errors,omitempty"`

	// Summary provides counts over the sets above.
	Summary PlanSummary `json:"summary"`
}

// PlanSummary provides statistics about a plan.
type PlanSummary struct {
	// ToCreate is the number of resources to create.
	ToCreate int `json:"to_create"`

	// ToUpdate is the number of resources to update.
	ToUpdate int `json:"to_update"`

	// ToDelete is the number of resources to delete.
	ToDelete int `json:"to_delete"`

	// NoChange is the number of desired resources already in sync.
	NoChange int `json:"no_change"`
}

// Empty reports whether the plan contains no pending operations.
func (p *Plan) Empty() bool {
	return len(p.ToCreate) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0
}

// ResourceTypes returns the distinct resource types the plan touches, sorted.
func (p *Plan) ResourceTypes() []ResourceType {
	seen := map[ResourceType]bool{}
	for i := range p.ToCreate {
		seen[p.ToCreate[i].Type] = true
	}
	for i := range p.ToUpdate {
		seen[p.ToUpdate[i].Type] = true
	}
	for i := range p.ToDelete {
		seen[p.ToDelete[i].Type] = true
	}
	types := make([]ResourceType, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ApplyError records one per-resource failure during apply.
type ApplyError struct {
	// Type is the resource type of the failed item.
	Type ResourceType `json:"type"`

	// NaturalKey is the offending natural key.
	NaturalKey string `json:"natural_key"`

	// Operation is the operation that failed.
	Operation OperationType `json:"operation"`

	// Reason is the failure reason.
	Reason string `json:"reason"`
}

// ApplyResult is the accounting of one apply invocation. Per-resource
// failures are collected here; they never abort the remaining plan items.
type ApplyResult struct {
	// RunID identifies the apply run in logs, traces and events.
	RunID string `json:"run_id,omitempty"`

	// Created is the number of resources created.
	Created int `json:"created"`

	// Updated is the number of resources updated.
	Updated int `json:"updated"`

	// Deleted is the number of resources deleted.
	Deleted int `json:"deleted"`

	// Errors lists per-resource failures with natural key and reason.
	Errors []ApplyError `json:"errors,omitempty"`
}

// Succeeded returns the number of plan items that applied cleanly.
func (r *ApplyResult) Succeeded() int {
	return r.Created + r.Updated + r.Deleted
}

// ConfigFile is a persisted declarative configuration file. Files are
// soft-versioned: content is overwritten in place and the version counter
// increases on every successful write, but rows are never physically deleted.
type ConfigFile struct {
	// ID is the database identifier.
	ID string `json:"id"`

	// Workspace scopes the file.
	Workspace string `json:"workspace"`

	// Path is the logical file path, unique per workspace
	// (e.g. "controls/access.hcl").
	Path string `json:"path"`

	// Format is the serialization format of Content.
	Format Format `json:"format"`

	// Content is the raw file text.
	Content string `json:"content"`

	// Version is a strictly increasing counter, bumped on every write.
	Version int64 `json:"version"`

	// CommitMessage is the optional message supplied with the last write.
	CommitMessage string `json:"commit_message,omitempty"`

	// CreatedAt is when the path was first written.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the content was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredResource is a live resource row as seen through the resource-store
// contract.
type StoredResource struct {
	// ID is the database-generated identifier.
	ID string `json:"id"`

	// NaturalKey is the stable human-meaningful identifier.
	NaturalKey string `json:"natural_key"`

	// Attributes maps attribute names to values.
	Attributes map[string]string `json:"attributes"`

	// CreatedAt is when the resource was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the resource was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseIssue is a parse-time finding tagged with its source location.
type ParseIssue struct {
	// Path is the file path being parsed.
	Path string `json:"path"`

	// Line is the source line, when determinable; zero otherwise.
	Line int `json:"line,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (i ParseIssue) String() string {
	if i.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", i.Path, i.Line, i.Message)
	}
	if i.Path != "" {
		return fmt.Sprintf("%s: %s", i.Path, i.Message)
	}
	return i.Message
}

// ValidationIssue is a resource-scoped schema finding from the parse
// boundary. It is surfaced as a plan warning during preview and blocks the
// apply path.
type ValidationIssue struct {
	// Type is the resource type of the offending descriptor.
	Type ResourceType `json:"type"`

	// NaturalKey identifies the offending descriptor.
	NaturalKey string `json:"natural_key"`

	// Message describes the schema violation.
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s %q: %s", i.Type, i.NaturalKey, i.Message)
}

// ParseResult is the outcome of parsing one config file. Parsing is
// fail-fast at file granularity: when Errors is non-empty, Descriptors is
// always empty.
type ParseResult struct {
	// Descriptors are the successfully parsed resources.
	Descriptors []ResourceDescriptor `json:"descriptors"`

	// Warnings are non-fatal findings (unknown blocks, unknown attributes).
	Warnings []string `json:"warnings,omitempty"`

	// Errors are fatal syntax or structural findings; the whole file failed.
	Errors []ParseIssue `json:"errors,omitempty"`

	// ValidationIssues are resource-scoped schema findings.
	ValidationIssues []ValidationIssue `json:"validation_issues,omitempty"`
}

// OK reports whether the file parsed without fatal errors.
func (r *ParseResult) OK() bool {
	return len(r.Errors) == 0
}

// PolicyViolation is one finding from the plan policy gate.
type PolicyViolation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is info, warning, error or critical.
	Severity string `json:"severity"`
}

// GateResult is the outcome of evaluating the policy gate against a plan.
type GateResult struct {
	// Allowed is false when any error or critical violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists all findings.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`
}
