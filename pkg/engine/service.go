package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MetricsRecorder receives plan/apply observations. Implemented by
// pkg/telemetry; a nil recorder disables instrumentation.
type MetricsRecorder interface {
	ObservePlan(workspace string, summary PlanSummary, duration time.Duration)
	ObserveApply(workspace string, result *ApplyResult, duration time.Duration)
}

// SpanStarter opens trace spans around the preview and apply paths.
// Implemented by pkg/telemetry; a nil starter disables tracing.
type SpanStarter interface {
	StartPlanSpan(ctx context.Context, workspace, path string) (context.Context, trace.Span)
	StartApplySpan(ctx context.Context, workspace, runID string) (context.Context, trace.Span)
}

// Service orchestrates the reconciliation pipeline: parse, snapshot, plan on
// the preview path, plus policy gate, apply, file save and audit on the
// apply path, and export on the refresh path.
type Service struct {
	files       FileStore
	stores      ResourceStoreProvider
	parser      Parser
	exporter    Exporter
	planner     *DiffPlanner
	snapshotter *Snapshotter
	applier     *Applier
	gate        PlanGate
	audit       AuditRecorder
	metrics     MetricsRecorder
	tracer      SpanStarter
	logger      zerolog.Logger

	mu       sync.Mutex
	inflight map[lockKey]bool
}

type lockKey struct {
	workspace string
	t         ResourceType
}

// ServiceOptions configures optional service collaborators.
type ServiceOptions struct {
	// Gate is the plan policy gate; nil disables policy checks.
	Gate PlanGate

	// Audit records apply results; nil disables the audit trail.
	Audit AuditRecorder

	// Invalidator is notified of successful mutations per resource type.
	Invalidator CacheInvalidator

	// Metrics receives plan/apply observations.
	Metrics MetricsRecorder

	// Tracer opens spans around preview and apply; nil disables tracing.
	Tracer SpanStarter
}

// NewService creates the reconciliation service.
func NewService(files FileStore, stores ResourceStoreProvider, parser Parser, exporter Exporter, logger zerolog.Logger, opts ServiceOptions) *Service {
	return &Service{
		files:       files,
		stores:      stores,
		parser:      parser,
		exporter:    exporter,
		planner:     NewDiffPlanner(),
		snapshotter: NewSnapshotter(stores),
		applier:     NewApplier(stores, opts.Invalidator, logger),
		gate:        opts.Gate,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		logger:      logger.With().Str("component", "reconcile-service").Logger(),
		inflight:    make(map[lockKey]bool),
	}
}

// Preview parses the given content and diffs it against a fresh snapshot.
// It is a pure read path: nothing is mutated, so it is safe to call
// repeatedly and concurrently.
func (s *Service) Preview(ctx context.Context, workspace, path, content string, format Format) (plan *Plan, err error) {
	start := time.Now()
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartPlanSpan(ctx, workspace, path)
		defer func() { endSpan(span, err) }()
	}
	if err := format.Validate(); err != nil {
		return nil, NewPermanentError("cannot preview", err)
	}

	parsed := s.parser.Parse(path, content, format, path)
	plan = &Plan{
		Workspace: workspace,
		ToCreate:  []ResourceDescriptor{},
		ToUpdate:  []ResourceUpdate{},
		ToDelete:  []ResourceDescriptor{},
	}
	if !parsed.OK() {
		for _, e := range parsed.Errors {
			plan.Errors = append(plan.Errors, e.String())
		}
		plan.Warnings = append(plan.Warnings, parsed.Warnings...)
		return plan, nil
	}

	types := declaredTypes(parsed.Descriptors)
	current, err := s.snapshotter.SnapshotTypes(ctx, workspace, types)
	if err != nil {
		return nil, err
	}

	plan = s.planner.ComputePlan(parsed.Descriptors, current)
	plan.Workspace = workspace
	plan.Warnings = append(parsed.Warnings, plan.Warnings...)
	for _, issue := range parsed.ValidationIssues {
		plan.Warnings = append(plan.Warnings, issue.String())
	}

	if s.metrics != nil {
		s.metrics.ObservePlan(workspace, plan.Summary, time.Since(start))
	}
	return plan, nil
}

// ApplyRequest carries one apply invocation.
type ApplyRequest struct {
	Workspace     string
	Path          string
	Content       string
	Format        Format
	CommitMessage string
	Actor         string
}

// Apply runs the full pipeline: parse, lock, snapshot, plan, policy gate,
// apply, file save, audit. Parse and validation errors block the apply
// entirely; store errors during apply are collected per item in the result.
//
// Applies targeting the same (workspace, resourceType) are never
// interleaved: a second apply arriving while one is in flight is rejected
// with an APPLY_IN_FLIGHT conflict.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (result *ApplyResult, err error) {
	start := time.Now()
	runID := uuid.New().String()
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartApplySpan(ctx, req.Workspace, runID)
		defer func() { endSpan(span, err) }()
	}
	if err := req.Format.Validate(); err != nil {
		return nil, NewPermanentError("cannot apply", err)
	}

	parsed := s.parser.Parse(req.Path, req.Content, req.Format, req.Path)
	if !parsed.OK() {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.String())
		}
		return nil, NewParseError(strings.Join(msgs, "; "), nil)
	}
	if len(parsed.ValidationIssues) > 0 {
		msgs := make([]string, 0, len(parsed.ValidationIssues))
		for _, issue := range parsed.ValidationIssues {
			msgs = append(msgs, issue.String())
		}
		return nil, NewValidationError(strings.Join(msgs, "; "), nil)
	}

	types := declaredTypes(parsed.Descriptors)
	if err := s.acquire(req.Workspace, types); err != nil {
		return nil, err
	}
	defer s.release(req.Workspace, types)

	current, err := s.snapshotter.SnapshotTypes(ctx, req.Workspace, types)
	if err != nil {
		return nil, err
	}

	plan := s.planner.ComputePlan(parsed.Descriptors, current)
	plan.Workspace = req.Workspace
	if len(plan.Errors) > 0 {
		return nil, NewValidationError(strings.Join(plan.Errors, "; "), nil)
	}

	if s.gate != nil && !plan.Empty() {
		gate, err := s.gate.CheckPlan(ctx, plan)
		if err != nil {
			return nil, NewPermanentError("policy gate evaluation failed", err)
		}
		if !gate.Allowed {
			msgs := make([]string, 0, len(gate.Violations))
			for _, v := range gate.Violations {
				msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
			}
			return nil, NewPermanentError(strings.Join(msgs, "; "), nil).
				WithCode(ErrCodePolicyDenied)
		}
	}

	s.logger.Info().
		Str("run_id", runID).
		Str("workspace", req.Workspace).
		Str("path", req.Path).
		Int("to_create", plan.Summary.ToCreate).
		Int("to_update", plan.Summary.ToUpdate).
		Int("to_delete", plan.Summary.ToDelete).
		Msg("applying plan")

	result = s.applier.Apply(ctx, req.Workspace, plan)
	result.RunID = runID

	if err := s.saveFile(ctx, req.Workspace, req.Path, req.Content, req.Format, req.CommitMessage); err != nil {
		s.logger.Error().Str("run_id", runID).Err(err).Msg("saving config file after apply")
		result.Errors = append(result.Errors, ApplyError{
			Operation: OperationUpdate,
			Reason:    fmt.Sprintf("config file %s not saved: %v", req.Path, err),
		})
	}

	if s.audit != nil {
		if err := s.audit.RecordApply(ctx, req.Workspace, req.Actor, req.Path, result); err != nil {
			s.logger.Warn().Str("run_id", runID).Err(err).Msg("recording audit entry")
		}
	}

	s.logger.Info().
		Str("run_id", runID).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Int("errors", len(result.Errors)).
		Msg("apply finished")

	if s.metrics != nil {
		s.metrics.ObserveApply(req.Workspace, result, time.Since(start))
	}
	return result, nil
}

// RefreshFromDatabase regenerates the declarative tree from live state: one
// file per resource type, overwriting existing content. Returns the number
// of files written.
func (s *Service) RefreshFromDatabase(ctx context.Context, workspace string) (int, error) {
	written := 0
	for _, t := range AllResourceTypes() {
		descs, err := s.snapshotter.Snapshot(ctx, workspace, t)
		if err != nil {
			return written, err
		}
		content, err := s.exporter.Export(t, FormatHCL, descs)
		if err != nil {
			return written, NewPermanentError(fmt.Sprintf("exporting %s state", t), err)
		}
		path := exportPath(t)
		if err := s.saveFile(ctx, workspace, path, content, FormatHCL, "sync from database"); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// ListFiles lists the workspace's files. With bootstrap set and an empty
// tree, the exporter seeds one file per resource type first.
func (s *Service) ListFiles(ctx context.Context, workspace string, bootstrap bool) ([]*ConfigFile, error) {
	files, err := s.files.ListFiles(ctx, workspace, "")
	if err != nil {
		return nil, err
	}
	if len(files) > 0 || !bootstrap {
		return files, nil
	}
	if _, err := s.RefreshFromDatabase(ctx, workspace); err != nil {
		return nil, err
	}
	return s.files.ListFiles(ctx, workspace, "")
}

// saveFile creates the path on first write and updates it afterwards,
// carrying the stored version forward so the optimistic check passes.
func (s *Service) saveFile(ctx context.Context, workspace, path, content string, format Format, commitMessage string) error {
	existing, err := s.files.GetFile(ctx, workspace, path)
	if err != nil {
		if IsNotFound(err) {
			_, err = s.files.CreateFile(ctx, workspace, path, format, content, commitMessage)
		}
		return err
	}
	_, err = s.files.UpdateFile(ctx, workspace, path, content, existing.Version, commitMessage)
	return err
}

func (s *Service) acquire(workspace string, types []ResourceType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		if s.inflight[lockKey{workspace, t}] {
			return NewConflictError(
				fmt.Sprintf("an apply for %s/%s is already in flight", workspace, t), nil).
				WithCode(ErrCodeApplyInFlight)
		}
	}
	for _, t := range types {
		s.inflight[lockKey{workspace, t}] = true
	}
	return nil
}

func (s *Service) release(workspace string, types []ResourceType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		delete(s.inflight, lockKey{workspace, t})
	}
}

// declaredTypes returns the resource types a parsed file manages: a file
// that declares at least one resource of type T owns T's full key space for
// its workspace, so absent keys of T become deletes.
func declaredTypes(descs []ResourceDescriptor) []ResourceType {
	seen := map[ResourceType]bool{}
	for i := range descs {
		seen[descs[i].Type] = true
	}
	types := make([]ResourceType, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func exportPath(t ResourceType) string {
	return t.Plural() + ".hcl"
}

// endSpan closes a span with the outcome of the traced operation.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
