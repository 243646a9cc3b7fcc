package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type stubParser struct {
	parseFunc func(path, content string, format Format, sourceFileID string) *ParseResult
}

func (s *stubParser) Parse(path, content string, format Format, sourceFileID string) *ParseResult {
	return s.parseFunc(path, content, format, sourceFileID)
}

// descriptorParser returns the same descriptors for any content.
func descriptorParser(descs ...ResourceDescriptor) *stubParser {
	return &stubParser{parseFunc: func(path, content string, format Format, sourceFileID string) *ParseResult {
		out := make([]ResourceDescriptor, len(descs))
		copy(out, descs)
		for i := range out {
			out[i].SourceFileID = sourceFileID
		}
		return &ParseResult{Descriptors: out}
	}}
}

type stubExporter struct {
	content string
}

func (s *stubExporter) Export(t ResourceType, format Format, descriptors []ResourceDescriptor) (string, error) {
	return s.content, nil
}

type mockFileStore struct {
	mu    sync.Mutex
	files map[string]*ConfigFile
}

func newMockFileStore() *mockFileStore {
	return &mockFileStore{files: make(map[string]*ConfigFile)}
}

func (m *mockFileStore) key(workspace, path string) string {
	return workspace + "/" + path
}

func (m *mockFileStore) GetFile(ctx context.Context, workspace, path string) (*ConfigFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[m.key(workspace, path)]
	if !ok {
		return nil, NewStoreError("file not found", nil).WithCode(ErrCodeNotFound)
	}
	cp := *f
	return &cp, nil
}

func (m *mockFileStore) ListFiles(ctx context.Context, workspace, prefix string) ([]*ConfigFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ConfigFile
	for _, f := range m.files {
		if f.Workspace == workspace && strings.HasPrefix(f.Path, prefix) {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockFileStore) CreateFile(ctx context.Context, workspace, path string, format Format, content, commitMessage string) (*ConfigFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(workspace, path)
	if _, ok := m.files[k]; ok {
		return nil, NewConflictError("file already exists", nil).WithCode(ErrCodeAlreadyExists)
	}
	f := &ConfigFile{
		ID:            k,
		Workspace:     workspace,
		Path:          path,
		Format:        format,
		Content:       content,
		Version:       1,
		CommitMessage: commitMessage,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	m.files[k] = f
	cp := *f
	return &cp, nil
}

func (m *mockFileStore) UpdateFile(ctx context.Context, workspace, path, content string, baseVersion int64, commitMessage string) (*ConfigFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[m.key(workspace, path)]
	if !ok {
		return nil, NewStoreError("file not found", nil).WithCode(ErrCodeNotFound)
	}
	if f.Version != baseVersion {
		return nil, NewConflictError("version mismatch", nil).WithCode(ErrCodeVersionMismatch)
	}
	f.Content = content
	f.Version++
	f.CommitMessage = commitMessage
	f.UpdatedAt = time.Now().UTC()
	cp := *f
	return &cp, nil
}

type stubGate struct {
	result *GateResult
}

func (s *stubGate) CheckPlan(ctx context.Context, plan *Plan) (*GateResult, error) {
	return s.result, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries int
}

func (r *recordingAudit) RecordApply(ctx context.Context, workspace, actor, path string, result *ApplyResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries++
	return nil
}

func newTestService(parser Parser, provider ResourceStoreProvider, files FileStore, opts ServiceOptions) *Service {
	return NewService(files, provider, parser, &stubExporter{content: "exported"}, testLogger(), opts)
}

func TestService_Preview(t *testing.T) {
	provider := newMockStoreProvider()
	provider.store(ResourceTypeControl).seed("AC-2", map[string]string{"control_id": "AC-2", "title": "Old"})

	parser := descriptorParser(
		desc(ResourceTypeControl, "AC-1", map[string]string{"title": "New"}),
		desc(ResourceTypeControl, "AC-2", map[string]string{"title": "Fresh"}),
	)
	svc := newTestService(parser, provider, newMockFileStore(), ServiceOptions{})

	plan, err := svc.Preview(context.Background(), "default", "controls.hcl", "irrelevant", FormatHCL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Summary.ToCreate != 1 || plan.Summary.ToUpdate != 1 || plan.Summary.ToDelete != 0 {
		t.Errorf("unexpected summary: %+v", plan.Summary)
	}

	// Preview never mutates.
	rows, _ := provider.store(ResourceTypeControl).List(context.Background())
	if len(rows) != 1 {
		t.Errorf("preview must not touch the store, got %d rows", len(rows))
	}
}

func TestService_PreviewParseErrors(t *testing.T) {
	parser := &stubParser{parseFunc: func(path, content string, format Format, sourceFileID string) *ParseResult {
		return &ParseResult{Errors: []ParseIssue{{Path: path, Line: 3, Message: "boom"}}}
	}}
	svc := newTestService(parser, newMockStoreProvider(), newMockFileStore(), ServiceOptions{})

	plan, err := svc.Preview(context.Background(), "default", "bad.hcl", "x", FormatHCL)
	if err != nil {
		t.Fatalf("parse errors surface in the plan, not as an error: %v", err)
	}
	if len(plan.Errors) != 1 {
		t.Errorf("expected 1 plan error, got %v", plan.Errors)
	}
	if !plan.Empty() {
		t.Errorf("a failed parse must not propose changes: %+v", plan.Summary)
	}
}

func TestService_ApplyIsIdempotent(t *testing.T) {
	provider := newMockStoreProvider()
	parser := descriptorParser(
		desc(ResourceTypeVendor, "Acme", map[string]string{"status": "active"}),
	)
	files := newMockFileStore()
	svc := newTestService(parser, provider, files, ServiceOptions{})

	req := ApplyRequest{
		Workspace: "default",
		Path:      "vendors.hcl",
		Content:   "irrelevant",
		Format:    FormatHCL,
		Actor:     "tester",
	}

	first, err := svc.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Created != 1 {
		t.Fatalf("expected 1 create, got %+v", first)
	}

	second, err := svc.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Created != 0 || second.Updated != 0 || second.Deleted != 0 {
		t.Errorf("second apply of identical content must be a no-op: %+v", second)
	}

	// The file record versions forward on each apply.
	f, err := files.GetFile(context.Background(), "default", "vendors.hcl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Version != 2 {
		t.Errorf("expected version 2, got %d", f.Version)
	}
}

func TestService_ApplyParseErrorBlocks(t *testing.T) {
	parser := &stubParser{parseFunc: func(path, content string, format Format, sourceFileID string) *ParseResult {
		return &ParseResult{Errors: []ParseIssue{{Path: path, Message: "bad syntax"}}}
	}}
	provider := newMockStoreProvider()
	svc := newTestService(parser, provider, newMockFileStore(), ServiceOptions{})

	_, err := svc.Apply(context.Background(), ApplyRequest{
		Workspace: "default", Path: "bad.hcl", Content: "x", Format: FormatHCL,
	})
	if !IsParse(err) {
		t.Fatalf("expected a parse error, got %v", err)
	}
}

func TestService_ApplyValidationIssueBlocks(t *testing.T) {
	parser := &stubParser{parseFunc: func(path, content string, format Format, sourceFileID string) *ParseResult {
		return &ParseResult{
			Descriptors: []ResourceDescriptor{desc(ResourceTypeRisk, "R", nil)},
			ValidationIssues: []ValidationIssue{{
				Type: ResourceTypeRisk, NaturalKey: "R", Message: "severity out of range",
			}},
		}
	}}
	svc := newTestService(parser, newMockStoreProvider(), newMockFileStore(), ServiceOptions{})

	_, err := svc.Apply(context.Background(), ApplyRequest{
		Workspace: "default", Path: "risks.hcl", Content: "x", Format: FormatHCL,
	})
	if !IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestService_ApplyRejectsConcurrentSameType(t *testing.T) {
	provider := newMockStoreProvider()

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	parser := &stubParser{parseFunc: func(path, content string, format Format, sourceFileID string) *ParseResult {
		return &ParseResult{Descriptors: []ResourceDescriptor{
			desc(ResourceTypeControl, "AC-1", map[string]string{"title": "T"}),
		}}
	}}

	files := newMockFileStore()
	svc := newTestService(parser, provider, files, ServiceOptions{
		Gate: &blockingGate{started: started, release: release, once: &once},
	})

	req := ApplyRequest{Workspace: "default", Path: "c.hcl", Content: "x", Format: FormatHCL}

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Apply(context.Background(), req)
		errCh <- err
	}()
	<-started

	_, err := svc.Apply(context.Background(), req)
	if !IsConflict(err) {
		t.Errorf("expected an in-flight conflict, got %v", err)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	// Once the first apply finishes, the lock is released.
	if _, err := svc.Apply(context.Background(), req); err != nil {
		t.Errorf("apply after release failed: %v", err)
	}
}

// blockingGate parks the first apply inside the locked section so the test
// can race a second one against it.
type blockingGate struct {
	started chan struct{}
	release chan struct{}
	once    *sync.Once
}

func (g *blockingGate) CheckPlan(ctx context.Context, plan *Plan) (*GateResult, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return &GateResult{Allowed: true}, nil
}

func TestService_ApplyPolicyDenied(t *testing.T) {
	parser := descriptorParser(desc(ResourceTypeControl, "AC-1", map[string]string{"title": "T"}))
	gate := &stubGate{result: &GateResult{
		Allowed: false,
		Violations: []PolicyViolation{{
			Policy: "deletion_guard", Message: "too many deletions", Severity: "error",
		}},
	}}
	svc := newTestService(parser, newMockStoreProvider(), newMockFileStore(), ServiceOptions{Gate: gate})

	_, err := svc.Apply(context.Background(), ApplyRequest{
		Workspace: "default", Path: "c.hcl", Content: "x", Format: FormatHCL,
	})
	if err == nil {
		t.Fatal("expected a policy denial")
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != ErrCodePolicyDenied {
		t.Errorf("expected POLICY_DENIED, got %v", err)
	}
}

func TestService_ApplyRecordsAudit(t *testing.T) {
	parser := descriptorParser(desc(ResourceTypeVendor, "Acme", nil))
	audit := &recordingAudit{}
	svc := newTestService(parser, newMockStoreProvider(), newMockFileStore(), ServiceOptions{Audit: audit})

	if _, err := svc.Apply(context.Background(), ApplyRequest{
		Workspace: "default", Path: "v.hcl", Content: "x", Format: FormatHCL, Actor: "tester",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if audit.entries != 1 {
		t.Errorf("expected 1 audit entry, got %d", audit.entries)
	}
}

// recordingSpanStarter captures the span starts the service issues, backed
// by a no-op tracer so the spans themselves are inert.
type recordingSpanStarter struct {
	mu        sync.Mutex
	tracer    trace.Tracer
	planSpans []string
	applyRuns []string
}

func newRecordingSpanStarter() *recordingSpanStarter {
	return &recordingSpanStarter{tracer: noop.NewTracerProvider().Tracer("test")}
}

func (r *recordingSpanStarter) StartPlanSpan(ctx context.Context, workspace, path string) (context.Context, trace.Span) {
	r.mu.Lock()
	r.planSpans = append(r.planSpans, workspace+"/"+path)
	r.mu.Unlock()
	return r.tracer.Start(ctx, "reconcile.plan")
}

func (r *recordingSpanStarter) StartApplySpan(ctx context.Context, workspace, runID string) (context.Context, trace.Span) {
	r.mu.Lock()
	r.applyRuns = append(r.applyRuns, runID)
	r.mu.Unlock()
	return r.tracer.Start(ctx, "reconcile.apply")
}

func TestService_TracesPreviewAndApply(t *testing.T) {
	parser := descriptorParser(desc(ResourceTypeVendor, "Acme", map[string]string{"status": "active"}))
	spans := newRecordingSpanStarter()
	svc := newTestService(parser, newMockStoreProvider(), newMockFileStore(), ServiceOptions{Tracer: spans})

	if _, err := svc.Preview(context.Background(), "default", "vendors.hcl", "x", FormatHCL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spans.planSpans) != 1 || spans.planSpans[0] != "default/vendors.hcl" {
		t.Errorf("expected one plan span for default/vendors.hcl, got %v", spans.planSpans)
	}

	result, err := svc.Apply(context.Background(), ApplyRequest{
		Workspace: "default", Path: "vendors.hcl", Content: "x", Format: FormatHCL, Actor: "tester",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RunID == "" {
		t.Error("expected the result to carry a run id")
	}
	if len(spans.applyRuns) != 1 || spans.applyRuns[0] != result.RunID {
		t.Errorf("expected one apply span for run %q, got %v", result.RunID, spans.applyRuns)
	}
}

func TestService_RefreshFromDatabase(t *testing.T) {
	provider := newMockStoreProvider()
	provider.store(ResourceTypeControl).seed("AC-1", map[string]string{"control_id": "AC-1", "title": "T"})

	files := newMockFileStore()
	svc := newTestService(descriptorParser(), provider, files, ServiceOptions{})

	written, err := svc.RefreshFromDatabase(context.Background(), "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != len(AllResourceTypes()) {
		t.Errorf("expected one file per resource type, got %d", written)
	}
	f, err := files.GetFile(context.Background(), "default", "controls.hcl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Content != "exported" {
		t.Errorf("unexpected content: %q", f.Content)
	}

	// Refreshing again updates in place rather than conflicting.
	if _, err := svc.RefreshFromDatabase(context.Background(), "default"); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
	f, _ = files.GetFile(context.Background(), "default", "controls.hcl")
	if f.Version != 2 {
		t.Errorf("expected version 2 after second refresh, got %d", f.Version)
	}
}

func TestService_ListFilesBootstraps(t *testing.T) {
	provider := newMockStoreProvider()
	files := newMockFileStore()
	svc := newTestService(descriptorParser(), provider, files, ServiceOptions{})

	listed, err := svc.ListFiles(context.Background(), "default", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != len(AllResourceTypes()) {
		t.Errorf("expected a seeded file per type, got %d", len(listed))
	}

	// Without bootstrap an empty workspace lists empty.
	empty, err := svc.ListFiles(context.Background(), "other", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no files, got %d", len(empty))
	}
}
