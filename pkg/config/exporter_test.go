package config

import (
	"strings"
	"testing"

	"github.com/opencomply/opencomply/pkg/engine"
)

func sampleControls() []engine.ResourceDescriptor {
	return []engine.ResourceDescriptor{
		{
			Type:       engine.ResourceTypeControl,
			NaturalKey: "AU-2",
			Attributes: map[string]string{
				"control_id": "AU-2",
				"title":      "Event Logging",
				"status":     "active",
			},
		},
		{
			Type:       engine.ResourceTypeControl,
			NaturalKey: "AC-1",
			Attributes: map[string]string{
				"control_id": "AC-1",
				"title":      "Access Control Policy",
				"category":   "access",
			},
		},
	}
}

func TestExporter_SortsByNaturalKey(t *testing.T) {
	exporter := NewExporter()

	for _, format := range []engine.Format{engine.FormatHCL, engine.FormatYAML, engine.FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			out, err := exporter.Export(engine.ResourceTypeControl, format, sampleControls())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			first := strings.Index(out, "AC-1")
			second := strings.Index(out, "AU-2")
			if first == -1 || second == -1 {
				t.Fatalf("expected both keys in output:\n%s", out)
			}
			if first > second {
				t.Errorf("expected AC-1 before AU-2:\n%s", out)
			}
		})
	}
}

func TestExporter_Deterministic(t *testing.T) {
	exporter := NewExporter()
	for _, format := range []engine.Format{engine.FormatHCL, engine.FormatYAML, engine.FormatJSON} {
		a, err := exporter.Export(engine.ResourceTypeControl, format, sampleControls())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b, err := exporter.Export(engine.ResourceTypeControl, format, sampleControls())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a != b {
			t.Errorf("%s export is not byte-stable", format)
		}
	}
}

func TestExporter_HCLOmitsKeyAttribute(t *testing.T) {
	exporter := NewExporter()
	out, err := exporter.Export(engine.ResourceTypeControl, engine.FormatHCL, sampleControls())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `resource "control" "AC-1"`) {
		t.Errorf("expected block header with key label:\n%s", out)
	}
	if strings.Contains(out, "control_id") {
		t.Errorf("key attribute must live in the label, not the body:\n%s", out)
	}
}

func TestExporter_EmptyState(t *testing.T) {
	exporter := NewExporter()
	out, err := exporter.Export(engine.ResourceTypeVendor, engine.FormatYAML, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "vendors") {
		t.Errorf("expected an empty vendors section:\n%s", out)
	}
}

// Round trip: export, re-parse, diff against the original state. The plan
// must be empty for every format.
func TestExporter_RoundTrip(t *testing.T) {
	exporter := NewExporter()
	parser := NewParser()
	planner := engine.NewDiffPlanner()

	state := []engine.ResourceDescriptor{
		{
			Type:       engine.ResourceTypeRisk,
			NaturalKey: "Data breach",
			Attributes: map[string]string{
				"title":      "Data breach",
				"severity":   "high",
				"likelihood": "possible",
				"treatment":  "mitigate",
				"status":     "open",
			},
		},
		{
			Type:       engine.ResourceTypeRisk,
			NaturalKey: "Vendor lock-in",
			Attributes: map[string]string{
				"title":    "Vendor lock-in",
				"severity": "low",
				"status":   "open",
			},
		},
	}

	for _, format := range []engine.Format{engine.FormatHCL, engine.FormatYAML, engine.FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			out, err := exporter.Export(engine.ResourceTypeRisk, format, state)
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			res := parser.Parse("risks."+format.Extension(), out, format, "file-1")
			if len(res.Errors) > 0 {
				t.Fatalf("re-parse errors: %v", res.Errors)
			}
			plan := planner.ComputePlan(res.Descriptors, state)
			if !plan.Empty() {
				t.Errorf("round trip produced a non-empty plan: %+v", plan.Summary)
			}
		})
	}
}
