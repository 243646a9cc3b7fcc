package config

import (
	"strings"
	"testing"

	"github.com/opencomply/opencomply/pkg/engine"
)

func TestSchemaRegistry_ValidateDescriptor(t *testing.T) {
	registry := NewSchemaRegistry()

	tests := []struct {
		name        string
		descriptor  engine.ResourceDescriptor
		wantUnknown int
		wantIssues  int
		wantMsg     string
	}{
		{
			name: "valid control",
			descriptor: engine.ResourceDescriptor{
				Type:       engine.ResourceTypeControl,
				NaturalKey: "AC-1",
				Attributes: map[string]string{
					"control_id": "AC-1",
					"title":      "Access Control Policy",
					"status":     "active",
				},
			},
		},
		{
			name: "control missing title",
			descriptor: engine.ResourceDescriptor{
				Type:       engine.ResourceTypeControl,
				NaturalKey: "AC-1",
				Attributes: map[string]string{"control_id": "AC-1"},
			},
			wantIssues: 1,
			wantMsg:    `"title" is required`,
		},
		{
			name: "risk with bad severity",
			descriptor: engine.ResourceDescriptor{
				Type:       engine.ResourceTypeRisk,
				NaturalKey: "Data breach",
				Attributes: map[string]string{
					"title":    "Data breach",
					"severity": "catastrophic",
				},
			},
			wantIssues: 1,
			wantMsg:    "must be one of",
		},
		{
			name: "vendor with invalid website",
			descriptor: engine.ResourceDescriptor{
				Type:       engine.ResourceTypeVendor,
				NaturalKey: "Acme",
				Attributes: map[string]string{
					"name":    "Acme",
					"website": "not a url",
				},
			},
			wantIssues: 1,
			wantMsg:    "valid URL",
		},
		{
			name: "unknown attribute is a warning not an issue",
			descriptor: engine.ResourceDescriptor{
				Type:       engine.ResourceTypeFramework,
				NaturalKey: "SOC2",
				Attributes: map[string]string{
					"name":  "SOC2",
					"color": "blue",
				},
			},
			wantUnknown: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown, issues := registry.ValidateDescriptor(&tt.descriptor)
			if len(unknown) != tt.wantUnknown {
				t.Errorf("expected %d unknown attributes, got %d: %v", tt.wantUnknown, len(unknown), unknown)
			}
			if len(issues) != tt.wantIssues {
				t.Fatalf("expected %d issues, got %d: %v", tt.wantIssues, len(issues), issues)
			}
			if tt.wantMsg != "" && !strings.Contains(issues[0].Message, tt.wantMsg) {
				t.Errorf("expected message containing %q, got %q", tt.wantMsg, issues[0].Message)
			}
		})
	}
}

func TestSchemaRegistry_KnownFields(t *testing.T) {
	registry := NewSchemaRegistry()
	fields := registry.KnownFields(engine.ResourceTypeControl)
	want := []string{"category", "control_id", "description", "status", "title"}
	if len(fields) != len(want) {
		t.Fatalf("expected %d fields, got %d: %v", len(want), len(fields), fields)
	}
	for i, name := range want {
		if fields[i] != name {
			t.Errorf("field %d: expected %q, got %q", i, name, fields[i])
		}
	}
}
