package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/opencomply/opencomply/pkg/engine"
)

// Exporter renders live-state descriptors back into declarative file
// content. Output is deterministic for a given input: resources sorted by
// natural key, attributes sorted by name, so exporting twice from the same
// state produces byte-identical content and re-parsing yields an empty plan.
type Exporter struct{}

// NewExporter creates an exporter.
func NewExporter() *Exporter {
	return &Exporter{}
}

// Export implements engine.Exporter.
func (e *Exporter) Export(t engine.ResourceType, format engine.Format, descriptors []engine.ResourceDescriptor) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	sorted := make([]engine.ResourceDescriptor, len(descriptors))
	copy(sorted, descriptors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].NaturalKey < sorted[j].NaturalKey
	})

	switch format {
	case engine.FormatHCL:
		return exportHCL(t, sorted), nil
	case engine.FormatYAML:
		out, err := yaml.Marshal(exportTree(t, sorted))
		if err != nil {
			return "", err
		}
		return string(out), nil
	case engine.FormatJSON:
		out, err := json.MarshalIndent(exportTree(t, sorted), "", "  ")
		if err != nil {
			return "", err
		}
		return string(out) + "\n", nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// exportHCL writes one resource block per descriptor. The natural key is
// the block label, so the key attribute itself is omitted from the body;
// the parser re-injects it from the label.
func exportHCL(t engine.ResourceType, descriptors []engine.ResourceDescriptor) string {
	file := hclwrite.NewEmptyFile()
	body := file.Body()
	keyField := t.NaturalKeyField()

	for i, d := range descriptors {
		if i > 0 {
			body.AppendNewline()
		}
		block := body.AppendNewBlock("resource", []string{string(t), d.NaturalKey})
		for _, name := range d.SortedAttributeNames() {
			if name == keyField {
				continue
			}
			block.Body().SetAttributeValue(name, cty.StringVal(d.Attributes[name]))
		}
	}
	return string(file.Bytes())
}

// exportTree builds the plural-keyed mapping shared by the YAML and JSON
// formats. yaml.Marshal and json.Marshal both emit map keys sorted, which
// keeps the attribute order stable.
func exportTree(t engine.ResourceType, descriptors []engine.ResourceDescriptor) map[string][]map[string]string {
	items := make([]map[string]string, 0, len(descriptors))
	for _, d := range descriptors {
		attrs := make(map[string]string, len(d.Attributes))
		for name, val := range d.Attributes {
			if val == "" {
				continue
			}
			attrs[name] = val
		}
		attrs[t.NaturalKeyField()] = d.NaturalKey
		items = append(items, attrs)
	}
	return map[string][]map[string]string{t.Plural(): items}
}
