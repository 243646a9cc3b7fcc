package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"gopkg.in/yaml.v3"

	"github.com/opencomply/opencomply/pkg/engine"
)

// Parser turns raw file content into canonical resource descriptors. All
// three formats normalize to the same descriptor shape, so the planner never
// branches on format.
//
// Parsing is fail-fast at file granularity: a malformed block can corrupt
// the parse of everything after it, so a syntactically invalid file yields
// zero descriptors and is reported as fully failed.
type Parser struct {
	schemas *SchemaRegistry
}

// NewParser creates a parser with the default schema registry.
func NewParser() *Parser {
	return &Parser{schemas: NewSchemaRegistry()}
}

// Parse implements engine.Parser.
func (p *Parser) Parse(path, content string, format engine.Format, sourceFileID string) *engine.ParseResult {
	result := &engine.ParseResult{Descriptors: []engine.ResourceDescriptor{}}

	switch format {
	case engine.FormatHCL:
		p.parseHCL(path, content, result)
	case engine.FormatYAML:
		p.parseYAML(path, content, result)
	case engine.FormatJSON:
		p.parseJSON(path, content, result)
	default:
		result.Errors = append(result.Errors, engine.ParseIssue{
			Path:    path,
			Message: fmt.Sprintf("unsupported format: %s", format),
		})
	}

	if !result.OK() {
		result.Descriptors = []engine.ResourceDescriptor{}
		return result
	}

	for i := range result.Descriptors {
		result.Descriptors[i].SourceFileID = sourceFileID
		unknown, issues := p.schemas.ValidateDescriptor(&result.Descriptors[i])
		for _, name := range unknown {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"%s %q: unknown attribute %q",
				result.Descriptors[i].Type, result.Descriptors[i].NaturalKey, name))
		}
		result.ValidationIssues = append(result.ValidationIssues, issues...)
	}
	return result
}

// parseHCL handles the declarative resource-block grammar:
//
//	resource "<type>" "<key>" {
//	    attr = "value"
//	}
func (p *Parser) parseHCL(path, content string, result *engine.ParseResult) {
	file, diags := hclparse.NewParser().ParseHCL([]byte(content), path)
	appendDiagnostics(path, diags, result)
	if diags.HasErrors() || file == nil {
		return
	}

	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		result.Errors = append(result.Errors, engine.ParseIssue{
			Path:    path,
			Message: "unexpected body type from parser",
		})
		return
	}

	dedup := newKeyTracker()
	for _, block := range body.Blocks {
		if block.Type != "resource" {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"%s:%d: unknown block type %q ignored",
				path, block.DefRange().Start.Line, block.Type))
			continue
		}
		line := block.DefRange().Start.Line
		if len(block.Labels) != 2 {
			result.Errors = append(result.Errors, engine.ParseIssue{
				Path:    path,
				Line:    line,
				Message: "resource block requires two labels: resource \"<type>\" \"<key>\"",
			})
			continue
		}

		t := engine.ResourceType(block.Labels[0])
		key := block.Labels[1]
		if err := t.Validate(); err != nil {
			result.Errors = append(result.Errors, engine.ParseIssue{
				Path: path, Line: line, Message: err.Error(),
			})
			continue
		}
		if key == "" {
			result.Errors = append(result.Errors, engine.ParseIssue{
				Path: path, Line: line, Message: "resource block has an empty key label",
			})
			continue
		}

		attrs := make(map[string]string, len(block.Body.Attributes))
		names := make([]string, 0, len(block.Body.Attributes))
		for name := range block.Body.Attributes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			attr := block.Body.Attributes[name]
			val, valDiags := attr.Expr.Value(nil)
			if valDiags.HasErrors() {
				appendDiagnostics(path, valDiags, result)
				continue
			}
			if val.IsNull() {
				continue
			}
			strVal, err := convert.Convert(val, cty.String)
			if err != nil {
				result.Errors = append(result.Errors, engine.ParseIssue{
					Path:    path,
					Line:    attr.SrcRange.Start.Line,
					Message: fmt.Sprintf("attribute %q: %v", name, err),
				})
				continue
			}
			attrs[name] = strVal.AsString()
		}
		for _, nested := range block.Body.Blocks {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"%s:%d: nested %q block ignored",
				path, nested.DefRange().Start.Line, nested.Type))
		}

		keyField := t.NaturalKeyField()
		if declared, ok := attrs[keyField]; ok && declared != key {
			result.Errors = append(result.Errors, engine.ParseIssue{
				Path: path, Line: line,
				Message: fmt.Sprintf(
					"attribute %q (%q) conflicts with block key %q", keyField, declared, key),
			})
			continue
		}
		attrs[keyField] = key

		if prev, dup := dedup.add(t, key, line); dup {
			result.Errors = append(result.Errors, engine.ParseIssue{
				Path: path, Line: line,
				Message: fmt.Sprintf(
					"duplicate %s %q (first declared at line %d)", t, key, prev),
			})
			continue
		}

		result.Descriptors = append(result.Descriptors, engine.ResourceDescriptor{
			Type:       t,
			NaturalKey: key,
			Attributes: attrs,
		})
	}
}

// parseYAML handles the YAML mapping format: top-level keys are resource
// type plurals, values are either a sequence of attribute maps or a mapping
// of natural key to attribute map.
func (p *Parser) parseYAML(path, content string, result *engine.ParseResult) {
	if strings.TrimSpace(content) == "" {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal([]byte(content), &tree); err != nil {
		result.Errors = append(result.Errors, engine.ParseIssue{
			Path:    path,
			Message: err.Error(),
		})
		return
	}
	p.descriptorsFromTree(path, tree, result)
}

// parseJSON handles the JSON mapping format, structurally identical to the
// YAML format.
func (p *Parser) parseJSON(path, content string, result *engine.ParseResult) {
	if strings.TrimSpace(content) == "" {
		return
	}
	var tree map[string]any
	if err := json.Unmarshal([]byte(content), &tree); err != nil {
		issue := engine.ParseIssue{Path: path, Message: err.Error()}
		var syn *json.SyntaxError
		if ok := errors.As(err, &syn); ok {
			issue.Line = lineOfOffset(content, syn.Offset)
		}
		result.Errors = append(result.Errors, issue)
		return
	}
	p.descriptorsFromTree(path, tree, result)
}

func (p *Parser) descriptorsFromTree(path string, tree map[string]any, result *engine.ParseResult) {
	dedup := newKeyTracker()

	sections := make([]string, 0, len(tree))
	for section := range tree {
		sections = append(sections, section)
	}
	sort.Strings(sections)

	for _, section := range sections {
		t, ok := engine.ResourceTypeForPlural(section)
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"%s: unknown section %q ignored", path, section))
			continue
		}
		keyField := t.NaturalKeyField()

		switch items := tree[section].(type) {
		case nil:
			// Empty section declares the type with zero resources.
		case []any:
			for i, item := range items {
				attrs, err := attributeMap(item)
				if err != nil {
					result.Errors = append(result.Errors, engine.ParseIssue{
						Path:    path,
						Message: fmt.Sprintf("%s[%d]: %v", section, i, err),
					})
					continue
				}
				key := attrs[keyField]
				if key == "" {
					result.Errors = append(result.Errors, engine.ParseIssue{
						Path:    path,
						Message: fmt.Sprintf("%s[%d]: missing %q", section, i, keyField),
					})
					continue
				}
				p.addTreeDescriptor(path, t, key, attrs, dedup, result)
			}
		case map[string]any:
			keys := make([]string, 0, len(items))
			for key := range items {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				attrs, err := attributeMap(items[key])
				if err != nil {
					result.Errors = append(result.Errors, engine.ParseIssue{
						Path:    path,
						Message: fmt.Sprintf("%s.%s: %v", section, key, err),
					})
					continue
				}
				if declared, ok := attrs[keyField]; ok && declared != key {
					result.Errors = append(result.Errors, engine.ParseIssue{
						Path: path,
						Message: fmt.Sprintf(
							"%s.%s: attribute %q (%q) conflicts with mapping key",
							section, key, keyField, declared),
					})
					continue
				}
				attrs[keyField] = key
				p.addTreeDescriptor(path, t, key, attrs, dedup, result)
			}
		default:
			result.Errors = append(result.Errors, engine.ParseIssue{
				Path:    path,
				Message: fmt.Sprintf("%s: expected a sequence or mapping", section),
			})
		}
	}
}

func (p *Parser) addTreeDescriptor(path string, t engine.ResourceType, key string, attrs map[string]string, dedup *keyTracker, result *engine.ParseResult) {
	if prev, dup := dedup.add(t, key, 0); dup {
		_ = prev
		result.Errors = append(result.Errors, engine.ParseIssue{
			Path:    path,
			Message: fmt.Sprintf("duplicate %s %q", t, key),
		})
		return
	}
	result.Descriptors = append(result.Descriptors, engine.ResourceDescriptor{
		Type:       t,
		NaturalKey: key,
		Attributes: attrs,
	})
}

// attributeMap converts one mapping node to normalized string attributes.
// Scalars are stringified canonically so export and parse round-trip
// byte-stable; nested collections are rejected.
func attributeMap(item any) (map[string]string, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a mapping of attributes, got %T", item)
	}
	attrs := make(map[string]string, len(m))
	for name, raw := range m {
		if raw == nil {
			continue
		}
		val, ok := scalarString(raw)
		if !ok {
			return nil, fmt.Errorf("attribute %q: nested values are not supported", name)
		}
		if val == "" {
			continue
		}
		attrs[name] = val
	}
	return attrs, nil
}

func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		return "", false
	}
}

func appendDiagnostics(path string, diags hcl.Diagnostics, result *engine.ParseResult) {
	for _, diag := range diags {
		if diag.Severity != hcl.DiagError {
			result.Warnings = append(result.Warnings, diag.Error())
			continue
		}
		issue := engine.ParseIssue{Path: path, Message: diag.Error()}
		if diag.Subject != nil {
			issue.Line = diag.Subject.Start.Line
		}
		result.Errors = append(result.Errors, issue)
	}
}

// keyTracker detects natural-key collisions within one file.
type keyTracker struct {
	seen map[string]int
}

func newKeyTracker() *keyTracker {
	return &keyTracker{seen: make(map[string]int)}
}

func (k *keyTracker) add(t engine.ResourceType, key string, line int) (int, bool) {
	id := string(t) + "\x00" + key
	if prev, ok := k.seen[id]; ok {
		return prev, true
	}
	k.seen[id] = line
	return 0, false
}

func lineOfOffset(content string, offset int64) int {
	if offset <= 0 || offset > int64(len(content)) {
		return 0
	}
	return 1 + strings.Count(content[:offset], "\n")
}
