package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/opencomply/opencomply/pkg/engine"
)

// Attribute schemas form the closed set of fields each resource type
// accepts. Descriptors are validated against them at the parse boundary so
// type errors surface in the Parser rather than propagating into the
// Applier.

type controlSchema struct {
	ControlID   string `json:"control_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Status      string `json:"status" validate:"omitempty,oneof=draft active retired"`
}

type frameworkSchema struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Status      string `json:"status" validate:"omitempty,oneof=draft active archived"`
}

type policySchema struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Owner       string `json:"owner"`
	Status      string `json:"status" validate:"omitempty,oneof=draft published archived"`
}

type riskSchema struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Severity    string `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Likelihood  string `json:"likelihood" validate:"omitempty,oneof=rare unlikely possible likely certain"`
	Impact      string `json:"impact" validate:"omitempty,oneof=low medium high critical"`
	Treatment   string `json:"treatment" validate:"omitempty,oneof=accept mitigate transfer avoid"`
	Status      string `json:"status" validate:"omitempty,oneof=open in_review closed"`
}

type vendorSchema struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Website     string `json:"website" validate:"omitempty,url"`
	Category    string `json:"category"`
	RiskLevel   string `json:"risk_level" validate:"omitempty,oneof=low medium high critical"`
	Status      string `json:"status" validate:"omitempty,oneof=prospective active offboarded"`
}

// SchemaRegistry validates descriptor attributes against the per-type
// schemas.
type SchemaRegistry struct {
	validate  *validator.Validate
	blueprint map[engine.ResourceType]func() any
	fields    map[engine.ResourceType]map[string]bool
}

// NewSchemaRegistry creates the registry with schemas for all five managed
// resource types.
func NewSchemaRegistry() *SchemaRegistry {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	r := &SchemaRegistry{
		validate: v,
		blueprint: map[engine.ResourceType]func() any{
			engine.ResourceTypeControl:   func() any { return &controlSchema{} },
			engine.ResourceTypeFramework: func() any { return &frameworkSchema{} },
			engine.ResourceTypePolicy:    func() any { return &policySchema{} },
			engine.ResourceTypeRisk:      func() any { return &riskSchema{} },
			engine.ResourceTypeVendor:    func() any { return &vendorSchema{} },
		},
		fields: make(map[engine.ResourceType]map[string]bool),
	}
	for t, build := range r.blueprint {
		r.fields[t] = fieldNames(build())
	}
	return r
}

// KnownFields returns the accepted attribute names for a resource type,
// sorted.
func (r *SchemaRegistry) KnownFields(t engine.ResourceType) []string {
	names := make([]string, 0, len(r.fields[t]))
	for name := range r.fields[t] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDescriptor checks one descriptor's attributes. Unknown attributes
// come back as warnings; schema violations come back as issues.
func (r *SchemaRegistry) ValidateDescriptor(d *engine.ResourceDescriptor) (unknown []string, issues []engine.ValidationIssue) {
	build, ok := r.blueprint[d.Type]
	if !ok {
		issues = append(issues, engine.ValidationIssue{
			Type:       d.Type,
			NaturalKey: d.NaturalKey,
			Message:    "no schema registered for resource type",
		})
		return unknown, issues
	}

	known := r.fields[d.Type]
	for _, name := range d.SortedAttributeNames() {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}

	target := build()
	fillSchema(target, d.Attributes)
	if err := r.validate.Struct(target); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			issues = append(issues, engine.ValidationIssue{
				Type:       d.Type,
				NaturalKey: d.NaturalKey,
				Message:    err.Error(),
			})
			return unknown, issues
		}
		for _, fe := range verrs {
			issues = append(issues, engine.ValidationIssue{
				Type:       d.Type,
				NaturalKey: d.NaturalKey,
				Message:    validationMessage(fe),
			})
		}
	}
	return unknown, issues
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("attribute %q is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("attribute %q must be one of: %s", fe.Field(), fe.Param())
	case "url":
		return fmt.Sprintf("attribute %q must be a valid URL", fe.Field())
	default:
		return fmt.Sprintf("attribute %q failed %s validation", fe.Field(), fe.Tag())
	}
}

// fieldNames extracts the json attribute names from a schema struct.
func fieldNames(schema any) map[string]bool {
	names := make(map[string]bool)
	st := reflect.TypeOf(schema).Elem()
	for i := 0; i < st.NumField(); i++ {
		name := strings.SplitN(st.Field(i).Tag.Get("json"), ",", 2)[0]
		if name != "" && name != "-" {
			names[name] = true
		}
	}
	return names
}

// fillSchema copies attribute values into the matching schema struct fields.
// Unknown attributes are simply not copied; they were already reported as
// warnings.
func fillSchema(schema any, attrs map[string]string) {
	sv := reflect.ValueOf(schema).Elem()
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		name := strings.SplitN(st.Field(i).Tag.Get("json"), ",", 2)[0]
		if v, ok := attrs[name]; ok {
			sv.Field(i).SetString(v)
		}
	}
}
