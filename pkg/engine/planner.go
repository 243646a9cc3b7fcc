package engine

import (
	"fmt"
	"sort"
)

// DiffPlanner computes the difference between desired and current
// descriptors. It is a pure function of its inputs: it never touches a store,
// and repeated calls with the same inputs produce byte-identical plans
// regardless of input ordering.
type DiffPlanner struct{}

// NewDiffPlanner creates a new planner.
func NewDiffPlanner() *DiffPlanner {
	return &DiffPlanner{}
}

type descriptorKey struct {
	t   ResourceType
	key string
}

// ComputePlan indexes both sides by (resourceType, naturalKey) and produces
// the create/update/delete sets. Updates carry only the changed attributes.
// Descriptors with no differences are counted as NoChange and not reported.
func (p *DiffPlanner) ComputePlan(desired, current []ResourceDescriptor) *Plan {
	plan := &Plan{
		ToCreate: []ResourceDescriptor{},
		ToUpdate: []ResourceUpdate{},
		ToDelete: []ResourceDescriptor{},
	}

	desiredIdx := make(map[descriptorKey]*ResourceDescriptor, len(desired))
	for i := range desired {
		d := &desired[i]
		if err := d.Type.Validate(); err != nil {
			plan.Errors = append(plan.Errors, err.Error())
			continue
		}
		if d.NaturalKey == "" {
			plan.Errors = append(plan.Errors,
				fmt.Sprintf("%s descriptor with empty natural key", d.Type))
			continue
		}
		desiredIdx[descriptorKey{d.Type, d.NaturalKey}] = d
	}

	currentIdx := make(map[descriptorKey]*ResourceDescriptor, len(current))
	for i := range current {
		c := &current[i]
		currentIdx[descriptorKey{c.Type, c.NaturalKey}] = c
	}

	for k, d := range desiredIdx {
		c, exists := currentIdx[k]
		if !exists {
			plan.ToCreate = append(plan.ToCreate, *d)
			continue
		}
		changes := diffAttributes(d.Attributes, c.Attributes)
		if len(changes) == 0 {
			plan.Summary.NoChange++
			continue
		}
		plan.ToUpdate = append(plan.ToUpdate, ResourceUpdate{
			Type:       k.t,
			NaturalKey: k.key,
			Changes:    changes,
		})
	}

	for k, c := range currentIdx {
		if _, exists := desiredIdx[k]; !exists {
			plan.ToDelete = append(plan.ToDelete, *c)
		}
	}

	sortDescriptors(plan.ToCreate)
	sortDescriptors(plan.ToDelete)
	sort.Slice(plan.ToUpdate, func(i, j int) bool {
		a, b := plan.ToUpdate[i], plan.ToUpdate[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.NaturalKey < b.NaturalKey
	})
	sort.Strings(plan.Errors)

	plan.Summary.ToCreate = len(plan.ToCreate)
	plan.Summary.ToUpdate = len(plan.ToUpdate)
	plan.Summary.ToDelete = len(plan.ToDelete)

	return plan
}

// diffAttributes compares two attribute maps field by field and returns the
// changes sorted by field name. An attribute present in current but absent
// in desired is a removal; the applier clears it with an empty write.
func diffAttributes(desired, current map[string]string) []FieldChange {
	fields := make(map[string]bool, len(desired)+len(current))
	for f := range desired {
		fields[f] = true
	}
	for f := range current {
		fields[f] = true
	}

	changes := make([]FieldChange, 0)
	for f := range fields {
		dv, inDesired := desired[f]
		cv, inCurrent := current[f]
		switch {
		case inDesired && !inCurrent:
			if dv == "" {
				continue
			}
			changes = append(changes, FieldChange{
				Field: f, After: dv, Action: ChangeActionAdd,
			})
		case !inDesired && inCurrent:
			if cv == "" {
				continue
			}
			changes = append(changes, FieldChange{
				Field: f, Before: cv, Action: ChangeActionRemove,
			})
		case dv != cv:
			changes = append(changes, FieldChange{
				Field: f, Before: cv, After: dv, Action: ChangeActionModify,
			})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}

func sortDescriptors(descs []ResourceDescriptor) {
	sort.Slice(descs, func(i, j int) bool {
		if descs[i].Type != descs[j].Type {
			return descs[i].Type < descs[j].Type
		}
		return descs[i].NaturalKey < descs[j].NaturalKey
	})
}
