package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Applier executes a plan against the resource-store contract. Items are
// processed best-effort: a per-resource failure is recorded and the
// remaining items still run, so one bad record never blocks the rest of a
// multi-resource sync.
type Applier struct {
	stores      ResourceStoreProvider
	invalidator CacheInvalidator
	logger      zerolog.Logger
}

// NewApplier creates a new applier. The invalidator may be nil.
func NewApplier(stores ResourceStoreProvider, invalidator CacheInvalidator, logger zerolog.Logger) *Applier {
	return &Applier{
		stores:      stores,
		invalidator: invalidator,
		logger:      logger.With().Str("component", "applier").Logger(),
	}
}

// typeBatch groups one resource type's plan items. Types are independent of
// each other and run in parallel; items within a type share a natural-key
// namespace and run strictly in order (creates, updates, deletes).
type typeBatch struct {
	t       ResourceType
	creates []ResourceDescriptor
	updates []ResourceUpdate
	deletes []ResourceDescriptor
}

// Apply runs all plan items and returns the accounting. Cancellation is
// cooperative: the context is checked between items, never mid-mutation.
func (a *Applier) Apply(ctx context.Context, workspace string, plan *Plan) *ApplyResult {
	result := &ApplyResult{}
	batches := batchByType(plan)
	if len(batches) == 0 {
		return result
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := range batches {
		wg.Add(1)
		go func(b *typeBatch) {
			defer wg.Done()
			partial := a.applyBatch(ctx, workspace, b)
			mu.Lock()
			result.Created += partial.Created
			result.Updated += partial.Updated
			result.Deleted += partial.Deleted
			result.Errors = append(result.Errors, partial.Errors...)
			mu.Unlock()
		}(&batches[i])
	}
	wg.Wait()

	sortApplyErrors(result.Errors)
	return result
}

func (a *Applier) applyBatch(ctx context.Context, workspace string, b *typeBatch) *ApplyResult {
	result := &ApplyResult{}
	store := a.stores.Resources(workspace, b.t)
	touched := false

	record := func(key string, op OperationType, err error) {
		a.logger.Warn().
			Str("workspace", workspace).
			Str("resource_type", string(b.t)).
			Str("natural_key", key).
			Str("operation", string(op)).
			Err(err).
			Msg("plan item failed")
		result.Errors = append(result.Errors, ApplyError{
			Type:       b.t,
			NaturalKey: key,
			Operation:  op,
			Reason:     err.Error(),
		})
	}

	interrupted := func(op OperationType) bool {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, ApplyError{
				Type:      b.t,
				Operation: op,
				Reason:    "apply interrupted: " + err.Error(),
			})
			return true
		}
		return false
	}

	for i := range b.creates {
		if interrupted(OperationCreate) {
			return result
		}
		d := &b.creates[i]
		if _, err := store.Create(ctx, d.Attributes); err != nil {
			record(d.NaturalKey, OperationCreate, err)
			continue
		}
		result.Created++
		touched = true
	}

	for i := range b.updates {
		if interrupted(OperationUpdate) {
			return result
		}
		u := &b.updates[i]
		row, err := store.FindByNaturalKey(ctx, u.NaturalKey)
		if err != nil {
			record(u.NaturalKey, OperationUpdate, err)
			continue
		}
		if _, err := store.Update(ctx, row.ID, changesToAttributes(u.Changes)); err != nil {
			record(u.NaturalKey, OperationUpdate, err)
			continue
		}
		result.Updated++
		touched = true
	}

	for i := range b.deletes {
		if interrupted(OperationDelete) {
			return result
		}
		d := &b.deletes[i]
		row, err := store.FindByNaturalKey(ctx, d.NaturalKey)
		if err != nil {
			record(d.NaturalKey, OperationDelete, err)
			continue
		}
		if err := store.Delete(ctx, row.ID); err != nil {
			record(d.NaturalKey, OperationDelete, err)
			continue
		}
		result.Deleted++
		touched = true
	}

	if touched && a.invalidator != nil {
		a.invalidator.Invalidate(ctx, workspace, b.t)
	}
	return result
}

// changesToAttributes flattens an update's field changes into the minimal
// attribute write: removed fields become empty values, which the store
// clears.
func changesToAttributes(changes []FieldChange) map[string]string {
	attrs := make(map[string]string, len(changes))
	for _, c := range changes {
		if c.Action == ChangeActionRemove {
			attrs[c.Field] = ""
			continue
		}
		attrs[c.Field] = c.After
	}
	return attrs
}

func batchByType(plan *Plan) []typeBatch {
	byType := make(map[ResourceType]*typeBatch)
	get := func(t ResourceType) *typeBatch {
		b, ok := byType[t]
		if !ok {
			b = &typeBatch{t: t}
			byType[t] = b
		}
		return b
	}
	for _, d := range plan.ToCreate {
		b := get(d.Type)
		b.creates = append(b.creates, d)
	}
	for _, u := range plan.ToUpdate {
		b := get(u.Type)
		b.updates = append(b.updates, u)
	}
	for _, d := range plan.ToDelete {
		b := get(d.Type)
		b.deletes = append(b.deletes, d)
	}

	batches := make([]typeBatch, 0, len(byType))
	for _, t := range AllResourceTypes() {
		if b, ok := byType[t]; ok {
			batches = append(batches, *b)
		}
	}
	return batches
}

func sortApplyErrors(errs []ApplyError) {
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Type != errs[j].Type {
			return errs[i].Type < errs[j].Type
		}
		return errs[i].NaturalKey < errs[j].NaturalKey
	})
}
