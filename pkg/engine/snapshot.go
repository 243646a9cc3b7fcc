package engine

import (
	"context"
	"fmt"
)

// Snapshotter reads live platform state through the resource-store contract
// and converts it to the canonical descriptor shape, keyed by natural key.
type Snapshotter struct {
	stores ResourceStoreProvider
}

// NewSnapshotter creates a new snapshotter.
func NewSnapshotter(stores ResourceStoreProvider) *Snapshotter {
	return &Snapshotter{stores: stores}
}

// Snapshot returns all live resources of the given type as descriptors,
// sorted by natural key. Soft-deleted records are excluded by the store.
func (s *Snapshotter) Snapshot(ctx context.Context, workspace string, t ResourceType) ([]ResourceDescriptor, error) {
	if err := t.Validate(); err != nil {
		return nil, NewPermanentError("cannot snapshot", err)
	}

	rows, err := s.stores.Resources(workspace, t).List(ctx)
	if err != nil {
		return nil, NewStoreError(fmt.Sprintf("listing %s resources", t), err)
	}

	descs := make([]ResourceDescriptor, 0, len(rows))
	for i := range rows {
		descs = append(descs, rowToDescriptor(t, &rows[i]))
	}
	sortDescriptors(descs)
	return descs, nil
}

// SnapshotTypes snapshots several resource types and returns the merged
// descriptor list.
func (s *Snapshotter) SnapshotTypes(ctx context.Context, workspace string, types []ResourceType) ([]ResourceDescriptor, error) {
	var all []ResourceDescriptor
	for _, t := range types {
		descs, err := s.Snapshot(ctx, workspace, t)
		if err != nil {
			return nil, err
		}
		all = append(all, descs...)
	}
	return all, nil
}

// rowToDescriptor maps a stored row to the canonical descriptor shape. The
// natural-key attribute is kept in sync with the row's key so parse and
// snapshot descriptors compare cleanly.
func rowToDescriptor(t ResourceType, row *StoredResource) ResourceDescriptor {
	attrs := make(map[string]string, len(row.Attributes))
	for k, v := range row.Attributes {
		if v == "" {
			continue
		}
		attrs[k] = v
	}
	attrs[t.NaturalKeyField()] = row.NaturalKey
	return ResourceDescriptor{
		Type:       t,
		NaturalKey: row.NaturalKey,
		Attributes: attrs,
	}
}
