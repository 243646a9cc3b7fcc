package engine

import (
	"context"
	"testing"
)

func TestSnapshotter_Snapshot(t *testing.T) {
	provider := newMockStoreProvider()
	controls := provider.store(ResourceTypeControl)
	controls.seed("AU-2", map[string]string{"control_id": "AU-2", "title": "Event Logging", "notes": ""})
	controls.seed("AC-1", map[string]string{"control_id": "AC-1", "title": "Access Control Policy"})

	snap := NewSnapshotter(provider)
	descs, err := snap.Snapshot(context.Background(), "default", ResourceTypeControl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}
	if descs[0].NaturalKey != "AC-1" || descs[1].NaturalKey != "AU-2" {
		t.Errorf("expected sorting by natural key, got %s, %s", descs[0].NaturalKey, descs[1].NaturalKey)
	}
	if _, ok := descs[1].Attributes["notes"]; ok {
		t.Error("empty attributes must be dropped from the snapshot")
	}
	if descs[0].Attributes["control_id"] != "AC-1" {
		t.Errorf("key attribute must mirror the row key, got %q", descs[0].Attributes["control_id"])
	}
}

func TestSnapshotter_InvalidType(t *testing.T) {
	snap := NewSnapshotter(newMockStoreProvider())
	if _, err := snap.Snapshot(context.Background(), "default", ResourceType("widget")); err == nil {
		t.Fatal("expected an error for an unknown resource type")
	}
}

func TestSnapshotter_SnapshotTypes(t *testing.T) {
	provider := newMockStoreProvider()
	provider.store(ResourceTypeControl).seed("AC-1", map[string]string{"control_id": "AC-1", "title": "T"})
	provider.store(ResourceTypeVendor).seed("Acme", map[string]string{"name": "Acme"})

	snap := NewSnapshotter(provider)
	descs, err := snap.SnapshotTypes(context.Background(), "default",
		[]ResourceType{ResourceTypeControl, ResourceTypeVendor})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(descs) != 2 {
		t.Errorf("expected 2 descriptors, got %d", len(descs))
	}
}
