package stores

import (
	"context"
	"testing"

	"github.com/opencomply/opencomply/pkg/engine"
)

func TestResourceCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	controls := store.Resources("default", engine.ResourceTypeControl)

	created, err := controls.Create(ctx, map[string]string{
		"control_id": "AC-1",
		"title":      "Access Control Policy",
		"status":     "active",
	})
	if err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}
	if created.NaturalKey != "AC-1" {
		t.Errorf("expected key AC-1, got %s", created.NaturalKey)
	}

	found, err := controls.FindByNaturalKey(ctx, "AC-1")
	if err != nil {
		t.Fatalf("failed to find resource: %v", err)
	}
	if found.Attributes["title"] != "Access Control Policy" {
		t.Errorf("unexpected attributes: %+v", found.Attributes)
	}

	updated, err := controls.Update(ctx, found.ID, map[string]string{
		"title":  "Access Control",
		"status": "",
	})
	if err != nil {
		t.Fatalf("failed to update resource: %v", err)
	}
	if updated.Attributes["title"] != "Access Control" {
		t.Errorf("update not applied: %+v", updated.Attributes)
	}
	if _, ok := updated.Attributes["status"]; ok {
		t.Errorf("empty value must clear the attribute: %+v", updated.Attributes)
	}
	if updated.Attributes["control_id"] != "AC-1" {
		t.Errorf("key attribute must survive updates: %+v", updated.Attributes)
	}

	if err := controls.Delete(ctx, found.ID); err != nil {
		t.Fatalf("failed to delete resource: %v", err)
	}
	if _, err := controls.FindByNaturalKey(ctx, "AC-1"); !engine.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND after delete, got %v", err)
	}
}

func TestResourceDuplicateKey(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	vendors := store.Resources("default", engine.ResourceTypeVendor)

	if _, err := vendors.Create(ctx, map[string]string{"name": "Acme"}); err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}
	_, err := vendors.Create(ctx, map[string]string{"name": "Acme"})
	if !engine.IsConflict(err) {
		t.Fatalf("expected a duplicate-key conflict, got %v", err)
	}
}

// Soft-deleted rows keep history but never block re-creating the key.
func TestResourceRecreateAfterDelete(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	risks := store.Resources("default", engine.ResourceTypeRisk)

	first, err := risks.Create(ctx, map[string]string{"title": "Data breach", "severity": "high"})
	if err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}
	if err := risks.Delete(ctx, first.ID); err != nil {
		t.Fatalf("failed to delete resource: %v", err)
	}

	second, err := risks.Create(ctx, map[string]string{"title": "Data breach", "severity": "low"})
	if err != nil {
		t.Fatalf("failed to re-create resource: %v", err)
	}
	if second.ID == first.ID {
		t.Error("re-creation must mint a new row")
	}

	rows, err := risks.List(ctx)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 live row, got %d", len(rows))
	}
}

func TestResourceScoping(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if _, err := store.Resources("default", engine.ResourceTypeFramework).
		Create(ctx, map[string]string{"name": "SOC2"}); err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}
	if _, err := store.Resources("staging", engine.ResourceTypeFramework).
		Create(ctx, map[string]string{"name": "SOC2"}); err != nil {
		t.Fatalf("same key in another workspace must not conflict: %v", err)
	}
	if _, err := store.Resources("default", engine.ResourceTypePolicy).
		Create(ctx, map[string]string{"name": "SOC2"}); err != nil {
		t.Fatalf("same key in another type must not conflict: %v", err)
	}

	rows, err := store.Resources("default", engine.ResourceTypeFramework).List(ctx)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 framework in default, got %d", len(rows))
	}
}

func TestResourceCreateWithoutKey(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, err := store.Resources("default", engine.ResourceTypeControl).
		Create(context.Background(), map[string]string{"title": "No id"})
	if !engine.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestResourceListSorted(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	controls := store.Resources("default", engine.ResourceTypeControl)
	for _, id := range []string{"AU-2", "AC-1", "CM-3"} {
		if _, err := controls.Create(ctx, map[string]string{"control_id": id, "title": "T"}); err != nil {
			t.Fatalf("failed to create %s: %v", id, err)
		}
	}

	rows, err := controls.List(ctx)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	want := []string{"AC-1", "AU-2", "CM-3"}
	for i, key := range want {
		if rows[i].NaturalKey != key {
			t.Errorf("row %d: expected %s, got %s", i, key, rows[i].NaturalKey)
		}
	}
}
