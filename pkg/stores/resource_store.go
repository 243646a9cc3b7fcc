package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opencomply/opencomply/pkg/engine"
)

// Resources implements engine.ResourceStoreProvider. The returned store is
// scoped to one workspace and resource type; every query it issues filters
// on both plus the soft-delete marker.
func (s *SQLiteStore) Resources(workspace string, t engine.ResourceType) engine.ResourceStore {
	return &resourceStore{db: s.db, workspace: workspace, t: t}
}

type resourceStore struct {
	db        *sql.DB
	workspace string
	t         engine.ResourceType
}

// List returns all live resources, sorted by natural key.
func (r *resourceStore) List(ctx context.Context) ([]engine.StoredResource, error) {
	query := `
		SELECT id, natural_key, attributes, created_at, updated_at
		FROM resources
		WHERE workspace = ? AND resource_type = ? AND deleted_at IS NULL
		ORDER BY natural_key ASC
	`

	rows, err := r.db.QueryContext(ctx, query, r.workspace, string(r.t))
	if err != nil {
		return nil, engine.NewStoreError("failed to list resources", err)
	}
	defer rows.Close()

	resources := []engine.StoredResource{}
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, *res)
	}

	if err := rows.Err(); err != nil {
		return nil, engine.NewStoreError("error iterating resources", err)
	}

	return resources, nil
}

// FindByNaturalKey returns the live resource with the given key.
func (r *resourceStore) FindByNaturalKey(ctx context.Context, key string) (*engine.StoredResource, error) {
	query := `
		SELECT id, natural_key, attributes, created_at, updated_at
		FROM resources
		WHERE workspace = ? AND resource_type = ? AND natural_key = ? AND deleted_at IS NULL
	`

	res, err := scanResource(r.db.QueryRowContext(ctx, query, r.workspace, string(r.t), key))
	if err == sql.ErrNoRows {
		return nil, engine.NewStoreError(fmt.Sprintf("%s not found: %s", r.t, key), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Create inserts a new resource. The natural key is read from the attribute
// named by the type's key field.
func (r *resourceStore) Create(ctx context.Context, attrs map[string]string) (*engine.StoredResource, error) {
	key := attrs[r.t.NaturalKeyField()]
	if key == "" {
		return nil, engine.NewValidationError(
			fmt.Sprintf("%s create requires attribute %q", r.t, r.t.NaturalKeyField()), nil)
	}

	encoded, err := encodeAttributes(attrs)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO resources (id, workspace, resource_type, natural_key, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	id := uuid.New().String()
	_, err = r.db.ExecContext(ctx, query, id, r.workspace, string(r.t), key, encoded, now, now)
	if isUniqueViolation(err) {
		return nil, engine.NewConflictError(fmt.Sprintf("%s already exists: %s", r.t, key), err).
			WithCode(engine.ErrCodeDuplicateKey)
	}
	if err != nil {
		return nil, engine.NewStoreError("failed to create resource", err)
	}

	return &engine.StoredResource{
		ID:         id,
		NaturalKey: key,
		Attributes: copyAttributes(attrs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Update merges the given attributes into the stored set: empty values clear
// the attribute, others overwrite it, attributes not mentioned stay as they
// are.
func (r *resourceStore) Update(ctx context.Context, id string, attrs map[string]string) (*engine.StoredResource, error) {
	existing, err := r.getByID(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := copyAttributes(existing.Attributes)
	for name, val := range attrs {
		if val == "" {
			delete(merged, name)
			continue
		}
		merged[name] = val
	}
	// The key attribute always mirrors the immutable natural key.
	merged[r.t.NaturalKeyField()] = existing.NaturalKey

	encoded, err := encodeAttributes(merged)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE resources
		SET attributes = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, encoded, now, id)
	if err != nil {
		return nil, engine.NewStoreError("failed to update resource", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, engine.NewStoreError("failed to get rows affected", err)
	}
	if rows == 0 {
		return nil, engine.NewStoreError(fmt.Sprintf("%s not found: %s", r.t, id), nil).
			WithCode(engine.ErrCodeNotFound)
	}

	existing.Attributes = merged
	existing.UpdatedAt = now
	return existing, nil
}

// Delete soft-deletes the resource by id.
func (r *resourceStore) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE resources
		SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return engine.NewStoreError("failed to delete resource", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return engine.NewStoreError("failed to get rows affected", err)
	}
	if rows == 0 {
		return engine.NewStoreError(fmt.Sprintf("%s not found: %s", r.t, id), nil).
			WithCode(engine.ErrCodeNotFound)
	}

	return nil
}

func (r *resourceStore) getByID(ctx context.Context, id string) (*engine.StoredResource, error) {
	query := `
		SELECT id, natural_key, attributes, created_at, updated_at
		FROM resources
		WHERE id = ? AND workspace = ? AND resource_type = ? AND deleted_at IS NULL
	`

	res, err := scanResource(r.db.QueryRowContext(ctx, query, id, r.workspace, string(r.t)))
	if err == sql.ErrNoRows {
		return nil, engine.NewStoreError(fmt.Sprintf("%s not found: %s", r.t, id), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*engine.StoredResource, error) {
	res := &engine.StoredResource{}
	var encoded string
	err := row.Scan(
		&res.ID,
		&res.NaturalKey,
		&encoded,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, engine.NewStoreError("failed to scan resource", err)
	}

	if err := json.Unmarshal([]byte(encoded), &res.Attributes); err != nil {
		return nil, engine.NewStoreError("failed to decode resource attributes", err)
	}
	return res, nil
}

func encodeAttributes(attrs map[string]string) (string, error) {
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return "", engine.NewStoreError("failed to encode resource attributes", err)
	}
	return string(encoded), nil
}

func copyAttributes(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
