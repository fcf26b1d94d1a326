package store

import (
	"context"
	"fmt"

	"filegate/api/internal/lifecycle"
)

// LoadPersistedSchema reads the status set and lifecycle version the
// migrations installed.
func (s *SQLStore) LoadPersistedSchema(ctx context.Context) (lifecycle.PersistedSchema, error) {
	var schema lifecycle.PersistedSchema
	if err := s.q.QueryRowContext(ctx, `SELECT version FROM lifecycle_meta WHERE id = 1`).Scan(&schema.Version); err != nil {
		return schema, fmt.Errorf("read lifecycle version: %w", err)
	}
	rows, err := s.q.QueryContext(ctx, `SELECT name FROM file_statuses ORDER BY position ASC`)
	if err != nil {
		return schema, fmt.Errorf("read file statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return schema, fmt.Errorf("scan file status: %w", err)
		}
		schema.Statuses = append(schema.Statuses, name)
	}
	return schema, rows.Err()
}

// VerifyLifecycle fails when the database status set has drifted from def.
func (s *SQLStore) VerifyLifecycle(ctx context.Context, def *lifecycle.Definition) error {
	schema, err := s.LoadPersistedSchema(ctx)
	if err != nil {
		return err
	}
	return def.CheckPersisted(schema)
}
