// Package course reads course structure from PostgreSQL.
package course

import (
	"context"
	"database/sql"
	"fmt"
)

// Repository reads courses, modules and lessons.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a course repository backed by the given database
// handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// LessonIDs returns the ids of every lesson in the course, ordered by
// module position and then by lesson position. An unknown course yields an
// empty slice.
func (r *Repository) LessonIDs(ctx context.Context, courseID string) ([]string, error) {
	const query = `
		SELECT l.id
		FROM lessons l
		JOIN modules m ON m.id = l.module_id
		WHERE m.course_id = $1
		ORDER BY m.position, l.position, l.id`

	rows, err := r.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("course: lesson ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("course: scan lesson id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("course: lesson ids: %w", err)
	}
	return ids, nil
}

// Exists reports whether a course with the given id exists.
func (r *Repository) Exists(ctx context.Context, courseID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`, courseID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("course: exists: %w", err)
	}
	return ok, nil
}
