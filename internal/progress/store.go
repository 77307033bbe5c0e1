// Package progress records how far visitors got through courses: in
// PostgreSQL for signed-in users and in the session record for anonymous
// visitors.
package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status is the state of a lesson for a user, matching the CHECK
// constraint on the progress table.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
)

// Store manages per-user lesson progress in PostgreSQL. Each (user, lesson)
// pair has at most one row.
type Store struct {
	db *sql.DB
}

// NewStore creates a new progress store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// MarkStarted records that the user started the lesson at at. A lesson that
// was already completed goes back to started.
func (s *Store) MarkStarted(ctx context.Context, userID, courseID, lessonID string, at time.Time) error {
	const query = `
		INSERT INTO progress (user_id, course_id, lesson_id, status, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'started', $4, $4, $4)
		ON CONFLICT (user_id, lesson_id) DO UPDATE
		SET status = 'started',
		    started_at = EXCLUDED.started_at,
		    updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, userID, courseID, lessonID, at); err != nil {
		return fmt.Errorf("progress: mark started: %w", err)
	}
	return nil
}

// MarkCompleted records that the user completed the lesson at at. A lesson
// completed without being started gets at as its start time too.
func (s *Store) MarkCompleted(ctx context.Context, userID, courseID, lessonID string, at time.Time) error {
	const query = `
		INSERT INTO progress (user_id, course_id, lesson_id, status, started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'completed', $4, $4, $4, $4)
		ON CONFLICT (user_id, lesson_id) DO UPDATE
		SET status = 'completed',
		    completed_at = EXCLUDED.completed_at,
		    updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, userID, courseID, lessonID, at); err != nil {
		return fmt.Errorf("progress: mark completed: %w", err)
	}
	return nil
}

// LastLesson returns the lesson of the user's most recently created progress
// row in the course, or "" if there is none.
func (s *Store) LastLesson(ctx context.Context, userID, courseID string) (string, error) {
	const query = `
		SELECT lesson_id
		FROM progress
		WHERE user_id = $1 AND course_id = $2
		ORDER BY created_at DESC
		LIMIT 1`

	var lessonID string
	err := s.db.QueryRowContext(ctx, query, userID, courseID).Scan(&lessonID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("progress: last lesson: %w", err)
	}
	return lessonID, nil
}

// CompletedLessons returns the ids of the lessons the user completed in the
// course.
func (s *Store) CompletedLessons(ctx context.Context, userID, courseID string) ([]string, error) {
	const query = `
		SELECT lesson_id
		FROM progress
		WHERE user_id = $1 AND course_id = $2 AND status = 'completed'
		ORDER BY completed_at`

	rows, err := s.db.QueryContext(ctx, query, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("progress: completed lessons: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("progress: scan lesson id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("progress: completed lessons: %w", err)
	}
	return ids, nil
}
