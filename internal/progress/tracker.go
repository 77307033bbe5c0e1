package progress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/learnhub/courses/internal/logger"
	"github.com/learnhub/courses/internal/messaging"
	"github.com/learnhub/courses/internal/metrics"
	"github.com/learnhub/courses/internal/middleware"
	"github.com/learnhub/courses/internal/session"
)

// ErrNoSession is returned when an anonymous visitor has no session to
// record progress in.
var ErrNoSession = errors.New("progress: no session")

// UserStore persists progress of signed-in users.
type UserStore interface {
	MarkStarted(ctx context.Context, userID, courseID, lessonID string, at time.Time) error
	MarkCompleted(ctx context.Context, userID, courseID, lessonID string, at time.Time) error
	LastLesson(ctx context.Context, userID, courseID string) (string, error)
	CompletedLessons(ctx context.Context, userID, courseID string) ([]string, error)
}

// LessonOrderer returns a course's lesson ids in course order.
type LessonOrderer interface {
	LessonIDs(ctx context.Context, courseID string) ([]string, error)
}

// SessionSaver writes the request's session record.
type SessionSaver interface {
	Save(w http.ResponseWriter, r *http.Request, f session.Fields) (*session.Record, error)
}

// Summary is a visitor's position in a course.
type Summary struct {
	LastLessonID     *string  `json:"lastLessonId"`
	CompletedLessons []string `json:"completedLessons"`
}

// Tracker records lesson and video progress for the visitor of a request,
// as resolved by the session middleware.
type Tracker struct {
	users    UserStore
	sessions SessionSaver
	lessons  LessonOrderer
	events   messaging.Publisher
	now      func() time.Time
}

// NewTracker creates a Tracker. A nil publisher discards events.
func NewTracker(users UserStore, sessions SessionSaver, lessons LessonOrderer, events messaging.Publisher) *Tracker {
	if events == nil {
		events = messaging.Nop{}
	}
	return &Tracker{
		users:    users,
		sessions: sessions,
		lessons:  lessons,
		events:   events,
		now:      time.Now,
	}
}

// UpdateProgress marks lessonID as reached. Signed-in users get the lesson
// marked completed. For anonymous visitors the session's position in the
// course only ever moves forward in lesson order.
func (t *Tracker) UpdateProgress(w http.ResponseWriter, r *http.Request, courseID, lessonID string) error {
	now := t.now()
	mc := middleware.FromContext(r.Context())

	if mc.User != nil {
		if err := t.users.MarkCompleted(r.Context(), mc.User.ID, courseID, lessonID, now); err != nil {
			return err
		}
		t.record("lesson", "database", messaging.SubjectLessonProgress, mc, courseID, lessonID, now)
		return nil
	}

	err := t.updateSession(w, r, mc, func(f *session.Fields) error {
		current, ok := f.Progress[courseID]
		if !ok || current == "" {
			f.Progress[courseID] = lessonID
			return nil
		}
		ids, err := t.lessons.LessonIDs(r.Context(), courseID)
		if err != nil {
			return fmt.Errorf("progress: lesson order: %w", err)
		}
		if slices.Index(ids, lessonID) > slices.Index(ids, current) {
			f.Progress[courseID] = lessonID
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.record("lesson", "session", messaging.SubjectLessonProgress, mc, courseID, lessonID, now)
	return nil
}

// TrackVideoStart records that the visitor started the lesson's video.
func (t *Tracker) TrackVideoStart(w http.ResponseWriter, r *http.Request, courseID, lessonID string) error {
	return t.trackVideo(w, r, courseID, lessonID, false)
}

// TrackVideoComplete records that the visitor finished the lesson's video.
func (t *Tracker) TrackVideoComplete(w http.ResponseWriter, r *http.Request, courseID, lessonID string) error {
	return t.trackVideo(w, r, courseID, lessonID, true)
}

func (t *Tracker) trackVideo(w http.ResponseWriter, r *http.Request, courseID, lessonID string, complete bool) error {
	now := t.now()
	mc := middleware.FromContext(r.Context())

	kind, subject := "video_start", messaging.SubjectVideoStart
	if complete {
		kind, subject = "video_complete", messaging.SubjectVideoComplete
	}

	if mc.User != nil {
		var err error
		if complete {
			err = t.users.MarkCompleted(r.Context(), mc.User.ID, courseID, lessonID, now)
		} else {
			err = t.users.MarkStarted(r.Context(), mc.User.ID, courseID, lessonID, now)
		}
		if err != nil {
			return err
		}
		t.record(kind, "database", subject, mc, courseID, lessonID, now)
		return nil
	}

	stamp := now.UTC().Format(time.RFC3339)
	err := t.updateSession(w, r, mc, func(f *session.Fields) error {
		if complete {
			f.VideoCompletions[session.VideoKey(courseID, lessonID)] = stamp
		} else {
			f.VideoStarts[session.VideoKey(courseID, lessonID)] = stamp
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.record(kind, "session", subject, mc, courseID, lessonID, now)
	return nil
}

// CourseProgress returns the visitor's position in the course. Anonymous
// visitors report their session position as both the last and the only
// completed lesson.
func (t *Tracker) CourseProgress(ctx context.Context, courseID string) (Summary, error) {
	mc := middleware.FromContext(ctx)
	sum := Summary{CompletedLessons: []string{}}

	if mc.User != nil {
		last, err := t.users.LastLesson(ctx, mc.User.ID, courseID)
		if err != nil {
			return Summary{}, err
		}
		completed, err := t.users.CompletedLessons(ctx, mc.User.ID, courseID)
		if err != nil {
			return Summary{}, err
		}
		if last != "" {
			sum.LastLessonID = &last
		}
		sum.CompletedLessons = completed
		return sum, nil
	}

	if mc.Session == nil {
		return sum, nil
	}
	if last := mc.Session.Progress[courseID]; last != "" {
		sum.LastLessonID = &last
		sum.CompletedLessons = []string{last}
	}
	return sum, nil
}

// updateSession applies mutate to a copy of the request's session and saves
// the result as a whole, then exposes the saved record to the rest of the
// request.
func (t *Tracker) updateSession(w http.ResponseWriter, r *http.Request, mc *middleware.Context, mutate func(*session.Fields) error) error {
	if mc.Session == nil {
		return ErrNoSession
	}
	f := mc.Session.Fields()
	if err := mutate(&f); err != nil {
		return err
	}
	rec, err := t.sessions.Save(w, r, f)
	if err != nil {
		return fmt.Errorf("progress: save session: %w", err)
	}
	mc.Session = rec
	return nil
}

func (t *Tracker) record(kind, store, subject string, mc *middleware.Context, courseID, lessonID string, at time.Time) {
	metrics.ProgressEvents.WithLabelValues(kind, store).Inc()

	ev := messaging.Event{
		Type:      kind,
		CourseID:  courseID,
		LessonID:  lessonID,
		Anonymous: mc.User == nil,
		At:        at.UTC(),
	}
	if mc.User != nil {
		ev.UserID = mc.User.ID
	}
	if err := t.events.PublishEvent(subject, ev); err != nil {
		logger.Warnf("[progress] publish %s: %v", subject, err)
	}
}
