// Package messaging publishes learning-activity events over NATS so that
// other services (analytics, certificates) can react to progress without
// touching the session store or the database.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/learnhub/courses/internal/logger"
)

// NATS subjects used by learnhub.
const (
	SubjectLessonProgress = "progress.lesson"
	SubjectVideoStart     = "progress.video.start"
	SubjectVideoComplete  = "progress.video.complete"
	SubjectSessionRevoked = "session.revoked"

	// SubjectAllProgress matches every progress subject.
	SubjectAllProgress = "progress.>"
)

// Event is the payload published for each tracked activity. Exactly one of
// UserID and Anonymous describes the actor.
type Event struct {
	Type      string    `json:"type"`
	CourseID  string    `json:"courseId,omitempty"`
	LessonID  string    `json:"lessonId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Anonymous bool      `json:"anonymous"`
	At        time.Time `json:"at"`
}

// Publisher publishes events. Implementations must be safe for concurrent
// use; callers treat publish failures as non-fatal.
type Publisher interface {
	PublishEvent(subject string, ev Event) error
}

// Nop discards every event. It is used when NATS is not configured.
type Nop struct{}

func (Nop) PublishEvent(string, Event) error { return nil }

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "learnhub",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("[nats] disconnected: %v", err)
			} else {
				logger.Warnf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Infof("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Infof("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishEvent marshals ev and publishes it on subject.
func (c *NATSClient) PublishEvent(subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats marshal event: %w", err)
	}
	if err := c.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeEvents decodes every event published under subject and passes it
// to handler along with the concrete subject it arrived on. Undecodable
// messages are logged and dropped.
func (c *NATSClient) SubscribeEvents(subject string, handler func(subject string, ev Event)) error {
	return c.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Warnf("[nats] drop undecodable event on %s: %v", msg.Subject, err)
			return
		}
		handler(msg.Subject, ev)
	})
}

// Unsubscribe removes the subscription for subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Connected reports whether the underlying connection is currently up.
func (c *NATSClient) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			logger.Warnf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		logger.Warnf("[nats] connection drain: %v", err)
	}

	logger.Infof("[nats] client closed")
}
