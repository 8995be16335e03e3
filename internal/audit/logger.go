// Package audit records state changing adapter calls as structured events.
package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/crypto/blake2b"

	"go.pilab.hu/oidcstore"
)

const (
	defaultService   = "oidcstore"
	defaultQueueSize = 256
	publishTimeout   = 5 * time.Second
)

// Event represents an audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Action    string    `json:"action"`
	Model     string    `json:"model,omitempty"`
	// Target is a fingerprint of the record id; raw ids are bearer secrets
	// for several models.
	Target  string `json:"target,omitempty"`
	GrantID string `json:"grant_id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// MessageWriter is the subset of *kafka.Writer the logger publishes with.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Option configures a Logger.
type Option func(*Logger)

// WithService sets the service name stamped on every event.
func WithService(name string) Option {
	return func(l *Logger) {
		l.service = name
	}
}

// WithWriter publishes every event to w in addition to logging it.
func WithWriter(w MessageWriter) Option {
	return func(l *Logger) {
		l.writer = w
	}
}

// WithQueueSize bounds the number of events waiting to be published.
func WithQueueSize(n int) Option {
	return func(l *Logger) {
		l.queueSize = n
	}
}

// Logger is an oidcstore.Auditor. Events are logged synchronously and
// published from a background goroutine; when the queue is full the event
// is dropped from publishing but still logged.
type Logger struct {
	logger    zerolog.Logger
	service   string
	writer    MessageWriter
	queueSize int

	// mu guards sends on queue against Close.
	mu        sync.RWMutex
	closed    bool
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
}

var _ oidcstore.Auditor = (*Logger)(nil)

// NewLogger creates a Logger writing events to logger.
func NewLogger(logger zerolog.Logger, opts ...Option) *Logger {
	l := &Logger{
		logger:    logger,
		service:   defaultService,
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.writer == nil {
		close(l.done)
		return l
	}

	l.queue = make(chan Event, l.queueSize)
	go l.publish()

	return l
}

// NewKafkaWriter returns a writer producing to topic on brokers, keyed so
// that events of one grant stay ordered within a partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Fingerprint returns a short stable digest of a record id.
func Fingerprint(id string) string {
	if id == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

// Record implements oidcstore.Auditor.
func (l *Logger) Record(ctx context.Context, e oidcstore.AuditEvent) {
	event := Event{
		Timestamp: time.Now().UTC(),
		Service:   l.service,
		Action:    string(e.Action),
		Model:     string(e.Model),
		Target:    Fingerprint(e.ID),
		GrantID:   e.GrantID,
		Success:   e.Err == nil,
	}
	if e.Err != nil {
		event.Error = e.Err.Error()
	}

	entry, err := json.Marshal(event)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to marshal audit event to JSON")
		return
	}
	l.logger.Log().Ctx(ctx).RawJSON("audit_event", entry).Msg("")

	if l.queue == nil {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.logger.Warn().Str("action", event.Action).Msg("audit logger closed, event not published")
		return
	}

	select {
	case l.queue <- event:
	default:
		l.logger.Warn().Str("action", event.Action).Msg("audit queue full, event not published")
	}
}

func (l *Logger) publish() {
	defer close(l.done)

	for event := range l.queue {
		value, err := json.Marshal(event)
		if err != nil {
			continue
		}

		key := event.GrantID
		if key == "" {
			key = event.Target
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = l.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Time: event.Timestamp})
		cancel()
		if err != nil {
			l.logger.Error().Err(err).Str("action", event.Action).Msg("failed to publish audit event")
		}
	}
}

// Close flushes queued events and closes the writer. Events recorded
// after Close are logged but not published.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.queue == nil {
			return
		}
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()

		<-l.done
		err = l.writer.Close()
	})
	return err
}
