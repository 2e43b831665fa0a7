package visa1

import (
	"errors"
	"sync"
	"time"

	"github.com/arloliu/go-visa1/internal/util"
	"github.com/arloliu/go-visa1/logger"
)

// EventEntry is one step recorded during a handshake.
type EventEntry struct {
	Tag     string
	Elapsed time.Duration
	Attrs   []any
	Err     error
}

// Event collects the trace of one handshake (a request/response exchange
// or a poll). It is created when the exchange starts and handed to the
// link's EventSink when it ends.
type Event struct {
	mu      sync.Mutex
	realm   string
	tag     string
	start   time.Time
	entries []EventEntry
	errs    []error
}

// NewEvent creates an event for realm with the given tag.
func NewEvent(realm string, tag string) *Event {
	return &Event{realm: realm, tag: tag, start: time.Now()}
}

// Realm returns the event source.
func (e *Event) Realm() string { return e.realm }

// Tag returns the event tag.
func (e *Event) Tag() string { return e.tag }

// Start returns when the event was created.
func (e *Event) Start() time.Time { return e.start }

// Add appends a step with optional key/value attributes.
func (e *Event) Add(tag string, keysAndValues ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.entries = append(e.entries, EventEntry{Tag: tag, Elapsed: time.Since(e.start), Attrs: keysAndValues})
}

// AddError appends a failed step.
func (e *Event) AddError(tag string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.entries = append(e.entries, EventEntry{Tag: tag, Elapsed: time.Since(e.start), Err: err})
	e.errs = append(e.errs, err)
}

// Entries returns a copy of the recorded steps.
func (e *Event) Entries() []EventEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	return util.CloneSlice(e.entries, 0)
}

// Tags returns the tags of the recorded steps in order.
func (e *Event) Tags() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	tags := make([]string, len(e.entries))
	for i, entry := range e.entries {
		tags[i] = entry.Tag
	}

	return tags
}

// Err returns the joined errors of the event, or nil.
func (e *Event) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return errors.Join(e.errs...)
}

// EventSink receives completed events.
type EventSink interface {
	Record(evt *Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(evt *Event)

func (f EventSinkFunc) Record(evt *Event) { f(evt) }

type loggerSink struct {
	logger logger.Logger
}

// NewLoggerSink returns an EventSink writing one line per event to l.
// Events carrying errors are logged at error level, others at debug level.
func NewLoggerSink(l logger.Logger) EventSink {
	return &loggerSink{logger: l}
}

func (s *loggerSink) Record(evt *Event) {
	keysAndValues := []any{
		"realm", evt.Realm(),
		"steps", evt.Tags(),
		"elapsed", time.Since(evt.Start()).String(),
	}

	if err := evt.Err(); err != nil {
		s.logger.Error("visa1: "+evt.Tag(), append(keysAndValues, "error", err)...)
		return
	}

	s.logger.Debug("visa1: "+evt.Tag(), keysAndValues...)
}
