package audit

import (
	"time"

	"github.com/google/uuid"

	"parley/logging"
)

// Event names for ledger audit entries.
const (
	EventInitialized = "initialized"
	EventExchange    = "exchange"
	EventResponse    = "response"
	EventCompleted   = "completed"
	EventEscalated   = "escalated"
)

// Entry is one audit record: an exchange or a state transition within a
// communication. Entries are consumed by operators, never by the core's
// own logic.
type Entry struct {
	ID             string                 `json:"id"`
	SessionKey     string                 `json:"session_key"`
	Event          string                 `json:"event"`
	ExchangeNumber int                    `json:"exchange_number,omitempty"`
	FromAgent      string                 `json:"from_agent,omitempty"`
	ToAgent        string                 `json:"to_agent,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Fields         map[string]interface{} `json:"fields,omitempty"`
}

// Sink receives audit entries.
type Sink interface {
	Record(e Entry)
}

// NewEntry stamps an entry with a fresh id and the current time.
func NewEntry(sessionKey, event string) Entry {
	return Entry{
		ID:         uuid.NewString(),
		SessionKey: sessionKey,
		Event:      event,
		Timestamp:  time.Now().UTC(),
	}
}

// LogSink writes one structured log line per entry.
type LogSink struct {
	log *logging.Logger
}

// NewLogSink creates a sink over the given logger.
func NewLogSink(log *logging.Logger) *LogSink {
	if log == nil {
		log = logging.New()
	}
	return &LogSink{log: log.WithComponent("audit")}
}

// Record implements Sink.
func (s *LogSink) Record(e Entry) {
	fields := map[string]interface{}{
		"id":    e.ID,
		"event": e.Event,
	}
	if e.ExchangeNumber > 0 {
		fields["exchange"] = e.ExchangeNumber
	}
	if e.FromAgent != "" {
		fields["from"] = e.FromAgent
	}
	if e.ToAgent != "" {
		fields["to"] = e.ToAgent
	}
	for k, v := range e.Fields {
		fields[k] = v
	}
	s.log.WithSession(e.SessionKey).Info("audit", fields)
}

// MultiSink fans entries out to several sinks.
type MultiSink []Sink

// Record implements Sink.
func (m MultiSink) Record(e Entry) {
	for _, s := range m {
		s.Record(e)
	}
}

// Discard is a Sink that drops everything. Useful in tests.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(Entry) {}
