package comm

import "time"

// Status is the lifecycle state of a Communication. Active is the only
// non-terminal state; completed and escalated are terminal and are never
// left once entered.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusEscalated Status = "escalated"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusEscalated
}

// MessageType classifies one exchange within a communication.
type MessageType string

const (
	MessageQuestion      MessageType = "question"
	MessageClarification MessageType = "clarification"
	MessageResponse      MessageType = "response"
	MessageHandoff       MessageType = "handoff"
)

// Valid reports whether the message type is one of the known kinds.
func (m MessageType) Valid() bool {
	switch m {
	case MessageQuestion, MessageClarification, MessageResponse, MessageHandoff:
		return true
	}
	return false
}

// Exchange is one directed message within a Communication. Immutable
// once appended, except that ResponseTime is filled in when a reply to
// this exchange is recorded.
type Exchange struct {
	// ExchangeNumber is 1-based and equals this exchange's position in
	// the communication's exchange sequence.
	ExchangeNumber int `json:"exchange_number"`

	FromAgent   string      `json:"from_agent"`
	ToAgent     string      `json:"to_agent"`
	MessageType MessageType `json:"message_type"`
	Content     string      `json:"content"`

	// Metadata carries free-form values attached by the sender. The
	// "cost" entry, when present, is accumulated by Stats.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// ResponseTime is the elapsed time in milliseconds between this
	// exchange and the response that answered it. Nil until answered.
	ResponseTime *int64 `json:"response_time_ms,omitempty"`
}

// Communication is the durable aggregate root for one bounded
// conversation between two named agents. It is persisted whole as a
// single JSON document keyed by session.
type Communication struct {
	SessionKey      string `json:"session_key"`
	InitiatingAgent string `json:"initiating_agent"`
	TargetAgent     string `json:"target_agent"`

	// CurrentSpeaker is whose turn is next. It always equals the
	// ToAgent of the most recent exchange.
	CurrentSpeaker string `json:"current_speaker"`

	// Exchanges is append-only, ordered by ExchangeNumber.
	Exchanges []Exchange `json:"exchanges"`

	// ExchangeCount equals len(Exchanges), cached for readers of the
	// persisted document.
	ExchangeCount int `json:"exchange_count"`

	// MaxExchanges is the ceiling fixed at creation time.
	MaxExchanges int `json:"max_exchanges"`

	Status Status `json:"status"`

	// InitialContext is the free-form context supplied at creation.
	InitialContext map[string]interface{} `json:"initial_context,omitempty"`

	// Reason and FinalOutcome are recorded when the communication
	// reaches a terminal state.
	Reason       string `json:"reason,omitempty"`
	FinalOutcome string `json:"final_outcome,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SendResult is the outcome of a Send or Process call. Reaching the
// exchange limit is reported here as an escalated result, not as an
// error.
type SendResult struct {
	// Status is the communication's status after the call.
	Status Status `json:"status"`

	ExchangeCount int `json:"exchange_count"`
	MaxExchanges  int `json:"max_exchanges"`

	// Warning is non-empty when the exchange count has entered the
	// warning window below the limit.
	Warning string `json:"warning,omitempty"`

	// Reason is set when Status is escalated.
	Reason string `json:"reason,omitempty"`
}

// Escalated reports whether the call ended the communication.
func (r *SendResult) Escalated() bool {
	return r.Status == StatusEscalated
}

// Stats is a derived, read-only summary of one communication.
type Stats struct {
	SessionKey     string `json:"session_key"`
	Status         Status `json:"status"`
	TotalExchanges int    `json:"total_exchanges"`
	MaxExchanges   int    `json:"max_exchanges"`

	// Utilization is TotalExchanges over MaxExchanges as a percentage.
	Utilization float64 `json:"utilization_pct"`

	// TotalCost sums the "cost" metadata entry across exchanges.
	TotalCost float64 `json:"total_cost"`

	// MeanResponseTime averages ResponseTime over answered exchanges,
	// in milliseconds. Zero when no exchange has been answered.
	MeanResponseTime float64 `json:"mean_response_time_ms"`

	// MessagesByAgent counts exchanges by sending agent.
	MessagesByAgent map[string]int `json:"messages_by_agent"`
}
