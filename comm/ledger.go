package comm

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"parley/audit"
	"parley/errors"
	"parley/logging"
	"parley/state"
)

const (
	// DefaultMaxExchanges is the exchange ceiling for new communications.
	DefaultMaxExchanges = 5

	// DefaultWarnThreshold is the exchange count at which Send starts
	// returning a warning.
	DefaultWarnThreshold = 3

	// ReasonExchangeLimit is the escalation reason recorded when a send
	// would exceed the exchange ceiling.
	ReasonExchangeLimit = "exchange_limit_exceeded"

	keyPrefix = "comm."

	lockTTL  = 10 * time.Second
	lockWait = 2 * time.Second
	lockPoll = 25 * time.Millisecond
)

// Ledger is the communication state machine. It persists each
// Communication whole in a state.Store and emits audit entries for every
// exchange and state transition. The store's per-key lock serializes
// read-modify-write cycles on one session record, so multiple writers
// (in one process or across processes, depending on the backend) can
// drive the same session safely.
type Ledger struct {
	store         state.Store
	audit         audit.Sink
	log           *logging.Logger
	maxExchanges  int
	warnThreshold int
	now           func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAudit sets the audit sink. Defaults to audit.Discard.
func WithAudit(sink audit.Sink) Option {
	return func(l *Ledger) {
		l.audit = sink
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(l *Ledger) {
		l.log = log
	}
}

// WithMaxExchanges sets the exchange ceiling for new communications.
func WithMaxExchanges(max int) Option {
	return func(l *Ledger) {
		l.maxExchanges = max
	}
}

// WithWarnThreshold sets the exchange count at which Send starts
// returning a warning.
func WithWarnThreshold(threshold int) Option {
	return func(l *Ledger) {
		l.warnThreshold = threshold
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store state.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:         store,
		audit:         audit.Discard{},
		log:           logging.New().WithComponent("ledger"),
		maxExchanges:  DefaultMaxExchanges,
		warnThreshold: DefaultWarnThreshold,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Initialize creates a new active Communication for the session key and
// persists it. The initiating agent speaks first. Fails with
// ALREADY_EXISTS if a record for the key is already persisted.
func (l *Ledger) Initialize(sessionKey, initiatingAgent, targetAgent string, initialContext map[string]interface{}) (*Communication, error) {
	if sessionKey == "" {
		return nil, errors.InvalidInput("session key is required")
	}
	if initiatingAgent == "" || targetAgent == "" {
		return nil, errors.InvalidInput("both agent names are required")
	}
	if initiatingAgent == targetAgent {
		return nil, errors.InvalidInput("initiating and target agent must differ")
	}

	unlock, err := l.lock(sessionKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := l.store.Get(keyPrefix + sessionKey); err == nil {
		return nil, errors.AlreadyExists(sessionKey)
	} else if !stderrors.Is(err, state.ErrNotFound) {
		return nil, errors.Wrap(err, "load session record", errors.WithSessionKey(sessionKey))
	}

	now := l.now().UTC()
	c := &Communication{
		SessionKey:      sessionKey,
		InitiatingAgent: initiatingAgent,
		TargetAgent:     targetAgent,
		CurrentSpeaker:  initiatingAgent,
		Exchanges:       []Exchange{},
		MaxExchanges:    l.maxExchanges,
		Status:          StatusActive,
		InitialContext:  initialContext,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := l.save(c); err != nil {
		return nil, err
	}

	entry := l.entry(c, audit.EventInitialized)
	entry.FromAgent = initiatingAgent
	entry.ToAgent = targetAgent
	l.audit.Record(entry)

	return c, nil
}

// Send appends one exchange from fromAgent to toAgent. If the exchange
// ceiling has been reached the communication is escalated with reason
// ReasonExchangeLimit and an escalated SendResult is returned without
// error; running out of turns is a normal outcome, not a failure.
func (l *Ledger) Send(sessionKey, fromAgent, toAgent string, messageType MessageType, content string, metadata map[string]interface{}) (*SendResult, error) {
	if !messageType.Valid() {
		return nil, errors.InvalidInput(fmt.Sprintf("unknown message type %q", messageType))
	}

	unlock, err := l.lock(sessionKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := l.load(sessionKey)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive {
		return nil, errors.NotActive(sessionKey, string(c.Status))
	}

	if c.ExchangeCount >= c.MaxExchanges {
		if err := l.escalate(c, ReasonExchangeLimit); err != nil {
			return nil, err
		}
		return &SendResult{
			Status:        StatusEscalated,
			ExchangeCount: c.ExchangeCount,
			MaxExchanges:  c.MaxExchanges,
			Reason:        ReasonExchangeLimit,
		}, nil
	}

	l.append(c, fromAgent, toAgent, messageType, content, metadata)
	if err := l.save(c); err != nil {
		return nil, err
	}

	entry := l.entry(c, audit.EventExchange)
	entry.ExchangeNumber = c.ExchangeCount
	entry.FromAgent = fromAgent
	entry.ToAgent = toAgent
	entry.Fields = map[string]interface{}{"message_type": string(messageType)}
	l.audit.Record(entry)
	l.log.WithSession(sessionKey).ExchangeRecorded(fromAgent, toAgent, c.ExchangeCount, string(messageType))

	result := &SendResult{
		Status:        c.Status,
		ExchangeCount: c.ExchangeCount,
		MaxExchanges:  c.MaxExchanges,
	}
	if c.ExchangeCount >= l.warnThreshold && c.ExchangeCount < c.MaxExchanges {
		result.Warning = fmt.Sprintf("exchange %d of %d: approaching the exchange limit", c.ExchangeCount, c.MaxExchanges)
		l.log.WithSession(sessionKey).LimitWarning(c.ExchangeCount, c.MaxExchanges)
	}
	return result, nil
}

// Process records receivingAgent's response to the most recent exchange.
// The response is addressed back to the original sender, and the elapsed
// time since the answered exchange is stored on it. Fails with
// MISDIRECTED if the most recent exchange was not addressed to
// receivingAgent.
func (l *Ledger) Process(sessionKey, receivingAgent, responseContent string, metadata map[string]interface{}) (*SendResult, error) {
	unlock, err := l.lock(sessionKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := l.load(sessionKey)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive {
		return nil, errors.NotActive(sessionKey, string(c.Status))
	}
	if len(c.Exchanges) == 0 {
		return nil, errors.InvalidInput("no exchange to respond to", errors.WithSessionKey(sessionKey))
	}

	last := &c.Exchanges[len(c.Exchanges)-1]
	if last.ToAgent != receivingAgent {
		return nil, errors.Misdirected(sessionKey, last.ToAgent, receivingAgent)
	}

	if c.ExchangeCount >= c.MaxExchanges {
		if err := l.escalate(c, ReasonExchangeLimit); err != nil {
			return nil, err
		}
		return &SendResult{
			Status:        StatusEscalated,
			ExchangeCount: c.ExchangeCount,
			MaxExchanges:  c.MaxExchanges,
			Reason:        ReasonExchangeLimit,
		}, nil
	}

	elapsed := l.now().Sub(last.Timestamp).Milliseconds()
	last.ResponseTime = &elapsed

	l.append(c, receivingAgent, last.FromAgent, MessageResponse, responseContent, metadata)
	if err := l.save(c); err != nil {
		return nil, err
	}

	entry := l.entry(c, audit.EventResponse)
	entry.ExchangeNumber = c.ExchangeCount
	entry.FromAgent = receivingAgent
	entry.ToAgent = c.CurrentSpeaker
	entry.Fields = map[string]interface{}{"response_time_ms": elapsed}
	l.audit.Record(entry)
	l.log.WithSession(sessionKey).ExchangeRecorded(receivingAgent, c.CurrentSpeaker, c.ExchangeCount, string(MessageResponse))

	result := &SendResult{
		Status:        c.Status,
		ExchangeCount: c.ExchangeCount,
		MaxExchanges:  c.MaxExchanges,
	}
	if c.ExchangeCount >= l.warnThreshold && c.ExchangeCount < c.MaxExchanges {
		result.Warning = fmt.Sprintf("exchange %d of %d: approaching the exchange limit", c.ExchangeCount, c.MaxExchanges)
		l.log.WithSession(sessionKey).LimitWarning(c.ExchangeCount, c.MaxExchanges)
	}
	return result, nil
}

// Complete marks the communication completed with a reason and final
// outcome. Valid only while active.
func (l *Ledger) Complete(sessionKey, reason, finalOutcome string) (*Communication, error) {
	unlock, err := l.lock(sessionKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := l.load(sessionKey)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive {
		return nil, errors.NotActive(sessionKey, string(c.Status))
	}

	c.Status = StatusCompleted
	c.Reason = reason
	c.FinalOutcome = finalOutcome
	if err := l.save(c); err != nil {
		return nil, err
	}

	entry := l.entry(c, audit.EventCompleted)
	entry.Fields = map[string]interface{}{"reason": reason}
	l.audit.Record(entry)

	return c, nil
}

// Escalate marks the communication escalated with a reason. Escalating
// an already terminal communication is a no-op that returns the existing
// record without emitting a second audit entry.
func (l *Ledger) Escalate(sessionKey, reason string) (*Communication, error) {
	unlock, err := l.lock(sessionKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := l.load(sessionKey)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return c, nil
	}

	if err := l.escalate(c, reason); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the persisted Communication for a session key.
func (l *Ledger) Get(sessionKey string) (*Communication, error) {
	return l.load(sessionKey)
}

// Sessions returns the session keys of all persisted communications.
func (l *Ledger) Sessions() ([]string, error) {
	keys, err := l.store.Keys(keyPrefix + "*")
	if err != nil {
		return nil, errors.Wrap(err, "list session records")
	}
	sessions := make([]string, 0, len(keys))
	for _, k := range keys {
		sessions = append(sessions, k[len(keyPrefix):])
	}
	return sessions, nil
}

// Stats derives a read-only summary of one communication.
func (l *Ledger) Stats(sessionKey string) (*Stats, error) {
	c, err := l.load(sessionKey)
	if err != nil {
		return nil, err
	}

	s := &Stats{
		SessionKey:      c.SessionKey,
		Status:          c.Status,
		TotalExchanges:  c.ExchangeCount,
		MaxExchanges:    c.MaxExchanges,
		MessagesByAgent: make(map[string]int),
	}
	if c.MaxExchanges > 0 {
		s.Utilization = float64(c.ExchangeCount) / float64(c.MaxExchanges) * 100
	}

	var responseTotal int64
	var responseCount int
	for _, e := range c.Exchanges {
		s.MessagesByAgent[e.FromAgent]++
		if cost, ok := e.Metadata["cost"]; ok {
			switch v := cost.(type) {
			case float64:
				s.TotalCost += v
			case int:
				s.TotalCost += float64(v)
			case int64:
				s.TotalCost += float64(v)
			}
		}
		if e.ResponseTime != nil {
			responseTotal += *e.ResponseTime
			responseCount++
		}
	}
	if responseCount > 0 {
		s.MeanResponseTime = float64(responseTotal) / float64(responseCount)
	}
	return s, nil
}

// escalate transitions an active communication to escalated and emits
// the escalation audit entry. The caller holds the session lock.
func (l *Ledger) escalate(c *Communication, reason string) error {
	c.Status = StatusEscalated
	c.Reason = reason
	if err := l.save(c); err != nil {
		return err
	}

	entry := l.entry(c, audit.EventEscalated)
	entry.Fields = map[string]interface{}{"reason": reason}
	l.audit.Record(entry)
	l.log.WithSession(c.SessionKey).Escalated(reason)
	return nil
}

// append adds a new exchange, numbered by position, and advances the
// current speaker.
func (l *Ledger) append(c *Communication, fromAgent, toAgent string, messageType MessageType, content string, metadata map[string]interface{}) {
	c.Exchanges = append(c.Exchanges, Exchange{
		ExchangeNumber: len(c.Exchanges) + 1,
		FromAgent:      fromAgent,
		ToAgent:        toAgent,
		MessageType:    messageType,
		Content:        content,
		Metadata:       metadata,
		Timestamp:      l.now().UTC(),
	})
	c.ExchangeCount = len(c.Exchanges)
	c.CurrentSpeaker = toAgent
}

func (l *Ledger) load(sessionKey string) (*Communication, error) {
	data, err := l.store.Get(keyPrefix + sessionKey)
	if err != nil {
		if stderrors.Is(err, state.ErrNotFound) {
			return nil, errors.NotFound(sessionKey)
		}
		return nil, errors.Wrap(err, "load session record", errors.WithSessionKey(sessionKey))
	}
	var c Communication
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Internal("corrupt session record", errors.WithSessionKey(sessionKey), errors.WithCause(err))
	}
	return &c, nil
}

func (l *Ledger) save(c *Communication) error {
	c.UpdatedAt = l.now().UTC()
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Internal("encode session record", errors.WithSessionKey(c.SessionKey), errors.WithCause(err))
	}
	if err := l.store.Put(keyPrefix+c.SessionKey, data, 0); err != nil {
		return errors.Wrap(err, "persist session record", errors.WithSessionKey(c.SessionKey))
	}
	return nil
}

// lock serializes read-modify-write cycles on one session record. A held
// lock is retried briefly before giving up.
func (l *Ledger) lock(sessionKey string) (func(), error) {
	deadline := time.Now().Add(lockWait)
	for {
		lk, err := l.store.Lock(keyPrefix+sessionKey, lockTTL)
		if err == nil {
			return func() {
				if err := lk.Unlock(); err != nil {
					l.log.WithSession(sessionKey).Warn("unlock session record", map[string]interface{}{"error": err})
				}
			}, nil
		}
		if !stderrors.Is(err, state.ErrLockHeld) {
			return nil, errors.Wrap(err, "lock session record", errors.WithSessionKey(sessionKey))
		}
		if time.Now().After(deadline) {
			// Contention is transient; give retrying orchestrators the signal.
			return nil, errors.Internal("session record is locked by another writer",
				errors.WithSessionKey(sessionKey),
				errors.WithCategory(errors.CategoryTransient))
		}
		time.Sleep(lockPoll)
	}
}

func (l *Ledger) entry(c *Communication, event string) audit.Entry {
	return audit.NewEntry(c.SessionKey, event)
}
