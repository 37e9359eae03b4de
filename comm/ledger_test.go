package comm

import (
	"sync"
	"testing"
	"time"

	"parley/audit"
	"parley/errors"
	"parley/state"
)

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *capturingSink) {
	t.Helper()
	store := state.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	sink := &capturingSink{}
	opts = append([]Option{WithAudit(sink)}, opts...)
	return NewLedger(store, opts...), sink
}

func TestInitializeCreatesActiveCommunication(t *testing.T) {
	ledger, sink := newTestLedger(t)

	c, err := ledger.Initialize("s1", "ba", "tl", map[string]interface{}{"topic": "framework"})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if c.Status != StatusActive {
		t.Errorf("status = %s, want active", c.Status)
	}
	if c.CurrentSpeaker != "ba" {
		t.Errorf("current speaker = %s, want ba", c.CurrentSpeaker)
	}
	if c.ExchangeCount != 0 {
		t.Errorf("exchange count = %d, want 0", c.ExchangeCount)
	}
	if c.MaxExchanges != DefaultMaxExchanges {
		t.Errorf("max exchanges = %d, want %d", c.MaxExchanges, DefaultMaxExchanges)
	}
	if got := sink.byEvent(audit.EventInitialized); len(got) != 1 {
		t.Errorf("expected 1 initialized audit entry, got %d", len(got))
	}
}

func TestInitializeRejectsDuplicateSessionKey(t *testing.T) {
	ledger, _ := newTestLedger(t)

	if _, err := ledger.Initialize("s1", "ba", "tl", nil); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	_, err := ledger.Initialize("s1", "ba", "tl", nil)
	if !errors.Is(err, errors.ErrCodeAlreadyExists) {
		t.Fatalf("expected ALREADY_EXISTS, got %v", err)
	}
}

func TestInitializeValidatesInput(t *testing.T) {
	ledger, _ := newTestLedger(t)

	cases := []struct {
		name       string
		sessionKey string
		from, to   string
	}{
		{"empty session key", "", "ba", "tl"},
		{"empty agent", "s1", "", "tl"},
		{"same agents", "s1", "ba", "ba"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.Initialize(tc.sessionKey, tc.from, tc.to, nil)
			if !errors.Is(err, errors.ErrCodeInvalidInput) {
				t.Errorf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestSendAppendsNumberedExchanges(t *testing.T) {
	ledger, _ := newTestLedger(t)
	mustInitialize(t, ledger, "s1")

	for i := 1; i <= 3; i++ {
		from, to := "ba", "tl"
		if i%2 == 0 {
			from, to = "tl", "ba"
		}
		result, err := ledger.Send("s1", from, to, MessageQuestion, "q", nil)
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		if result.ExchangeCount != i {
			t.Errorf("send %d: exchange count = %d", i, result.ExchangeCount)
		}
	}

	c, err := ledger.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i, e := range c.Exchanges {
		if e.ExchangeNumber != i+1 {
			t.Errorf("exchanges[%d].ExchangeNumber = %d, want %d", i, e.ExchangeNumber, i+1)
		}
	}
	if c.CurrentSpeaker != "tl" {
		t.Errorf("current speaker = %s, want tl", c.CurrentSpeaker)
	}
}

func TestSendRejectsUnknownMessageType(t *testing.T) {
	ledger, _ := newTestLedger(t)
	mustInitialize(t, ledger, "s1")

	_, err := ledger.Send("s1", "ba", "tl", MessageType("gossip"), "pssst", nil)
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestSendUnknownSession(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Send("nope", "ba", "tl", MessageQuestion, "q", nil)
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestWarningWindow(t *testing.T) {
	ledger, _ := newTestLedger(t)
	mustInitialize(t, ledger, "s1")

	// Counts 1 and 2 are below the threshold, 3 and 4 are inside the
	// window, 5 is at the limit.
	wantWarning := map[int]bool{1: false, 2: false, 3: true, 4: true, 5: false}
	for i := 1; i <= DefaultMaxExchanges; i++ {
		result, err := ledger.Send("s1", "ba", "tl", MessageQuestion, "q", nil)
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		if got := result.Warning != ""; got != wantWarning[i] {
			t.Errorf("send %d: warning present = %v, want %v (warning %q)", i, got, wantWarning[i], result.Warning)
		}
	}
}

func TestLimitEscalatesAsNormalResult(t *testing.T) {
	ledger, sink := newTestLedger(t)
	mustInitialize(t, ledger, "s1")

	for i := 0; i < DefaultMaxExchanges; i++ {
		if _, err := ledger.Send("s1", "ba", "tl", MessageQuestion, "q", nil); err != nil {
			t.Fatalf("Send %d: %v", i+1, err)
		}
	}

	result, err := ledger.Send("s1", "ba", "tl", MessageQuestion, "one too many", nil)
	if err != nil {
		t.Fatalf("overflow Send returned error: %v", err)
	}
	if !result.Escalated() {
		t.Fatalf("expected escalated result, got status %s", result.Status)
	}
	if result.Reason != ReasonExchangeLimit {
		t.Errorf("reason = %q, want %q", result.Reason, ReasonExchangeLimit)
	}
	if result.ExchangeCount != DefaultMaxExchanges {
		t.Errorf("exchange count = %d, want %d", result.ExchangeCount, DefaultMaxExchanges)
	}

	c, err := ledger.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Status != StatusEscalated {
		t.Errorf("persisted status = %s, want escalated", c.Status)
	}
	if len(c.Exchanges) != DefaultMaxExchanges {
		t.Errorf("exchange appended past the limit: %d exchanges", len(c.Exchanges))
	}
	if got := sink.byEvent(audit.EventEscalated); len(got) != 1 {
		t.Errorf("expected 1 escalation audit entry, got %d", len(got))
	}
}

// Five alternating sends on a fresh session escalate on the sixth call,
// with the persisted record showing all five exchanges.
func TestBoundedConversationScenario(t *testing.T) {
	ledger, _ := newTestLedger(t)

	if _, err := ledger.Initialize("s1", "ba", "tl", map[string]interface{}{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	result, err := ledger.Send("s1", "ba", "tl", MessageQuestion, "Which framework?", map[string]interface{}{"cost": 0})
	if err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if result.ExchangeCount != 1 {
		t.Errorf("exchange count = %d, want 1", result.ExchangeCount)
	}
	if result.Warning != "" {
		t.Errorf("unexpected warning on first exchange: %q", result.Warning)
	}

	agents := [][2]string{{"tl", "ba"}, {"ba", "tl"}, {"tl", "ba"}, {"ba", "tl"}}
	for i, pair := range agents {
		if _, err := ledger.Send("s1", pair[0], pair[1], MessageClarification, "more detail", map[string]interface{}{"cost": 0}); err != nil {
			t.Fatalf("Send %d: %v", i+2, err)
		}
	}

	result, err = ledger.Send("s1", "ba", "tl", MessageQuestion, "And one more thing", nil)
	if err != nil {
		t.Fatalf("overflow Send: %v", err)
	}
	if result.Status != StatusEscalated || result.Reason != ReasonExchangeLimit {
		t.Fatalf("result = %+v, want escalated with %s", result, ReasonExchangeLimit)
	}

	c, err := ledger.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Status != StatusEscalated {
		t.Errorf("persisted status = %s", c.Status)
	}
	if c.ExchangeCount != 5 {
		t.Errorf("persisted exchange count = %d, want 5", c.ExchangeCount)
	}
}

func TestProcessRecordsResponseTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ledger, _ := newTestLedger(t, WithClock(clock))
	mustInitialize(t, ledger, "s1")

	if _, err := ledger.Send("s1", "ba", "tl", MessageQuestion, "Which framework?", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	now = now.Add(1500 * time.Millisecond)
	result, err := ledger.Process("s1", "tl", "Use the standard one", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.ExchangeCount != 2 {
		t.Errorf("exchange count = %d, want 2", result.ExchangeCount)
	}

	c, err := ledger.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first := c.Exchanges[0]
	if first.ResponseTime == nil {
		t.Fatal("expected response time on answered exchange")
	}
	if *first.ResponseTime != 1500 {
		t.Errorf("response time = %dms, want 1500ms", *first.ResponseTime)
	}

	reply := c.Exchanges[1]
	if reply.FromAgent != "tl" || reply.ToAgent != "ba" {
		t.Errorf("reply routed %s->%s, want tl->ba", reply.FromAgent, reply.ToAgent)
	}
	if reply.MessageType != MessageResponse {
		t.Errorf("reply type = %s, want response", reply.MessageType)
	}
	if c.CurrentSpeaker != "ba" {
		t.Errorf("current speaker = %s, want ba", c.CurrentSpeaker)
	}
}

func TestProcessMisdirected(t *testing.T) {
	ledger, _ := newTestLedger(t)
	mustInitialize(t, ledger, "s1")

	if _, err := ledger.Send("s1", "ba", "tl", MessageQuestion, "q", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_, err := ledger.Process("s1", "ba", "I'll answer my own question", nil)
	if !errors.Is(err, errors.ErrCodeMisdirected) {
		t.Fatalf("expected MISDIRECTED, got %v", err)
	}

	meta := errors.GetMetadata(err)
	if meta["expected"] != "tl" || meta["got"] != "ba" {
		t.Errorf("metadata = %v", meta)
	}
}

func TestProcessRequiresPriorExchange(t *testing.T) {
	ledger, _ := newTestLedger(t)
	mustInitialize(t, ledger, "s1")

	_, err := ledger.Process("s1", "tl", "answering nothing", nil)
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestCompleteFreezesCommunication(t *testing.T) {
	ledger, sink := newTestLedger(t)
	mustInitialize(t, ledger, "s1")

	c, err := ledger.Complete("s1", "requirements settled", "ADR drafted")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", c.Status)
	}
	if c.Reason != "requirements settled" || c.FinalOutcome != "ADR drafted" {
		t.Errorf("reason/outcome = %q / %q", c.Reason, c.FinalOutcome)
	}
	if got := sink.byEvent(audit.EventCompleted); len(got) != 1 {
		t.Errorf("expected 1 completed audit entry, got %d", len(got))
	}

	_, err = ledger.Send("s1", "ba", "tl", MessageQuestion, "too late", nil)
	if !errors.Is(err, errors.ErrCodeNotActive) {
		t.Errorf("Send on completed: expected NOT_ACTIVE, got %v", err)
	}
	_, err = ledger.Complete("s1", "again", "")
	if !errors.Is(err, errors.ErrCodeNotActive) {
		t.Errorf("second Complete: expected NOT_ACTIVE, got %v", err)
	}
}

func TestEscalateIsIdempotent(t *testing.T) {
	ledger, sink := newTestLedger(t)
	mustInitialize(t, ledger, "s1")

	c, err := ledger.Escalate("s1", "analysis stuck")
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if c.Status != StatusEscalated || c.Reason != "analysis stuck" {
		t.Errorf("status/reason = %s / %q", c.Status, c.Reason)
	}

	c2, err := ledger.Escalate("s1", "different reason")
	if err != nil {
		t.Fatalf("second Escalate: %v", err)
	}
	if c2.Status != StatusEscalated {
		t.Errorf("status after no-op = %s", c2.Status)
	}
	if c2.Reason != "analysis stuck" {
		t.Errorf("no-op escalation overwrote reason: %q", c2.Reason)
	}
	if got := sink.byEvent(audit.EventEscalated); len(got) != 1 {
		t.Errorf("expected 1 escalation audit entry after two calls, got %d", len(got))
	}
}

func TestEscalateAfterCompleteIsNoOp(t *testing.T) {
	ledger, _ := newTestLedger(t)
	mustInitialize(t, ledger, "s1")

	if _, err := ledger.Complete("s1", "done", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	c, err := ledger.Escalate("s1", "too late")
	if err != nil {
		t.Fatalf("Escalate on completed: %v", err)
	}
	if c.Status != StatusCompleted {
		t.Errorf("status = %s, want completed preserved", c.Status)
	}
}

func TestStats(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ledger, _ := newTestLedger(t, WithClock(clock))
	mustInitialize(t, ledger, "s1")

	if _, err := ledger.Send("s1", "ba", "tl", MessageQuestion, "q1", map[string]interface{}{"cost": 0.25}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := ledger.Process("s1", "tl", "a1", map[string]interface{}{"cost": 0.75}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := ledger.Send("s1", "ba", "tl", MessageHandoff, "over to you", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	stats, err := ledger.Stats("s1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalExchanges != 3 {
		t.Errorf("total = %d, want 3", stats.TotalExchanges)
	}
	if stats.Utilization != 60 {
		t.Errorf("utilization = %v, want 60", stats.Utilization)
	}
	if stats.TotalCost != 1.0 {
		t.Errorf("total cost = %v, want 1.0", stats.TotalCost)
	}
	if stats.MeanResponseTime != 2000 {
		t.Errorf("mean response time = %v, want 2000", stats.MeanResponseTime)
	}
	if stats.MessagesByAgent["ba"] != 2 || stats.MessagesByAgent["tl"] != 1 {
		t.Errorf("messages by agent = %v", stats.MessagesByAgent)
	}
}

func TestSessionsListsKeys(t *testing.T) {
	ledger, _ := newTestLedger(t)
	mustInitialize(t, ledger, "s1")
	mustInitialize(t, ledger, "s2")

	sessions, err := ledger.Sessions()
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %v, want 2 keys", sessions)
	}
	found := map[string]bool{}
	for _, s := range sessions {
		found[s] = true
	}
	if !found["s1"] || !found["s2"] {
		t.Errorf("sessions = %v", sessions)
	}
}

func TestConcurrentSendsStayOrdered(t *testing.T) {
	ledger, _ := newTestLedger(t, WithMaxExchanges(100))
	mustInitialize(t, ledger, "s1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Send("s1", "ba", "tl", MessageQuestion, "q", nil)
			if err != nil {
				t.Errorf("concurrent Send: %v", err)
			}
		}()
	}
	wg.Wait()

	c, err := ledger.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.ExchangeCount != 20 {
		t.Fatalf("exchange count = %d, want 20", c.ExchangeCount)
	}
	for i, e := range c.Exchanges {
		if e.ExchangeNumber != i+1 {
			t.Errorf("exchanges[%d].ExchangeNumber = %d", i, e.ExchangeNumber)
		}
	}
}

func TestContendedSessionLockIsRetryable(t *testing.T) {
	store := state.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	ledger := NewLedger(store, WithAudit(&capturingSink{}))
	mustInitialize(t, ledger, "s1")

	// Another writer holds the session lock for longer than the ledger
	// is willing to wait.
	lk, err := store.Lock("comm.s1", time.Minute)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer lk.Unlock()

	_, err = ledger.Send("s1", "ba", "tl", MessageQuestion, "q", nil)
	if err == nil {
		t.Fatal("expected error while session lock is held")
	}
	if !errors.IsRetryable(err) {
		t.Errorf("contended lock error is not retryable: %v", err)
	}
}

func mustInitialize(t *testing.T, ledger *Ledger, sessionKey string) {
	t.Helper()
	if _, err := ledger.Initialize(sessionKey, "ba", "tl", nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

type capturingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *capturingSink) Record(e audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *capturingSink) byEvent(event string) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
