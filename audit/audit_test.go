package audit

import (
	"bytes"
	"strings"
	"testing"

	"parley/logging"
)

func TestNewEntryStampsIDAndTimestamp(t *testing.T) {
	e := NewEntry("team-alpha.session-1", EventExchange)

	if e.ID == "" {
		t.Error("expected non-empty id")
	}
	if e.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if e.SessionKey != "team-alpha.session-1" {
		t.Errorf("session key = %q", e.SessionKey)
	}

	e2 := NewEntry("team-alpha.session-1", EventExchange)
	if e.ID == e2.ID {
		t.Error("expected unique ids across entries")
	}
}

func TestLogSinkWritesOneLine(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New()
	log.SetOutput(&buf)

	sink := NewLogSink(log)
	e := NewEntry("team-alpha.session-1", EventExchange)
	e.ExchangeNumber = 2
	e.FromAgent = "coder"
	e.ToAgent = "reviewer"
	sink.Record(e)

	out := buf.String()
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected exactly one log line, got: %q", out)
	}
	for _, want := range []string{"audit", "team-alpha.session-1", "exchange=2", "from=coder", "to=reviewer"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	var a, b recorder
	sink := MultiSink{&a, &b}

	sink.Record(NewEntry("k", EventCompleted))

	if len(a.entries) != 1 || len(b.entries) != 1 {
		t.Fatalf("expected each sink to receive the entry, got %d and %d", len(a.entries), len(b.entries))
	}
}

func TestSignedTrailRecordsAndVerifies(t *testing.T) {
	trail, err := NewSignedTrail()
	if err != nil {
		t.Fatalf("NewSignedTrail: %v", err)
	}

	e := NewEntry("team-alpha.session-1", EventExchange)
	e.ExchangeNumber = 1
	e.FromAgent = "coder"
	e.ToAgent = "reviewer"
	e.Fields = map[string]interface{}{"message_type": "question"}
	trail.Record(e)

	records := trail.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	ok, err := Verify(records[0], trail.PublicKey())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected signature to verify")
	}
}

func TestSignedTrailDetectsTampering(t *testing.T) {
	trail, err := NewSignedTrail()
	if err != nil {
		t.Fatalf("NewSignedTrail: %v", err)
	}

	trail.Record(NewEntry("team-alpha.session-1", EventEscalated))

	record := trail.Records()[0]
	record.Entry.SessionKey = "team-beta.session-9"

	ok, err := Verify(record, trail.PublicKey())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("expected tampered record to fail verification")
	}
}

func TestVerifyRejectsBadKey(t *testing.T) {
	trail, err := NewSignedTrail()
	if err != nil {
		t.Fatalf("NewSignedTrail: %v", err)
	}
	trail.Record(NewEntry("k", EventInitialized))
	record := trail.Records()[0]

	if _, err := Verify(record, "not-base64!!"); err == nil {
		t.Error("expected error for malformed key")
	}
	if _, err := Verify(record, "c2hvcnQ="); err == nil {
		t.Error("expected error for wrong-size key")
	}
}

func TestExportIncludesKeyAndRecords(t *testing.T) {
	trail, err := NewSignedTrail()
	if err != nil {
		t.Fatalf("NewSignedTrail: %v", err)
	}
	trail.Record(NewEntry("k", EventExchange))
	trail.Record(NewEntry("k", EventCompleted))

	export := trail.ExportTrail()
	if export.PublicKey != trail.PublicKey() {
		t.Error("export public key mismatch")
	}
	if len(export.Records) != 2 {
		t.Errorf("expected 2 records in export, got %d", len(export.Records))
	}
	if export.ExportedAt.IsZero() {
		t.Error("expected export timestamp")
	}
}

type recorder struct {
	entries []Entry
}

func (r *recorder) Record(e Entry) { r.entries = append(r.entries, e) }
