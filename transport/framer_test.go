package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"parley/errors"
	"parley/logging"
)

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(io.Discard)
	return l
}

func TestWriteFramesOneLine(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(strings.NewReader(""), &buf, quietLogger())

	if err := f.Write(NewRequest(1, "tools/list", nil)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := buf.String()
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("line not newline-terminated: %q", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected exactly one line, got %q", out)
	}

	var req Request
	if err := json.Unmarshal([]byte(out), &req); err != nil {
		t.Fatalf("unmarshal written line: %v", err)
	}
	if req.JSONRPC != "2.0" || req.ID != 1 || req.Method != "tools/list" {
		t.Errorf("unexpected envelope: %+v", req)
	}
}

func TestWriteAfterClose(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(strings.NewReader(""), &buf, quietLogger())
	f.Close()

	err := f.Write(NewRequest(1, "tools/list", nil))
	if errors.Code(err) != errors.ErrCodeNotConnected {
		t.Errorf("expected NOT_CONNECTED, got %v", err)
	}
}

func TestReadReassemblesPartialLines(t *testing.T) {
	pr, pw := io.Pipe()
	f := NewFramer(pr, io.Discard, quietLogger())

	got := make(chan *Response, 2)
	f.OnResponse(func(r *Response) { got <- r })
	f.Start()

	// One envelope delivered across three writes, then a second envelope
	// sharing a chunk with the first's tail.
	pw.Write([]byte(`{"jsonrpc":"2.0",`))
	pw.Write([]byte(`"id":7,"result":{"ok":true}}`))
	pw.Write([]byte("\n" + `{"jsonrpc":"2.0","id":8,"result":null}` + "\n"))
	pw.Close()

	first := waitResponse(t, got)
	if first.ID != 7 {
		t.Errorf("expected id 7, got %d", first.ID)
	}
	second := waitResponse(t, got)
	if second.ID != 8 {
		t.Errorf("expected id 8, got %d", second.ID)
	}
}

func TestMalformedLinesAreDroppedNotFatal(t *testing.T) {
	input := strings.Join([]string{
		`plain diagnostic output`,                 // no marker, skipped before parse
		`{"jsonrpc":"2.0","id":broken}`,           // marker present, parse fails
		`{"jsonrpc":"2.0","id":1,"result":"ok"}`,  // still delivered
	}, "\n") + "\n"

	f := NewFramer(strings.NewReader(input), io.Discard, quietLogger())
	got := make(chan *Response, 1)
	f.OnResponse(func(r *Response) { got <- r })
	f.Start()

	resp := waitResponse(t, got)
	if resp.ID != 1 {
		t.Errorf("expected surviving envelope id 1, got %d", resp.ID)
	}
}

func TestNotificationDispatch(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"notifications/progress","params":{"pct":50}}` + "\n"

	f := NewFramer(strings.NewReader(input), io.Discard, quietLogger())
	got := make(chan string, 1)
	f.OnNotification(func(method string, params json.RawMessage) { got <- method })
	f.Start()

	select {
	case m := <-got:
		if m != "notifications/progress" {
			t.Errorf("unexpected method %q", m)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not dispatched")
	}
}

func TestDisconnectSignalFiresOnceWithExitCode(t *testing.T) {
	pr, pw := io.Pipe()
	f := NewFramer(pr, io.Discard, quietLogger())
	f.ExitCodeFunc = func() int { return 3 }

	codes := make(chan int, 4)
	f.OnDisconnect(func(code int) { codes <- code })
	f.OnDisconnect(func(code int) { codes <- code })
	f.Start()

	pw.Close()
	<-f.Done()

	// Late signals are ignored.
	f.SignalDisconnect(99)

	for i := 0; i < 2; i++ {
		select {
		case c := <-codes:
			if c != 3 {
				t.Errorf("expected exit code 3, got %d", c)
			}
		case <-time.After(time.Second):
			t.Fatal("disconnect listener not called")
		}
	}
	select {
	case c := <-codes:
		t.Errorf("disconnect fanned out more than once per listener: %d", c)
	default:
	}
}

func TestWriteAfterDisconnect(t *testing.T) {
	f := NewFramer(strings.NewReader(""), io.Discard, quietLogger())
	f.SignalDisconnect(0)

	err := f.Write(NewRequest(1, "tools/list", nil))
	if errors.Code(err) != errors.ErrCodeNotConnected {
		t.Errorf("expected NOT_CONNECTED after disconnect, got %v", err)
	}
}

func waitResponse(t *testing.T, ch <-chan *Response) *Response {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}
