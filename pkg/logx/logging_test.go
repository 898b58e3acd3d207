package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" || m["comp"] != "test" || m["n"] != float64(3) {
		t.Fatalf("unexpected log line: %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error should not be logged: %v", m)
	}
}

func TestTimeField(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	NewWriter(&buf, "info").Info("tick", Time("at", at))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	got, _ := m["at"].(string)
	if !strings.HasPrefix(got, "2026-01-02T03:04:05") {
		t.Fatalf("at = %q", got)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("ignored")
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, lv := range []string{"", "debug", "INFO", "warning", "error", "trace"} {
		if !ValidLevel(lv) {
			t.Fatalf("ValidLevel(%q) = false", lv)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}

func TestFormatAlertJSON(t *testing.T) {
	t.Parallel()
	got := formatAlertJSON([]byte(`{"level":"error","message":"boom","time":"x","job":"a","caller":"f.go:1"}`))
	if !strings.HasPrefix(got, "[ERROR] boom") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "- job=a") || strings.Contains(got, "caller") {
		t.Fatalf("unexpected body: %q", got)
	}
}

type captureSender struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSender) SendAlert(_ context.Context, msg string) bool {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return true
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestAlertSinkForwardsOnlyAboveMinLevel(t *testing.T) {
	svc, log := New(Config{Level: "debug", Alert: AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 50}})
	defer svc.Close()
	sender := &captureSender{}
	svc.SetAlertSender(sender)

	log.Info("quiet")
	log.Error("loud")

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := sender.count(); n != 1 {
		t.Fatalf("alerts = %d, want 1", n)
	}
	sender.mu.Lock()
	msg := sender.msgs[0]
	sender.mu.Unlock()
	if !strings.Contains(msg, "loud") {
		t.Fatalf("unexpected alert %q", msg)
	}
}
