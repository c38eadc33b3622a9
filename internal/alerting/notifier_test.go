package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testNote() Notification {
	return Notification{
		Level:   LevelWarning,
		Title:   "Low spendable capacity",
		Message: "no output large enough to split",
		CycleID: "c-1",
		Time:    time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC),
		Fields:  map[string]string{"available": "3", "max_fee": "700"},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("telegram notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"WARNING", "Low spendable capacity", "Cycle: c-1", "available: 3", "max_fee: 700"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text %q missing %q", text, want)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false should fail")
	}
}

func TestLogNotifierWritesFields(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))
	if err := n.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	line := buf.String()
	if !strings.Contains(line, `"level":"warn"`) || !strings.Contains(line, `"max_fee":"700"`) {
		t.Fatalf("unexpected log line: %s", line)
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Notification) error {
	f.calls++
	return errors.New("down")
}

func TestMultiContinuesAfterFailure(t *testing.T) {
	first := &failingNotifier{}
	second := &failingNotifier{}
	err := Multi{first, second}.Notify(context.Background(), testNote())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("every notifier should be called once, got %d and %d", first.calls, second.calls)
	}
}

func TestDispatcherDelivers(t *testing.T) {
	target := &failingNotifier{}
	d := NewDispatcher(target, time.Second, testLogger())
	<-d.Dispatch(testNote())
	if target.calls != 1 {
		t.Fatalf("expected one delivery, got %d", target.calls)
	}

	var nilDispatcher *Dispatcher
	<-nilDispatcher.Dispatch(testNote())
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
