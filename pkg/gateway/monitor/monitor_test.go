package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callrelay/callrelay/pkg/gateway/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func dialMonitor(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial monitor: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func TestMonitor_StreamsEventsUntilSessionEnd(t *testing.T) {
	bus := events.NewBus()
	bus.StartSession("CA1")
	bus.Publish("CA1", events.Event{Type: events.KindTranscript, Speaker: "caller", Text: "hello"})

	srv := httptest.NewServer(Handler{Bus: bus, Logger: discardLogger(), WriteTimeout: time.Second})
	defer srv.Close()

	conn := dialMonitor(t, srv, "?callSid=CA1")

	if ev := readEvent(t, conn); ev.Type != events.KindSessionStart {
		t.Fatalf("first event=%+v", ev)
	}
	if ev := readEvent(t, conn); ev.Type != events.KindTranscript || ev.Text != "hello" {
		t.Fatalf("second event=%+v", ev)
	}

	// Events published after subscription flow through too.
	bus.Publish("CA1", events.Event{Type: events.KindAssistantResponse, Text: "hi there"})
	if ev := readEvent(t, conn); ev.Type != events.KindAssistantResponse {
		t.Fatalf("third event=%+v", ev)
	}

	// Session end delivers the final event and closes the socket.
	bus.EndSession("CA1")
	if ev := readEvent(t, conn); ev.Type != events.KindSessionEnd {
		t.Fatalf("final event=%+v", ev)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("socket stayed open past session end")
	}
}

func TestMonitor_RequiresCallSid(t *testing.T) {
	srv := httptest.NewServer(Handler{Bus: events.NewBus(), Logger: discardLogger()})
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
}

func TestMonitor_ClientDisconnectReleasesSubscriber(t *testing.T) {
	bus := events.NewBus()
	bus.StartSession("CA2")

	done := make(chan struct{})
	h := Handler{Bus: bus, Logger: discardLogger()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
		close(done)
	}))
	defer srv.Close()

	conn := dialMonitor(t, srv, "?callSid=CA2")
	if ev := readEvent(t, conn); ev.Type != events.KindSessionStart {
		t.Fatalf("event=%+v", ev)
	}

	_ = conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler did not return after client disconnect")
	}
}
