package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/callrelay/callrelay/pkg/gateway/config"
	"github.com/callrelay/callrelay/pkg/gateway/events"
	"github.com/callrelay/callrelay/pkg/gateway/model"
	"github.com/callrelay/callrelay/pkg/gateway/registry"
	"github.com/callrelay/callrelay/pkg/gateway/tenant"
)

func testConfig() config.Config {
	return config.Config{
		RealtimeURL:         "wss://provider.test/realtime",
		Model:               "test-model",
		Voice:               "alloy",
		Instructions:        "be helpful",
		HoldMessage:         "Please hold while I check that.",
		RealtimeDialTimeout: 5 * time.Second,
		RelayWriteTimeout:   5 * time.Second,
		RelayPingInterval:   time.Minute,
	}
}

func dialRelay(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandler_RelaysCallEndToEnd(t *testing.T) {
	modelConn := newFakeModelConn()
	reg := registry.New()
	bus := events.NewBus()
	runner := &captureRunner{}

	h := Handler{
		Config:   testConfig(),
		Logger:   discardLogger(),
		Registry: reg,
		Bus:      bus,
		Runner:   runner,
		Dial: func(ctx context.Context, url string, header http.Header) (model.Conn, error) {
			return modelConn, nil
		},
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	// Subscribe before the call so nothing is missed.
	stream := bus.Subscribe("CA100")

	client := dialRelay(t, srv)
	setup := map[string]any{
		"type":    "setup",
		"callSid": "CA100",
		"from":    "+15550001111",
		"to":      "+15550002222",
	}
	if err := client.WriteJSON(setup); err != nil {
		t.Fatalf("send setup: %v", err)
	}

	waitFor(t, "call registration", func() bool {
		_, ok := reg.Lookup("CA100")
		return ok
	})
	entry, _ := reg.Lookup("CA100")
	if got := entry.Call.Snapshot(); got.From != "+15550001111" || got.Status != registry.StatusActive {
		t.Fatalf("call=%+v", got)
	}

	// Caller speaks; the utterance reaches the model as a user turn.
	prompt := map[string]any{"type": "prompt", "voicePrompt": "What are your hours?", "last": true}
	if err := client.WriteJSON(prompt); err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	waitFor(t, "user turn forwarded", func() bool {
		types := modelConn.writeTypes()
		return len(types) >= 2 && types[len(types)-1] == "conversation.item.create"
	})

	// Model responds; the chunk reaches the telephony side verbatim.
	modelConn.emit(t, model.ServerMessage{Type: "text", Text: "We are open 9 to 5.", Last: true})

	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read outbound frame: %v", err)
	}
	var frame TextFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode outbound frame: %v", err)
	}
	if frame.Type != "text" || frame.Token != "We are open 9 to 5." || !frame.Last {
		t.Fatalf("frame=%+v", frame)
	}

	// Provider ends the stream; the call winds down and deregisters.
	modelConn.emit(t, model.ServerMessage{Type: "end"})
	waitFor(t, "call deregistration", func() bool {
		_, ok := reg.Lookup("CA100")
		return !ok
	})
	if got := entry.Call.Snapshot(); got.Status != registry.StatusCompleted {
		t.Fatalf("status=%s, want completed", got.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var kinds []events.Kind
	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			break
		}
		kinds = append(kinds, ev.Type)
	}
	want := []events.Kind{
		events.KindSessionStart,
		events.KindTranscript,
		events.KindAssistantResponse,
		events.KindSessionEnd,
	}
	if len(kinds) != len(want) {
		t.Fatalf("kinds=%v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds=%v, want %v", kinds, want)
		}
	}
}

func TestHandler_MalformedFramesAreDropped(t *testing.T) {
	modelConn := newFakeModelConn()
	reg := registry.New()

	h := Handler{
		Config:   testConfig(),
		Logger:   discardLogger(),
		Registry: reg,
		Bus:      events.NewBus(),
		Runner:   &captureRunner{},
		Dial: func(ctx context.Context, url string, header http.Header) (model.Conn, error) {
			return modelConn, nil
		},
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := dialRelay(t, srv)
	if err := client.WriteJSON(map[string]any{"type": "setup", "callSid": "CA200"}); err != nil {
		t.Fatalf("send setup: %v", err)
	}
	waitFor(t, "call registration", func() bool {
		_, ok := reg.Lookup("CA200")
		return ok
	})

	// Garbage does not kill the call.
	if err := client.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("send garbage: %v", err)
	}
	if err := client.WriteJSON(map[string]any{"type": "prompt", "voicePrompt": "still here"}); err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	waitFor(t, "user turn forwarded after garbage", func() bool {
		types := modelConn.writeTypes()
		return len(types) >= 2 && types[len(types)-1] == "conversation.item.create"
	})

	if _, ok := reg.Lookup("CA200"); !ok {
		t.Fatalf("call deregistered after malformed frame")
	}
}

func TestHandler_DisconnectEndsCall(t *testing.T) {
	modelConn := newFakeModelConn()
	reg := registry.New()
	bus := events.NewBus()

	h := Handler{
		Config:   testConfig(),
		Logger:   discardLogger(),
		Registry: reg,
		Bus:      bus,
		Runner:   &captureRunner{},
		Dial: func(ctx context.Context, url string, header http.Header) (model.Conn, error) {
			return modelConn, nil
		},
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := dialRelay(t, srv)
	if err := client.WriteJSON(map[string]any{"type": "setup", "callSid": "CA300"}); err != nil {
		t.Fatalf("send setup: %v", err)
	}
	waitFor(t, "call registration", func() bool {
		_, ok := reg.Lookup("CA300")
		return ok
	})

	if err := client.WriteJSON(map[string]any{"event": "disconnect"}); err != nil {
		t.Fatalf("send disconnect: %v", err)
	}
	waitFor(t, "call deregistration", func() bool {
		_, ok := reg.Lookup("CA300")
		return !ok
	})
	if bus.Live("CA300") {
		t.Fatalf("event stream still live after disconnect")
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	notices []tenant.Notice
}

func (o *recordingObserver) WriteJSON(v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n, ok := v.(tenant.Notice); ok {
		o.notices = append(o.notices, n)
	}
	return nil
}

func (o *recordingObserver) all() []tenant.Notice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]tenant.Notice(nil), o.notices...)
}

func TestHandler_TenantObserversSeeCallLifecycle(t *testing.T) {
	modelConn := newFakeModelConn()
	reg := registry.New()
	tenants := tenant.NewManager(5, discardLogger())
	tid := uuid.New()
	obs := &recordingObserver{}
	tenants.AddObserver(tid, obs)

	h := Handler{
		Config:   testConfig(),
		Logger:   discardLogger(),
		Registry: reg,
		Bus:      events.NewBus(),
		Runner:   &captureRunner{},
		Tenants:  tenants,
		Dial: func(ctx context.Context, url string, header http.Header) (model.Conn, error) {
			return modelConn, nil
		},
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?tenant=" + tid.String()
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	defer client.Close()

	if err := client.WriteJSON(map[string]any{"type": "setup", "callSid": "CA500"}); err != nil {
		t.Fatalf("send setup: %v", err)
	}
	waitFor(t, "call_started notice", func() bool {
		ns := obs.all()
		return len(ns) == 1 && ns[0].Type == "call_started" && ns[0].CallSid == "CA500"
	})
	if got := tenants.CallSids(tid); len(got) != 1 || got[0] != "CA500" {
		t.Fatalf("tenant sessions=%v", got)
	}

	if err := client.WriteJSON(map[string]any{"event": "disconnect"}); err != nil {
		t.Fatalf("send disconnect: %v", err)
	}
	waitFor(t, "call_ended notice", func() bool {
		ns := obs.all()
		return len(ns) == 2 && ns[1].Type == "call_ended" && ns[1].CallSid == "CA500"
	})
	if got := tenants.CallSids(tid); len(got) != 0 {
		t.Fatalf("tenant sessions after end=%v", got)
	}
}

func TestHandler_SkipsLeadingFramesWithoutCallSid(t *testing.T) {
	modelConn := newFakeModelConn()
	reg := registry.New()

	h := Handler{
		Config:   testConfig(),
		Logger:   discardLogger(),
		Registry: reg,
		Bus:      events.NewBus(),
		Runner:   &captureRunner{},
		Dial: func(ctx context.Context, url string, header http.Header) (model.Conn, error) {
			return modelConn, nil
		},
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	// Connected/keepalive frames and garbage arrive before the frame
	// that carries the call identity; none of them end the connection.
	client := dialRelay(t, srv)
	if err := client.WriteJSON(map[string]any{"type": "connected"}); err != nil {
		t.Fatalf("send connected: %v", err)
	}
	if err := client.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("send garbage: %v", err)
	}
	if err := client.WriteJSON(map[string]any{"type": "setup", "callSid": "CA400"}); err != nil {
		t.Fatalf("send setup: %v", err)
	}

	waitFor(t, "call registration", func() bool {
		_, ok := reg.Lookup("CA400")
		return ok
	})
}

func TestHandler_DisconnectBeforeSetupClosesSocket(t *testing.T) {
	h := Handler{
		Config:   testConfig(),
		Logger:   discardLogger(),
		Registry: registry.New(),
		Bus:      events.NewBus(),
		Runner:   &captureRunner{},
		Dial: func(ctx context.Context, url string, header http.Header) (model.Conn, error) {
			t.Errorf("dialed model without a call identity")
			return nil, context.Canceled
		},
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := dialRelay(t, srv)
	if err := client.WriteJSON(map[string]any{"event": "disconnect"}); err != nil {
		t.Fatalf("send disconnect: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Fatalf("socket stayed open after disconnect")
	}
}
