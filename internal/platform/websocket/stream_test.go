package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mdx-vision/mdx/internal/domain/session"
	"github.com/mdx-vision/mdx/internal/platform/bus"
	"github.com/mdx-vision/mdx/internal/platform/channel"
)

type wsFixture struct {
	server *httptest.Server
	events *bus.Bus
	coord  *session.Coordinator
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	events := bus.New(bus.Options{SubscriberBuffer: 16, ReplayDepth: 8})
	reg := session.NewRegistry()
	alloc := channel.NewAllocator()
	coord := session.NewCoordinator(reg, alloc, events, nil,
		session.CoordinatorOptions{Retention: time.Minute}, zerolog.Nop())

	e := echo.New()
	h := NewStreamHandler(events, reg, zerolog.Nop())
	h.RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	t.Cleanup(func() {
		server.Close()
		coord.Close()
		events.Close()
	})

	return &wsFixture{server: server, events: events, coord: coord}
}

func (f *wsFixture) dial(t *testing.T, sessionID uuid.UUID, query string) *gorillawebsocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/" + sessionID.String() + query
	ws, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *gorillawebsocket.Conn) bus.Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt bus.Event
	if err := ws.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return evt
}

func TestHandleConnect_StreamsLiveEvents(t *testing.T) {
	f := newWSFixture(t)
	sess, err := f.coord.Start(context.Background(), "owner-1", nil, session.Settings{})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	ws := f.dial(t, sess.ID, "")

	payload := json.RawMessage(`{"text":"patient reports chest pain"}`)
	seq, err := f.events.Publish(sess.ID, bus.KindTranscription, payload)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	evt := readEvent(t, ws)
	if evt.Sequence != seq {
		t.Fatalf("expected sequence %d, got %d", seq, evt.Sequence)
	}
	if evt.Kind != bus.KindTranscription {
		t.Fatalf("expected transcription kind, got %s", evt.Kind)
	}
	if string(evt.Payload) != string(payload) {
		t.Fatalf("payload mismatch: %s", evt.Payload)
	}
}

func TestHandleConnect_ReplayThenLive(t *testing.T) {
	f := newWSFixture(t)
	sess, err := f.coord.Start(context.Background(), "owner-1", nil, session.Settings{})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	// The lifecycle "started" event holds sequence 1.
	for i := 0; i < 3; i++ {
		if _, err := f.events.Publish(sess.ID, bus.KindTranscription, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	ws := f.dial(t, sess.ID, "?replay=2")

	first := readEvent(t, ws)
	second := readEvent(t, ws)
	if first.Sequence != 3 || second.Sequence != 4 {
		t.Fatalf("expected replayed sequences 3,4, got %d,%d", first.Sequence, second.Sequence)
	}

	liveSeq, err := f.events.Publish(sess.ID, bus.KindSuggestion, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("publish live: %v", err)
	}
	live := readEvent(t, ws)
	if live.Sequence != liveSeq {
		t.Fatalf("expected live sequence %d after replay, got %d", liveSeq, live.Sequence)
	}
}

func TestHandleConnect_UnknownSession(t *testing.T) {
	f := newWSFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/" + uuid.New().String()
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", resp)
	}
}

func TestHandleConnect_InvalidReplayParam(t *testing.T) {
	f := newWSFixture(t)
	sess, err := f.coord.Start(context.Background(), "owner-1", nil, session.Settings{})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/" + sess.ID.String() + "?replay=-1"
	_, resp, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for negative replay")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", resp)
	}
}

func TestHandleConnect_TopicClosedOnTeardown(t *testing.T) {
	f := newWSFixture(t)
	sess, err := f.coord.Start(context.Background(), "owner-1", nil, session.Settings{})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	ws := f.dial(t, sess.ID, "")
	// Drain nothing yet; tear the topic down underneath the connection.
	f.events.CloseTopic(sess.ID)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	if err == nil {
		t.Fatal("expected connection closed after topic teardown")
	}
	closeErr, ok := err.(*gorillawebsocket.CloseError)
	if !ok || closeErr.Code != closeTopicClosed {
		t.Fatalf("expected close code %d, got %v", closeTopicClosed, err)
	}
}
