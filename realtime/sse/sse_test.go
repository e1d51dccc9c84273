package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/sicko7947/waitflow/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is a bytes.Buffer safe for one writer and one reader
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub(realtime.WithLogger(zerolog.Nop()))
	t.Cleanup(hub.Close)
	h := New(hub, "/workflow", append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	return h, hub
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	ev := realtime.Event{
		Type:      "approval_granted",
		Data:      map[string]any{"instanceId": "i-1"},
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, WriteEvent(w, ev))

	frame := buf.String()
	require.True(t, strings.HasPrefix(frame, "data: "))
	require.True(t, strings.HasSuffix(frame, "\n\n"))
	assert.Equal(t, 1, strings.Count(frame, "\n\n"))

	var decoded realtime.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")), &decoded))
	assert.Equal(t, ev.Type, decoded.Type)
	assert.Equal(t, "i-1", decoded.Data["instanceId"])
	assert.True(t, ev.Timestamp.Equal(decoded.Timestamp))
}

func TestWriteComment(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteComment(bufio.NewWriter(&buf), "heartbeat"))
	assert.Equal(t, ": heartbeat\n\n", buf.String())
}

func TestWriteEvent_FlushError(t *testing.T) {
	err := WriteEvent(bufio.NewWriter(failingWriter{}), realtime.NewEvent("x", nil))
	assert.Error(t, err)
}

func TestConnectRoute(t *testing.T) {
	h, hub := newTestHandler(t)
	app := fiber.New()
	h.Register(app)

	req := httptest.NewRequest(http.MethodPost, "/connect", strings.NewReader(`{"instanceId":"i-1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out ConnectResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.ListenerID)

	ch, err := hub.Channel("/workflow")
	require.NoError(t, err)
	listeners := ch.Listeners()
	require.Len(t, listeners, 1)
	assert.Equal(t, out.ListenerID, listeners[0].ID)
	assert.Equal(t, "i-1", listeners[0].Interests["instanceId"])
}

func TestConnectRoute_BadBody(t *testing.T) {
	h, _ := newTestHandler(t)
	app := fiber.New()
	h.Register(app)

	req := httptest.NewRequest(http.MethodPost, "/connect", strings.NewReader(`[1,2]`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamRoute_UnknownListener(t *testing.T) {
	h, _ := newTestHandler(t)
	app := fiber.New()
	h.Register(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPump_StreamsEventsUntilHubCloses(t *testing.T) {
	h, hub := newTestHandler(t, WithHeartbeat(0))

	l, err := hub.CreateListener("/workflow", realtime.Interests{"instanceId": "i-1"})
	require.NoError(t, err)
	conn, err := hub.Connect(context.Background(), "/workflow", l.ID)
	require.NoError(t, err)

	out := &lockedBuffer{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pump(bufio.NewWriter(out), conn)
	}()

	n, err := hub.Publish(context.Background(), "/workflow", realtime.NewEvent("approval_granted", nil), realtime.Interests{"instanceId": "i-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "approval_granted")
	}, time.Second, 5*time.Millisecond)

	hub.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not return after hub close")
	}

	frames := strings.Split(strings.TrimSuffix(out.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 2)
	assert.Contains(t, frames[0], `"type":"connected"`)
	assert.Contains(t, frames[1], `"type":"approval_granted"`)
}

func TestPump_Heartbeat(t *testing.T) {
	h, hub := newTestHandler(t, WithHeartbeat(10*time.Millisecond))

	l, err := hub.CreateListener("/workflow", nil)
	require.NoError(t, err)
	conn, err := hub.Connect(context.Background(), "/workflow", l.ID)
	require.NoError(t, err)

	out := &lockedBuffer{}
	go h.pump(bufio.NewWriter(out), conn)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), ": heartbeat\n\n")
	}, time.Second, 5*time.Millisecond)
}

func TestPump_WriteFailureDeregistersListener(t *testing.T) {
	h, hub := newTestHandler(t, WithHeartbeat(0))

	l, err := hub.CreateListener("/workflow", nil)
	require.NoError(t, err)
	conn, err := hub.Connect(context.Background(), "/workflow", l.ID)
	require.NoError(t, err)

	// the queued connected event fails to write
	h.pump(bufio.NewWriter(failingWriter{}), conn)

	assert.True(t, conn.Closed())
	ch, err := hub.Channel("/workflow")
	require.NoError(t, err)
	assert.Empty(t, ch.Listeners())

	n, err := hub.Publish(context.Background(), "/workflow", realtime.NewEvent("late", nil), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPump_LogsStreamLifetime(t *testing.T) {
	logs := &lockedBuffer{}
	h, hub := newTestHandler(t, WithHeartbeat(0), WithLogger(zerolog.New(logs)))

	l, err := hub.CreateListener("/workflow", nil)
	require.NoError(t, err)
	conn, err := hub.Connect(context.Background(), "/workflow", l.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), conn.ConnectedAt(), time.Second)

	h.pump(bufio.NewWriter(failingWriter{}), conn)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(logs.String())), &entry), logs.String())
	assert.Equal(t, "Client went away", entry["message"])
	assert.Equal(t, l.ID, entry["listener_id"])
	assert.Equal(t, "broken pipe", entry["error"])
	assert.Contains(t, entry, "connected_for")
}
