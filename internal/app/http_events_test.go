package app

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"opsboard/api/internal/realtime"
	"opsboard/api/internal/store"
)

func TestEventsRequireToken(t *testing.T) {
	handler := newTestHandler(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assertUnauthorizedCode(t, rr)
}

func TestEventsRejectUnknownTable(t *testing.T) {
	handler := newTestHandler(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/events?tables=tasks,widgets", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, "usr_1"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected code VALIDATION_ERROR, got %v", payload["code"])
	}
	if payload["error"] != `unknown table "widgets"` {
		t.Fatalf("unexpected error message: %v", payload["error"])
	}
}

// openEventStream connects to /api/events on a live test server and consumes
// the stream up to the connected comment, so the subscription is registered
// before the caller publishes anything.
func openEventStream(t *testing.T, ctx context.Context, baseURL, token, tables string) (*bufio.Reader, func()) {
	t.Helper()

	url := baseURL + "/api/events?access_token=" + token
	if tables != "" {
		url += "&tables=" + tables
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		resp.Body.Close()
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			resp.Body.Close()
			t.Fatalf("read stream prelude: %v", err)
		}
		if strings.TrimSpace(line) == ": connected" {
			break
		}
	}
	return reader, func() { resp.Body.Close() }
}

// readChangeEvent reads frames until it finds an event: change frame and
// unmarshals its data line. Comment frames (pings, connected) are skipped.
func readChangeEvent(t *testing.T, reader *bufio.Reader) realtime.Event {
	t.Helper()

	sawChange := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "event: change":
			sawChange = true
		case sawChange && strings.HasPrefix(line, "data: "):
			var event realtime.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				t.Fatalf("parse event data %q: %v", line, err)
			}
			return event
		}
	}
}

func TestEventStreamDeliversSubscribedTables(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs, &fakeRevisions{})
	ts := httptest.NewServer(NewHTTPServer(svc, "http://localhost:5173").Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reader, closeStream := openEventStream(t, ctx, ts.URL, issueTestToken(t, "usr_1"), "tasks")
	defer closeStream()

	// The clients event is off-subscription and must never reach this stream.
	svc.Hub().Publish(realtime.Event{
		Table:  "clients",
		Action: realtime.ActionInsert,
		ID:     "cli_1",
		Record: map[string]any{"id": "cli_1"},
	})
	svc.Hub().Publish(realtime.Event{
		Table:  "tasks",
		Action: realtime.ActionUpdate,
		ID:     "tsk_1",
		Record: map[string]any{"id": "tsk_1", "status": "done"},
	})

	event := readChangeEvent(t, reader)
	if event.Table != "tasks" || event.ID != "tsk_1" {
		t.Fatalf("expected the tasks event first, got %+v", event)
	}
	if event.Action != realtime.ActionUpdate {
		t.Fatalf("expected an UPDATE action, got %q", event.Action)
	}
	if event.Record["status"] != "done" {
		t.Fatalf("expected the record payload to ride along, got %v", event.Record)
	}
}

func TestEventStreamHidesInternalEventsFromGuests(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Pat", Role: "guest", IsExternal: true}, nil
		},
	}
	svc := newTestService(fs, &fakeRevisions{})
	ts := httptest.NewServer(NewHTTPServer(svc, "http://localhost:5173").Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reader, closeStream := openEventStream(t, ctx, ts.URL, issueTestToken(t, "usr_9"), "")
	defer closeStream()

	// Staff-only traffic first: a guest stream must skip it and deliver the
	// client-visible event instead.
	svc.Hub().Publish(realtime.Event{
		Table:    "channels",
		Action:   realtime.ActionInsert,
		ID:       "chn_internal",
		Record:   map[string]any{"id": "chn_internal"},
		Internal: true,
	})
	svc.Hub().Publish(realtime.Event{
		Table:  "messages",
		Action: realtime.ActionInsert,
		ID:     "msg_1",
		Record: map[string]any{"id": "msg_1"},
	})

	event := readChangeEvent(t, reader)
	if event.Table != "messages" || event.ID != "msg_1" {
		t.Fatalf("expected the client-visible event, got %+v", event)
	}
}
