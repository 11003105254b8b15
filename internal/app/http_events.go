package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"opsboard/api/internal/realtime"
)

const eventPingInterval = 15 * time.Second

// handleEvents serves the change feed as a server-sent event stream.
// EventSource cannot set request headers, so the access token may arrive
// either as a bearer header or as an access_token query parameter.
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	var tableNames []string
	if raw := strings.TrimSpace(r.URL.Query().Get("tables")); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if !realtime.IsTable(name) {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
					fmt.Sprintf("unknown table %q", name), nil)
				return
			}
			tableNames = append(tableNames, name)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}

	// The stream outlives the server's write timeout; clear the deadline on
	// this connection only. Recorders in tests do not support deadlines.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := s.service.Hub().Subscribe(tableNames, !session.IsExternal)
	defer s.service.Hub().Unsubscribe(sub)

	// Open the stream immediately so the client sees the connection as live
	// before the first change arrives.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
