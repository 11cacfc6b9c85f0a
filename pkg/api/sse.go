package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// setSSEHeaders configures the response for Server-Sent Events streaming.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeSSEEvent writes a single SSE event to the response.
func writeSSEEvent(w http.ResponseWriter, id string, event string, data string) {
	fmt.Fprintf(w, "id: %s\n", id)
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

const (
	defaultStreamInterval = time.Second
	minStreamInterval     = 100 * time.Millisecond
)

// statsStreamHandler pushes a statistics event immediately and then every
// ?interval= (default 1s), for overlays that plot live counters. ?count=
// ends the stream after that many events.
func (s *Server) statsStreamHandler(w http.ResponseWriter, r *http.Request) {
	interval := defaultStreamInterval
	if v := r.URL.Query().Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < minStreamInterval {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("interval must be a duration of at least %s", minStreamInterval))
			return
		}
		interval = d
	}
	limit := 0
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		limit = n
	}

	setSSEHeaders(w)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := r.Context()
	for seq := 1; ; seq++ {
		data, err := json.Marshal(NewStatisticsResponse(s.adapter.PerformanceStats()))
		if err != nil {
			return
		}
		writeSSEEvent(w, strconv.Itoa(seq), "statistics", string(data))
		if limit > 0 && seq >= limit {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
