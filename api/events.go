package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/deal-desk/logger"
)

// pingInterval keeps idle SSE connections open through proxies.
const pingInterval = 30 * time.Second

// DraftEvents streams the draft state as server-sent events. The stream
// sends the current state first, then one "state" event per change, and
// ends with a "closed" event when the draft is discarded.
func (h *Handler) DraftEvents(w http.ResponseWriter, r *http.Request) {
	d, ok := h.draft(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	// The server's write timeout would cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	states, cancel := d.Subscribe()
	defer cancel()

	log := logger.FromContext(r.Context())
	log.Debug("[SSE] connected", "draft_id", d.ID, "remote", r.RemoteAddr)
	defer log.Debug("[SSE] disconnected", "draft_id", d.ID)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case s, open := <-states:
			if !open {
				fmt.Fprintf(w, "event: closed\ndata: {\"id\":%q}\n\n", d.ID)
				flusher.Flush()
				return
			}
			data, err := json.Marshal(s)
			if err != nil {
				log.Error("[SSE] encode failed", "draft_id", d.ID, "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\nid: %d\ndata: %s\n\n", s.Version, data); err != nil {
				return
			}
			flusher.Flush()
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
