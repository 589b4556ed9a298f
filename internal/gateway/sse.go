package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/visgate/control-plane/pkg/models"
)

const ssePollInterval = 2 * time.Second

func sseHeaders(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, codeInternal, "streaming unsupported", nil)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return flusher, true
}

func sseEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, encoded)
	flusher.Flush()
}

// handleStatusStream emits a status event on every observed status change,
// polling the store every 2s, and closes at a terminal status.
func (g *Gateway) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	d, err := g.loadOwned(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	flusher, ok := sseHeaders(w)
	if !ok {
		return
	}

	emit := func(d *models.Deployment) {
		sseEvent(w, flusher, "status", project(d))
	}
	emit(d)
	if models.IsTerminal(d.Status) {
		return
	}

	last := d.Status
	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
		current, err := g.store.Get(r.Context(), d.DeploymentID)
		if err != nil {
			return
		}
		if current.Status != last {
			last = current.Status
			emit(current)
		}
		if models.IsTerminal(current.Status) {
			return
		}
	}
}

// handleLogStream emits log events from the live ring, tracking the last
// seen timestamp so each line is delivered once. Closes when the deployment
// reaches a terminal status and the ring is drained.
func (g *Gateway) handleLogStream(w http.ResponseWriter, r *http.Request) {
	d, err := g.loadOwned(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	flusher, ok := sseHeaders(w)
	if !ok {
		return
	}

	var lastSeen time.Time
	emitSince := func() {
		for _, entry := range g.logRing.Since(d.DeploymentID, lastSeen) {
			sseEvent(w, flusher, "log", entry)
			if ts := models.ParseISO(entry.Timestamp); ts.After(lastSeen) {
				lastSeen = ts
			}
		}
	}
	emitSince()

	ticker := time.NewTicker(ssePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
		emitSince()

		current, err := g.store.Get(r.Context(), d.DeploymentID)
		if err != nil {
			return
		}
		if models.IsTerminal(current.Status) {
			emitSince()
			return
		}
	}
}
