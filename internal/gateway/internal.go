package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/visgate/control-plane/pkg/models"
)

// internalSecret guards the worker and task routes. The secret arrives as a
// header or, for callers that cannot set headers, a query parameter.
func (g *Gateway) internalSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := g.cfg.Internal.Secret
		if expected == "" {
			writeAPIError(w, http.StatusUnauthorized, codeUnauthorized, "internal routes disabled", nil)
			return
		}
		got := r.Header.Get("X-Visgate-Internal-Secret")
		if got == "" {
			got = r.URL.Query().Get("secret")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			writeAPIError(w, http.StatusUnauthorized, codeUnauthorized, "invalid internal secret", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type workerCallback struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	EndpointURL string `json:"endpoint_url"`
}

func (g *Gateway) handleWorkerCallback(w http.ResponseWriter, r *http.Request) {
	var cb workerCallback
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&cb); err != nil {
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON body", nil)
		return
	}
	id := chi.URLParam(r, "id")
	if err := g.engine.ApplyWorkerStatus(r.Context(), id, cb.Status, cb.Message, cb.EndpointURL); err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type workerLogBatch struct {
	Logs []models.LogEntry `json:"logs"`
	// Single-line form used by simple workers.
	Message string `json:"message"`
	Level   string `json:"level"`
}

func (g *Gateway) handleWorkerLogs(w http.ResponseWriter, r *http.Request) {
	var batch workerLogBatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&batch); err != nil {
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON body", nil)
		return
	}
	entries := batch.Logs
	if len(entries) == 0 && batch.Message != "" {
		entries = []models.LogEntry{{Level: batch.Level, Message: batch.Message}}
	}
	if len(entries) == 0 {
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest, "no log entries", nil)
		return
	}
	if err := g.engine.AppendWorkerLogs(r.Context(), chi.URLParam(r, "id"), entries); err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (g *Gateway) handleWorkerCleanup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body)
	g.engine.Cleanup(r.Context(), chi.URLParam(r, "id"), body.Reason)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleOrchestrateTask is the task-queue trampoline: the queue POSTs here
// and the workflow runs within the request so queue retries cover crashes.
func (g *Gateway) handleOrchestrateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeploymentID string `json:"deployment_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil || body.DeploymentID == "" {
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest, "deployment_id required", nil)
		return
	}
	g.engine.Orchestrate(r.Context(), body.DeploymentID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
