package server

import (
	"encoding/json"
	"net/http"

	"github.com/0xReLogic/chaos-backend/internal/chaos"
	"github.com/0xReLogic/chaos-backend/internal/logging"
)

const (
	HeaderAppPool   = "X-App-Pool"
	HeaderReleaseID = "X-Release-Id"

	versionMessage   = "Service is running normally."
	invalidModeUsage = "Invalid chaos mode. Use ?mode=error or ?mode=timeout."
)

// VersionInfo is the /version response body.
type VersionInfo struct {
	Pool    string `json:"pool"`
	Release string `json:"release"`
	Message string `json:"message"`
}

// ChaosStatus is the /chaos/status response body.
type ChaosStatus struct {
	Mode           string `json:"mode"`
	Active         bool   `json:"active"`
	PendingDelayed int64  `json:"pending_delayed"`
}

func (s *HTTPServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	logging.LogVersionServed(r.Context(), s.Pool, s.Release)
	w.Header().Set(HeaderAppPool, s.Pool)
	w.Header().Set(HeaderReleaseID, s.Release)
	writeJSON(w, http.StatusOK, VersionInfo{
		Pool:    s.Pool,
		Release: s.Release,
		Message: versionMessage,
	})
}

// handleHealthz is a liveness probe: 200 even while chaos is active, so
// failover has to be driven by /version failures.
func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.State.Active() {
		writeText(w, http.StatusOK, "OK (Chaos Active)")
		return
	}
	writeText(w, http.StatusOK, "OK")
}

func (s *HTTPServer) handleChaosStart(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("mode")
	mode, err := chaos.ParseMode(raw)
	if err != nil {
		logging.LogChaosStartRejected(r.Context(), raw)
		writeText(w, http.StatusBadRequest, invalidModeUsage)
		return
	}

	prev, err := s.State.Start(mode)
	if err != nil {
		logging.LogChaosStartRejected(r.Context(), raw)
		writeText(w, http.StatusBadRequest, invalidModeUsage)
		return
	}
	logging.LogChaosStarted(r.Context(), prev.String(), mode.String())
	writeText(w, http.StatusOK, "Chaos mode set to: "+mode.String())
}

func (s *HTTPServer) handleChaosStop(w http.ResponseWriter, r *http.Request) {
	prev := s.State.Stop()
	logging.LogChaosStopped(r.Context(), prev.String())
	writeText(w, http.StatusOK, "Chaos mode stopped.")
}

func (s *HTTPServer) handleChaosStatus(w http.ResponseWriter, r *http.Request) {
	mode := s.State.Mode()
	writeJSON(w, http.StatusOK, ChaosStatus{
		Mode:           mode.String(),
		Active:         mode != chaos.ModeNone,
		PendingDelayed: s.Injector.Scheduler().Pending(),
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.LogError("response_encode_failed", map[string]interface{}{
			"error": err,
		})
	}
}
