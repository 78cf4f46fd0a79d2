package api

import (
	"net/http"
)

// GetStatus returns the version and the filter service status.
// GET /api/v1/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONData(w, StatusResponse{
		Version: h.version,
		Service: h.service.Snapshot(),
	})
}

// GetLogs returns the recent query log, newest first.
// GET /api/v1/logs
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	writeJSONData(w, LogsResponse{Entries: h.service.RecentLogs()})
}

// ClearLogs empties the recent query log.
// DELETE /api/v1/logs
func (h *Handler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	h.service.ClearRecentLogs()
	writeNoContent(w)
}

// CheckHealth reports whether the filter loop runs and the rule store is readable.
// GET /health
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthCheckResponse{
		Healthy: true,
		Checks:  make(map[string]CheckResult),
	}

	status := h.service.Snapshot()
	if status.IsRunning {
		response.Checks["filter_service"] = CheckResult{Passed: true, Message: "Filter service is running"}
	} else {
		response.Healthy = false
		response.Checks["filter_service"] = CheckResult{Passed: false, Message: "Filter service is " + string(status.State)}
	}

	if h.store != nil {
		if _, err := h.store.LoadMetadata(0); err != nil {
			response.Healthy = false
			response.Checks["rule_store"] = CheckResult{Passed: false, Message: "Rule store is not readable: " + err.Error()}
		} else {
			response.Checks["rule_store"] = CheckResult{Passed: true, Message: "Rule store is readable"}
		}
	}

	code := http.StatusOK
	if !response.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}
