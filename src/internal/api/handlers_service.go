package api

import (
	"net/http"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/errors"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
)

// ControlService starts, stops or restarts the filter service.
// POST /api/v1/service
func (h *Handler) ControlService(w http.ResponseWriter, r *http.Request) {
	var req ServiceControlRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	var resp ServiceControlResponse

	if req.State == "stopped" || req.State == "restarted" {
		if err := h.service.Stop(); err != nil {
			log.Warnf("Filter service stopped with errors: %v", err)
			resp.Warning = err.Error()
		}
	}

	if req.State == "started" || req.State == "restarted" {
		if !req.isEmpty() {
			if err := h.service.UpdateRules(req.Categories, req.Domains, req.AllowedDomains); err != nil {
				if !errors.HasCode(err, errors.ErrCodeStorage) {
					WriteServiceError(w, "Failed to apply rules", err)
					return
				}
				resp.Warning = err.Error()
			}
		}
		if err := h.service.Start(r.Context()); err != nil {
			WriteServiceError(w, "Failed to start filter service", err)
			return
		}
	}

	status := h.service.Snapshot()
	resp.Status = string(status.State)
	switch req.State {
	case "started":
		resp.Message = "Filter service started"
	case "stopped":
		resp.Message = "Filter service stopped"
	default:
		resp.Message = "Filter service restarted"
	}
	writeJSONData(w, resp)
}
