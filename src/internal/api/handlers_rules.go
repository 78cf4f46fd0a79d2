package api

import (
	"net/http"
	"strings"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/errors"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/filter"
)

const metadataSampleLimit = 10

// GetRules returns the active rules and a summary of the rule store.
// GET /api/v1/rules
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	writeJSONData(w, h.rulesResponse(""))
}

// UpdateRules replaces the filter rules. A persistence failure is reported
// as a warning; the rules are active anyway.
// PUT /api/v1/rules
func (h *Handler) UpdateRules(w http.ResponseWriter, r *http.Request) {
	var req RulesRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	warning, ok := h.applyRuleChange(w, h.service.UpdateRules(req.Categories, req.Domains, req.AllowedDomains))
	if !ok {
		return
	}
	writeJSONData(w, h.rulesResponse(warning))
}

// ClearRules removes every rule.
// DELETE /api/v1/rules
func (h *Handler) ClearRules(w http.ResponseWriter, r *http.Request) {
	warning, ok := h.applyRuleChange(w, h.service.ClearRules())
	if !ok {
		return
	}
	writeJSONData(w, h.rulesResponse(warning))
}

func (h *Handler) applyRuleChange(w http.ResponseWriter, err error) (string, bool) {
	if err == nil {
		return "", true
	}
	if errors.HasCode(err, errors.ErrCodeStorage) {
		return err.Error(), true
	}
	WriteServiceError(w, "Failed to update rules", err)
	return "", false
}

func (h *Handler) rulesResponse(warning string) RulesResponse {
	resp := RulesResponse{
		Active:  h.rules.Snapshot(),
		Warning: warning,
	}
	if h.store != nil {
		if meta, err := h.store.LoadMetadata(metadataSampleLimit); err != nil {
			resp.StoredError = err.Error()
		} else {
			resp.Stored = &meta
		}
	}
	return resp
}

// EvaluateDomain reports how a domain would be handled.
// GET /api/v1/evaluate?domain=example.com
func (h *Handler) EvaluateDomain(w http.ResponseWriter, r *http.Request) {
	domain := strings.TrimSpace(r.URL.Query().Get("domain"))
	if domain == "" {
		WriteInvalidRequest(w, "Query parameter 'domain' is required")
		return
	}
	writeJSONData(w, h.rules.EvaluateDomain(domain))
}

// GetCategories lists the built-in categories and their domains.
// GET /api/v1/categories
func (h *Handler) GetCategories(w http.ResponseWriter, r *http.Request) {
	names := filter.Categories()
	categories := make([]CategoryInfo, 0, len(names))
	for _, name := range names {
		categories = append(categories, CategoryInfo{
			Name:    name,
			Domains: filter.CategoryDomains(name),
		})
	}
	writeJSONData(w, categories)
}
