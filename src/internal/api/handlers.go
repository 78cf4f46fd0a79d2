package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/filter"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/filterloop"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/rulestore"
)

// FilterService controls the filter loop. It is implemented by *filterloop.Service.
type FilterService interface {
	Start(ctx context.Context) error
	Stop() error
	UpdateRules(categories, domains, allowedDomains []string) error
	ClearRules() error
	RecentLogs() []filterloop.QueryLogEntry
	ClearRecentLogs()
	Snapshot() filterloop.Status
}

// RuleInspector reads the active rules. It is implemented by *filter.Engine.
type RuleInspector interface {
	EvaluateDomain(domain string) filter.Decision
	Snapshot() filter.Snapshot
}

// MetadataSource reads what the rule store holds. It is implemented by *rulestore.Store.
type MetadataSource interface {
	LoadMetadata(sampleLimit int) (rulestore.Metadata, error)
}

// Dependencies are the components served by the API. Store and Metrics are optional.
type Dependencies struct {
	Service FilterService
	Rules   RuleInspector
	Store   MetadataSource
	Metrics http.Handler
	Version VersionInfo
}

// Handler manages all API endpoints and dependencies.
type Handler struct {
	service FilterService
	rules   RuleInspector
	store   MetadataSource
	version VersionInfo
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		service: deps.Service,
		rules:   deps.Rules,
		store:   deps.Store,
		version: deps.Version,
	}
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(DataResponse{Data: data})
}

// writeJSONData writes a successful JSON response with data.
func writeJSONData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, data)
}

// writeNoContent writes a 204 No Content response.
func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON decodes JSON from the request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeAndValidate decodes the body into v and validates it. It writes the
// error response and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := decodeJSON(r, v); err != nil {
		WriteInvalidRequest(w, "Invalid request body: "+err.Error())
		return false
	}
	if details, ok := validateRequest(v); !ok {
		WriteValidationError(w, "Request validation failed", details)
		return false
	}
	return true
}
