package api

import (
	"github.com/maksimkurb/keen-dnsfilter/src/internal/filter"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/filterloop"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/rulestore"
)

// DataResponse wraps successful responses with a "data" field.
type DataResponse struct {
	Data interface{} `json:"data"`
}

// RulesRequest replaces the filter rules.
type RulesRequest struct {
	Categories     []string `json:"categories" validate:"omitempty,max=64,dive,required,max=64"`
	Domains        []string `json:"domains" validate:"omitempty,max=100000,dive,required,max=253"`
	AllowedDomains []string `json:"allowed_domains" validate:"omitempty,max=100000,dive,required,max=253"`
}

func (r *RulesRequest) isEmpty() bool {
	return r.Categories == nil && r.Domains == nil && r.AllowedDomains == nil
}

// ServiceControlRequest starts or stops the filter service. Rules, when
// present, are applied before starting.
type ServiceControlRequest struct {
	State string `json:"state" validate:"required,oneof=started stopped restarted"`
	RulesRequest
}

// ServiceControlResponse returns the result of service control operation.
type ServiceControlResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// RulesResponse returns the active rules and what the rule store holds.
type RulesResponse struct {
	Active      filter.Snapshot     `json:"active"`
	Stored      *rulestore.Metadata `json:"stored,omitempty"`
	StoredError string              `json:"stored_error,omitempty"`
	Warning     string              `json:"warning,omitempty"`
}

// CategoryInfo describes one built-in category.
type CategoryInfo struct {
	Name    string   `json:"name"`
	Domains []string `json:"domains"`
}

// LogsResponse returns the recent queries, newest first.
type LogsResponse struct {
	Entries []filterloop.QueryLogEntry `json:"entries"`
}

// StatusResponse returns the version and service status.
type StatusResponse struct {
	Version VersionInfo       `json:"version"`
	Service filterloop.Status `json:"service"`
}

// VersionInfo contains build version information.
type VersionInfo struct {
	Version string `json:"version"`
	Date    string `json:"date"`
	Commit  string `json:"commit"`
}

// HealthCheckResponse returns health check results.
type HealthCheckResponse struct {
	Healthy bool                   `json:"healthy"`
	Checks  map[string]CheckResult `json:"checks"`
}

// CheckResult contains the result of a single health check.
type CheckResult struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}
