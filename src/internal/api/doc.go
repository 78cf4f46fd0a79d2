// Package api provides the local HTTP control and status API of keen-dnsfilter.
//
// The API controls the filter service and its rules:
//   - start and stop the filter loop, optionally with a new rule set
//   - replace or clear the filter rules
//   - read and clear the recent query log
//   - status, rule evaluation, category list and Prometheus metrics
//
// Access is restricted to loopback and private networks.
//
// # Response Format
//
// All successful responses wrap data in a "data" field:
//
//	{
//	  "data": { /* response payload */ }
//	}
//
// Error responses use the following format:
//
//	{
//	  "error": {
//	    "code": "ERROR_CODE",
//	    "message": "Human-readable error message",
//	    "details": { /* optional context */ }
//	  }
//	}
package api
