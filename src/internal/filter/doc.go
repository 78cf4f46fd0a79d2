// Package filter decides whether a queried domain is blocked.
//
// The Engine owns one rule set made of block categories, block domains and
// session-only allowed domains. Categories expand into fixed seed domains
// from a static table. A domain matches a rule when it equals the rule or is
// a dot-delimited subdomain of it, and an allowed-domain match always wins
// over a block match.
//
// The rule set is replaced as a whole on every update, so a concurrent
// lookup sees either the previous or the new rules in full. Block categories
// and domains are persisted through a RuleSource; persistence failures are
// reported as STORAGE_ERROR but never roll back the in-memory rules.
package filter
