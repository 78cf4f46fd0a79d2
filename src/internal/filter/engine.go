package filter

import (
	"sort"
	"sync"
	"time"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/errors"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/utils"
)

// RuleSource persists block categories and block domains.
type RuleSource interface {
	// Load returns the persisted categories and domains.
	Load() (categories, domains []string, err error)
	// Save atomically replaces the persisted rules.
	Save(categories, domains []string) error
	// Clear removes all persisted rules.
	Clear() error
}

// Decision is the result of evaluating one domain.
type Decision struct {
	InputDomain      string `json:"input_domain"`
	NormalizedDomain string `json:"normalized_domain"`
	Blocked          bool   `json:"blocked"`
	// MatchedRule is the block rule that matched, or the allowed domain that overrode it.
	MatchedRule string `json:"matched_rule,omitempty"`
	Allowlisted bool   `json:"allowlisted"`
}

// Snapshot is a sorted copy of the active rules.
type Snapshot struct {
	Categories     []string `json:"categories"`
	BlockDomains   []string `json:"block_domains"`
	AllowedDomains []string `json:"allowed_domains"`
}

type ruleSet struct {
	categories   map[string]struct{}
	blockDomains map[string]struct{}
	allowDomains map[string]struct{}
}

func emptyRuleSet() *ruleSet {
	return &ruleSet{
		categories:   map[string]struct{}{},
		blockDomains: map[string]struct{}{},
		allowDomains: map[string]struct{}{},
	}
}

// Engine holds the active rule set. It is safe for concurrent use.
type Engine struct {
	// updateMu serializes writers across the swap and the store write, so the
	// store always ends up holding the rule set that is active in memory.
	updateMu sync.Mutex

	mu         sync.RWMutex
	rules      *ruleSet
	lastUpdate time.Time

	source RuleSource
}

// NewEngine creates an engine hydrated from source. A nil source keeps rules
// in memory only. A load failure is logged and leaves the engine empty.
func NewEngine(source RuleSource) *Engine {
	e := &Engine{
		rules:  emptyRuleSet(),
		source: source,
	}
	if source == nil {
		return e
	}

	categories, domains, err := source.Load()
	if err != nil {
		log.Warnf("Failed to load persisted rules, starting with empty rule set: %v", err)
		return e
	}

	rules, _, _ := buildRuleSet(categories, domains, nil)
	e.rules = rules
	log.Infof("Loaded %d categories and %d blocked domains from rule store",
		len(rules.categories), len(rules.blockDomains))
	return e
}

// buildRuleSet normalizes the inputs and expands categories into seed domains.
// It returns the new set plus the category and block-domain lists to persist.
func buildRuleSet(categories, customDomains, allowedDomains []string) (*ruleSet, []string, []string) {
	rs := emptyRuleSet()

	orderedCategories, categorySet := normalizeSet(categories, normalizeCategory)
	rs.categories = categorySet

	var blockDomains []string
	for _, category := range orderedCategories {
		seeds, ok := categoryDomains[category]
		if !ok {
			log.Debugf("Category %q has no seed domains", category)
			continue
		}
		blockDomains = append(blockDomains, seeds...)
	}
	blockDomains = append(blockDomains, customDomains...)

	orderedDomains, domainSet := normalizeSet(blockDomains, Normalize)
	rs.blockDomains = domainSet

	_, rs.allowDomains = normalizeSet(allowedDomains, Normalize)

	return rs, orderedCategories, orderedDomains
}

// UpdateFilterRules replaces the whole rule set and persists categories and
// block domains. Allowed domains are kept for the session only. The new rules
// are active even when an error is returned; the error has code STORAGE_ERROR.
func (e *Engine) UpdateFilterRules(categories, customDomains, allowedDomains []string) error {
	rules, persistCategories, persistDomains := buildRuleSet(categories, customDomains, allowedDomains)

	e.updateMu.Lock()
	defer e.updateMu.Unlock()

	e.mu.Lock()
	e.rules = rules
	e.lastUpdate = time.Now()
	e.mu.Unlock()

	log.Infof("Filter rules updated: %d categories, %d blocked domains, %d allowed domains",
		len(rules.categories), len(rules.blockDomains), len(rules.allowDomains))

	if e.source == nil {
		return nil
	}
	if err := e.source.Save(persistCategories, persistDomains); err != nil {
		log.Warnf("Failed to persist filter rules: %v", err)
		return errors.NewStorageError("failed to persist filter rules", err)
	}
	return nil
}

// ClearAllRules empties the in-memory rules and the rule store. The rules are
// cleared in memory even when an error is returned.
func (e *Engine) ClearAllRules() error {
	e.updateMu.Lock()
	defer e.updateMu.Unlock()

	e.mu.Lock()
	e.rules = emptyRuleSet()
	e.lastUpdate = time.Now()
	e.mu.Unlock()

	log.Infof("Filter rules cleared")

	if e.source == nil {
		return nil
	}
	if err := e.source.Clear(); err != nil {
		log.Warnf("Failed to clear persisted filter rules: %v", err)
		return errors.NewStorageError("failed to clear persisted filter rules", err)
	}
	return nil
}

// ShouldBlock reports whether domain is blocked.
func (e *Engine) ShouldBlock(domain string) bool {
	return e.EvaluateDomain(domain).Blocked
}

// EvaluateDomain matches domain against the active rules. Allowed domains are
// checked first and win over any block rule.
func (e *Engine) EvaluateDomain(domain string) Decision {
	decision := Decision{InputDomain: domain}
	normalized := Normalize(domain)
	decision.NormalizedDomain = normalized
	if normalized == "" {
		return decision
	}

	suffixes := utils.DomainSuffixes(normalized)

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	if rule, ok := matchSuffix(suffixes, rules.allowDomains); ok {
		decision.Allowlisted = true
		decision.MatchedRule = rule
		return decision
	}
	if rule, ok := matchSuffix(suffixes, rules.blockDomains); ok {
		decision.Blocked = true
		decision.MatchedRule = rule
	}
	return decision
}

// matchSuffix returns the most specific rule in set matching one of suffixes.
func matchSuffix(suffixes []string, set map[string]struct{}) (string, bool) {
	for _, s := range suffixes {
		if _, ok := set[s]; ok {
			return s, true
		}
	}
	return "", false
}

// BlockedDomainCount returns the number of blocked domains, including category seeds.
func (e *Engine) BlockedDomainCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules.blockDomains)
}

// BlockedCategoryCount returns the number of enabled categories.
func (e *Engine) BlockedCategoryCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules.categories)
}

// AllowedDomainCount returns the number of session allowed domains.
func (e *Engine) AllowedDomainCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules.allowDomains)
}

// LastUpdate returns when the rules were last replaced or cleared. It is zero
// until the first update in this process.
func (e *Engine) LastUpdate() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastUpdate
}

// Snapshot returns sorted copies of the active rules.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	return Snapshot{
		Categories:     sortedKeys(rules.categories),
		BlockDomains:   sortedKeys(rules.blockDomains),
		AllowedDomains: sortedKeys(rules.allowDomains),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
