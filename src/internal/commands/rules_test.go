package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/rulestore"
)

func TestPrintMetadata(t *testing.T) {
	var buf bytes.Buffer
	printMetadata(&buf, "/tmp/rules.db", rulestore.Metadata{
		CategoryCount:    1,
		DomainCount:      2,
		LastUpdatedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		SampleCategories: []string{"gambling"},
		SampleDomains:    []string{"a.example", "b.example"},
	})

	out := buf.String()
	for _, want := range []string{
		"Rule store:   /tmp/rules.db",
		"Categories:   1",
		"Domains:      2",
		"Last update:  2024-05-01 10:00:00 UTC",
		"Sample domains:    a.example, b.example",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("printMetadata() output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintMetadata_NeverUpdated(t *testing.T) {
	var buf bytes.Buffer
	printMetadata(&buf, "rules.db", rulestore.Metadata{})
	if !strings.Contains(buf.String(), "Last update:  never") {
		t.Errorf("printMetadata() = %q, want never updated", buf.String())
	}
	if strings.Contains(buf.String(), "Sample") {
		t.Errorf("printMetadata() printed samples for empty store: %q", buf.String())
	}
}

func TestRulesCommand_Run(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "rules.db")
	store, err := rulestore.Open(dbPath)
	if err != nil {
		t.Fatalf("rulestore.Open() error = %v", err)
	}
	if err := store.ReplaceRules([]string{"social"}, []string{"x.example"}); err != nil {
		t.Fatalf("ReplaceRules() error = %v", err)
	}
	store.Close()

	cfgPath := writeConfig(t, "[general]\nrule_store_path = \""+filepath.ToSlash(dbPath)+"\"\n")

	var buf bytes.Buffer
	cmd := CreateRulesCommand()
	cmd.out = &buf
	if err := cmd.Init(nil, &AppContext{ConfigPath: cfgPath}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := cmd.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(buf.String(), "Categories:   1") || !strings.Contains(buf.String(), "x.example") {
		t.Errorf("Run() output = %q", buf.String())
	}
}
