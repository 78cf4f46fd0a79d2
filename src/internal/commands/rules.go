package commands

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/config"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/rulestore"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/utils"
)

func CreateRulesCommand() *RulesCommand {
	rc := &RulesCommand{
		fs:  flag.NewFlagSet("rules", flag.ExitOnError),
		out: os.Stdout,
	}
	rc.fs.IntVar(&rc.SampleLimit, "sample", 10, "Number of sample categories and domains to print")
	return rc
}

// RulesCommand prints a summary of the persisted rules.
type RulesCommand struct {
	fs          *flag.FlagSet
	cfg         *config.Config
	out         io.Writer
	SampleLimit int
}

func (r *RulesCommand) Name() string {
	return r.fs.Name()
}

func (r *RulesCommand) Init(args []string, ctx *AppContext) error {
	if err := r.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	r.cfg = cfg
	return nil
}

func (r *RulesCommand) Run() error {
	path := r.cfg.GetAbsRuleStorePath()
	store, err := rulestore.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open rule store %s: %w", path, err)
	}
	defer utils.CloseOrWarn(store, "rule store")

	meta, err := store.LoadMetadata(r.SampleLimit)
	if err != nil {
		return fmt.Errorf("failed to read rule store: %w", err)
	}

	printMetadata(r.out, path, meta)
	return nil
}

func printMetadata(w io.Writer, path string, meta rulestore.Metadata) {
	fmt.Fprintf(w, "Rule store:   %s\n", path)
	fmt.Fprintf(w, "Categories:   %d\n", meta.CategoryCount)
	fmt.Fprintf(w, "Domains:      %d\n", meta.DomainCount)
	if meta.LastUpdatedAt.IsZero() {
		fmt.Fprintf(w, "Last update:  never\n")
	} else {
		fmt.Fprintf(w, "Last update:  %s\n", meta.LastUpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if len(meta.SampleCategories) > 0 {
		fmt.Fprintf(w, "Sample categories: %s\n", strings.Join(meta.SampleCategories, ", "))
	}
	if len(meta.SampleDomains) > 0 {
		fmt.Fprintf(w, "Sample domains:    %s\n", strings.Join(meta.SampleDomains, ", "))
	}
}
