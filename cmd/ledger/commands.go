package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-ledger/internal/authz"
	"github.com/dvloznov/finance-ledger/internal/categorize"
	"github.com/dvloznov/finance-ledger/internal/commit"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/infra/bigquery"
	"github.com/dvloznov/finance-ledger/internal/staging"
	"github.com/dvloznov/finance-ledger/internal/statements"
	"github.com/dvloznov/finance-ledger/internal/store"
)

func runInitTenant(e *env, args []string) error {
	fs := flag.NewFlagSet("init-tenant", flag.ExitOnError)
	name := fs.String("name", "", "Tenant name (required)")
	description := fs.String("description", "", "Tenant description")
	owner := fs.String("owner", "", "User ID of the owner (required)")
	fs.Parse(args)

	if *name == "" || *owner == "" {
		return domain.Validationf("usage: ledger init-tenant -name NAME -owner USER")
	}

	tenant := &domain.Tenant{
		Key:         uuid.NewString(),
		Name:        *name,
		Description: *description,
		CreatedAt:   time.Now().UTC(),
	}
	err := e.store.RunInTx(e.ctx, func(tx store.Store) error {
		if err := tx.CreateTenant(e.ctx, tenant); err != nil {
			return err
		}
		return tx.AssignRole(e.ctx, domain.RoleAssignment{UserID: *owner, TenantID: tenant.ID, Role: domain.RoleOwner})
	})
	if err != nil {
		return err
	}

	e.log.Info().Int64("tenant_id", tenant.ID).Str("owner", *owner).Msg("Created tenant")
	fmt.Printf("Created tenant %d (%s) owned by %s\n", tenant.ID, tenant.Name, *owner)
	return nil
}

func runGrant(e *env, args []string) error {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	cf := newCallerFlags(fs)
	grantee := fs.String("grantee", "", "User ID receiving the role (required)")
	role := fs.String("role", "", "owner | editor | viewer (required)")
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	if *grantee == "" {
		return domain.Validationf("-grantee is required")
	}
	if err := e.service.AssignRole(e.ctx, c, *grantee, domain.Role(*role)); err != nil {
		return err
	}
	fmt.Printf("Granted %s to %s in tenant %d\n", *role, *grantee, c.TenantID)
	return nil
}

func runStage(e *env, args []string) error {
	fs := flag.NewFlagSet("stage", flag.ExitOnError)
	cf := newCallerFlags(fs)
	source := fs.String("file", "", "Local path or gs:// URI of a parsed-entries JSON file (required)")
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	if *source == "" {
		return domain.Validationf("-file is required")
	}

	staged, err := e.service.Import(e.ctx, c, *source, statements.NewLoader())
	if err != nil {
		return err
	}

	fmt.Printf("Staged %d entries from %s\n", len(staged), *source)
	printStaged(staged)
	return nil
}

func runList(e *env, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cf := newCallerFlags(fs)
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	staged, err := e.service.ListStaged(e.ctx, c)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Staged entries (%d) ===\n", len(staged))
	printStaged(staged)
	return nil
}

func printStaged(entries []*domain.StagedEntry) {
	for _, s := range entries {
		mark := " "
		if s.IsSelected {
			mark = "x"
		}
		fmt.Printf("[%s] %s  %s  %-30s %12s", mark, s.Key, s.Date.Format(domain.DateLayout), s.Payee, s.Amount.StringFixed(2))
		if s.SuggestedCategory != "" {
			fmt.Printf("  -> %s", s.SuggestedCategory)
		}
		if s.Duplicate.IsDuplicate() {
			fmt.Printf("  (%s duplicate of %s)", s.Duplicate.Kind, s.Duplicate.TransactionKey)
		}
		fmt.Println()
	}
}

func runToggle(e *env, args []string) error {
	fs := flag.NewFlagSet("toggle", flag.ExitOnError)
	cf := newCallerFlags(fs)
	key := fs.String("key", "", "Staged entry key (required)")
	selected := fs.Bool("selected", true, "Whether the entry is selected for commit")
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	if err := e.service.ToggleSelection(e.ctx, c, *key, *selected); err != nil {
		return err
	}
	fmt.Printf("Entry %s selected=%t\n", *key, *selected)
	return nil
}

func runCategorize(e *env, args []string) error {
	fs := flag.NewFlagSet("categorize", flag.ExitOnError)
	cf := newCallerFlags(fs)
	key := fs.String("key", "", "Staged entry key (required)")
	category := fs.String("category", "", "Category; empty clears the suggestion")
	remember := fs.Bool("remember", false, "Learn a rule for this payee")
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	entry, err := e.service.Recategorize(e.ctx, c, *key, staging.RecategorizeInput{Category: *category, Remember: *remember})
	if err != nil {
		return err
	}
	fmt.Printf("Entry %s category=%q\n", entry.Key, entry.SuggestedCategory)
	return nil
}

func runCommit(e *env, args []string) error {
	fs := flag.NewFlagSet("commit", flag.ExitOnError)
	cf := newCallerFlags(fs)
	var keys keyList
	fs.Var(&keys, "keys", "Comma-separated staged entry keys")
	all := fs.Bool("all", false, "Commit every selected staged entry")
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	if *all {
		staged, err := e.service.ListStaged(e.ctx, c)
		if err != nil {
			return err
		}
		for _, s := range staged {
			if s.IsSelected {
				keys = append(keys, s.Key)
			}
		}
	}
	if len(keys) == 0 {
		return domain.Validationf("nothing to commit: pass -keys or -all")
	}

	results, err := e.service.CommitSelected(e.ctx, c, keys)
	printResults(results)
	return err
}

func runDiscard(e *env, args []string) error {
	fs := flag.NewFlagSet("discard", flag.ExitOnError)
	cf := newCallerFlags(fs)
	var keys keyList
	fs.Var(&keys, "keys", "Comma-separated staged entry keys (required)")
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	results, err := e.service.DiscardBatch(e.ctx, c, keys)
	printResults(results)
	return err
}

func runRuleAdd(e *env, args []string) error {
	fs := flag.NewFlagSet("rule-add", flag.ExitOnError)
	cf := newCallerFlags(fs)
	pattern := fs.String("pattern", "", "Payee pattern (required)")
	isRegex := fs.Bool("regex", false, "Treat the pattern as a case-insensitive regular expression")
	category := fs.String("category", "", "Category to assign (required)")
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	rule, err := e.service.CreateRule(e.ctx, c, categorize.RuleInput{Pattern: *pattern, IsRegex: *isRegex, Category: *category})
	if err != nil {
		return err
	}
	fmt.Printf("Created rule %s\n", rule.Key)
	return nil
}

func runRuleEdit(e *env, args []string) error {
	fs := flag.NewFlagSet("rule-edit", flag.ExitOnError)
	cf := newCallerFlags(fs)
	key := fs.String("key", "", "Rule key (required)")
	pattern := fs.String("pattern", "", "Payee pattern (required)")
	isRegex := fs.Bool("regex", false, "Treat the pattern as a case-insensitive regular expression")
	category := fs.String("category", "", "Category to assign (required)")
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	rule, err := e.service.UpdateRule(e.ctx, c, *key, categorize.RuleInput{Pattern: *pattern, IsRegex: *isRegex, Category: *category})
	if err != nil {
		return err
	}
	fmt.Printf("Updated rule %s\n", rule.Key)
	return nil
}

func runRuleList(e *env, args []string) error {
	fs := flag.NewFlagSet("rule-list", flag.ExitOnError)
	cf := newCallerFlags(fs)
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	rules, err := e.service.ListRules(e.ctx, c)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Rules (%d) ===\n", len(rules))
	for i, r := range rules {
		kind := "literal"
		if r.IsRegex {
			kind = "regex"
		}
		lastUsed := "never"
		if r.LastUsedAt != nil {
			lastUsed = r.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Printf("%d. %s  %-7s %-30q -> %s  (matches: %d, last used: %s)\n",
			i+1, r.Key, kind, r.Pattern, r.Category, r.MatchCount, lastUsed)
	}
	return nil
}

func runRuleDelete(e *env, args []string) error {
	fs := flag.NewFlagSet("rule-delete", flag.ExitOnError)
	cf := newCallerFlags(fs)
	key := fs.String("key", "", "Rule key (required)")
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	if err := e.service.DeleteRule(e.ctx, c, *key); err != nil {
		return err
	}
	fmt.Printf("Deleted rule %s\n", *key)
	return nil
}

func dateRangeFlags(fs *flag.FlagSet) (from, to *string) {
	now := time.Now().UTC()
	from = fs.String("from", now.AddDate(0, -1, 0).Format(domain.DateLayout), "Start date (YYYY-MM-DD)")
	to = fs.String("to", now.Format(domain.DateLayout), "End date (YYYY-MM-DD)")
	return from, to
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := parseDay("from", from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseDay("to", to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func runTransactions(e *env, args []string) error {
	fs := flag.NewFlagSet("transactions", flag.ExitOnError)
	cf := newCallerFlags(fs)
	from, to := dateRangeFlags(fs)
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	start, end, err := parseRange(*from, *to)
	if err != nil {
		return err
	}
	txs, err := e.service.ListTransactions(e.ctx, c, start, end)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Transactions (%d) ===\n", len(txs))
	for i, tx := range txs {
		fmt.Printf("\n%d. %s  %s\n", i+1, tx.Payee, tx.Key)
		fmt.Printf("   Date:     %s\n", tx.Date.Format(domain.DateLayout))
		fmt.Printf("   Amount:   %s\n", tx.Amount.StringFixed(2))
		for _, sp := range tx.Splits {
			fmt.Printf("   Split:    %-20s %12s\n", sp.Category, sp.Amount.StringFixed(2))
		}
	}
	fmt.Println()
	return nil
}

// splitList collects repeated -split CATEGORY=AMOUNT flags.
type splitList []commit.SplitInput

func (s *splitList) String() string { return fmt.Sprintf("%d splits", len(*s)) }

func (s *splitList) Set(v string) error {
	category, amount, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("split %q must be CATEGORY=AMOUNT", v)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return fmt.Errorf("split %q: %w", v, err)
	}
	*s = append(*s, commit.SplitInput{Category: strings.TrimSpace(category), Amount: d})
	return nil
}

func runSplit(e *env, args []string) error {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	cf := newCallerFlags(fs)
	txKey := fs.String("tx", "", "Transaction key (required)")
	var splits splitList
	fs.Var(&splits, "split", "CATEGORY=AMOUNT, repeatable; none clears the splits")
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	tx, err := e.service.ReplaceSplits(e.ctx, c, *txKey, splits)
	if err != nil {
		return err
	}
	fmt.Printf("Transaction %s now has %d split(s)\n", tx.Key, len(tx.Splits))
	return nil
}

func runExport(e *env, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cf := newCallerFlags(fs)
	from, to := dateRangeFlags(fs)
	projectID := fs.String("project", e.cfg.BQProject, "GCP project ID")
	datasetID := fs.String("dataset", e.cfg.BQDataset, "BigQuery dataset ID")
	fs.Parse(args)

	c, err := cf.resolve(e)
	if err != nil {
		return err
	}
	if err := c.Authorize(authz.ActionExportLedger); err != nil {
		return err
	}
	if *projectID == "" {
		return domain.Validationf("-project (or LEDGER_BQ_PROJECT) is required")
	}
	start, end, err := parseRange(*from, *to)
	if err != nil {
		return err
	}

	exporter, err := bigquery.NewExporter(e.ctx, *projectID, *datasetID)
	if err != nil {
		return err
	}
	defer exporter.Close()

	n, err := e.service.ExportLedger(e.ctx, c, start, end, exporter)
	if err != nil {
		return err
	}
	fmt.Printf("Exported %d transaction(s) to %s.%s\n", n, *projectID, *datasetID)
	return nil
}
