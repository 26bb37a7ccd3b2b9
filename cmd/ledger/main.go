package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-ledger/internal/authz"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/dvloznov/finance-ledger/internal/pipeline"
	"github.com/dvloznov/finance-ledger/internal/store/sqlstore"
)

type command struct {
	name  string
	usage string
	run   func(env *env, args []string) error
}

var commands = []command{
	{"init-tenant", "Create a tenant and make a user its owner", runInitTenant},
	{"grant", "Give a user a role in a tenant (owner only)", runGrant},
	{"stage", "Stage parsed entries from a local file or gs:// URI", runStage},
	{"list", "List staged entries awaiting review", runList},
	{"toggle", "Select or deselect a staged entry", runToggle},
	{"categorize", "Set the category of a staged entry", runCategorize},
	{"commit", "Commit selected staged entries to the ledger", runCommit},
	{"discard", "Discard staged entries", runDiscard},
	{"rule-add", "Add a payee matching rule", runRuleAdd},
	{"rule-edit", "Change a payee matching rule", runRuleEdit},
	{"rule-list", "List payee matching rules in evaluation order", runRuleList},
	{"rule-delete", "Delete a payee matching rule", runRuleDelete},
	{"transactions", "List ledger transactions in a date range", runTransactions},
	{"split", "Replace the splits of a ledger transaction", runSplit},
	{"export", "Export ledger transactions to BigQuery", runExport},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewFromConfig(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	st, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to open database")
	}
	defer st.Close()

	e := &env{
		ctx:     ctx,
		log:     log,
		cfg:     cfg,
		store:   st,
		service: pipeline.New(st),
	}
	if err := cmd.run(e, os.Args[2:]); err != nil {
		log.Fatal().Err(err).Str("command", name).Str("error_kind", string(domain.KindOf(err))).Msg("Command failed")
	}
}

func printUsage() {
	fmt.Println("Finance Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  ledger <command> [options]")
	fmt.Println("\nCommands:")
	for _, c := range commands {
		fmt.Printf("  %-13s %s\n", c.name, c.usage)
	}
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'ledger <command> -h' for more information on a command.")
}

// env carries what every command needs.
type env struct {
	ctx     context.Context
	log     zerolog.Logger
	cfg     config.Config
	store   *sqlstore.Store
	service *pipeline.Service
}

// callerFlags registers the -user and -tenant flags shared by guarded
// commands.
type callerFlags struct {
	user   *string
	tenant *int64
}

func newCallerFlags(fs *flag.FlagSet) callerFlags {
	return callerFlags{
		user:   fs.String("user", os.Getenv("USER"), "Acting user ID"),
		tenant: fs.Int64("tenant", 0, "Tenant ID (required)"),
	}
}

func (f callerFlags) resolve(e *env) (authz.Caller, error) {
	if *f.tenant == 0 {
		return authz.Caller{}, domain.Validationf("-tenant is required")
	}
	if strings.TrimSpace(*f.user) == "" {
		return authz.Caller{}, domain.Validationf("-user is required")
	}
	return e.service.ResolveCaller(e.ctx, *f.user, *f.tenant)
}

// keyList is a comma-separated list flag.
type keyList []string

func (k *keyList) String() string { return strings.Join(*k, ",") }

func (k *keyList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*k = append(*k, part)
		}
	}
	return nil
}

func parseDay(name, v string) (time.Time, error) {
	d, err := time.Parse(domain.DateLayout, v)
	if err != nil {
		return time.Time{}, domain.Validationf("-%s must be YYYY-MM-DD: %v", name, err)
	}
	return d, nil
}

func printResults(results []domain.EntryResult) {
	for _, r := range results {
		switch r.Status {
		case domain.ResultCommitted:
			fmt.Printf("  [OK]   %s -> %s\n", r.EntryKey, r.TransactionKey)
		case domain.ResultDiscarded:
			fmt.Printf("  [OK]   %s discarded\n", r.EntryKey)
		default:
			fmt.Printf("  [FAIL] %s (%s): %v\n", r.EntryKey, r.Kind(), r.Err)
		}
	}
}
