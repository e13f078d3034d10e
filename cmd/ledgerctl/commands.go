package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"equityjournal/internal/models"
	"equityjournal/internal/valuation"

	"github.com/google/subcommands"
)

var commands = []subcommands.Command{
	&reconcileCmd{},
	&balanceCmd{},
	&capitalCmd{},
	&fyCmd{},
	&snapshotCmd{},
}

type reconcileCmd struct {
	owner string
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "rebuild derived ledger entries from trades" }
func (*reconcileCmd) Usage() string {
	return `ledgerctl reconcile [-owner <id>]

  Reconciles one owner, or every owner when -owner is omitted.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "owner to reconcile (default: all)")
}

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	eng, _, done, err := openEngine(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer done()

	owners := []string{c.owner}
	if c.owner == "" {
		if owners, err = eng.ListOwners(ctx); err != nil {
			fail(err)
			return subcommands.ExitFailure
		}
	}
	status := subcommands.ExitSuccess
	for _, o := range owners {
		rep, err := eng.Reconcile(ctx, o)
		if err != nil {
			fail(fmt.Errorf("%s: %w", o, err))
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("%s: kept %d, removed %d, added %d\n", o, rep.Kept, rep.Removed, rep.Added)
	}
	return status
}

type balanceCmd struct {
	owner string
	date  string
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "print an owner's cash balance" }
func (*balanceCmd) Usage() string {
	return `ledgerctl balance -owner <id> [-d <date>]
`
}

func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "owner id")
	f.StringVar(&c.date, "d", "", "balance as of this date (YYYY-MM-DD)")
}

func (c *balanceCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.owner == "" {
		fail(fmt.Errorf("-owner is required"))
		return subcommands.ExitUsageError
	}
	var asOf time.Time
	if c.date != "" {
		d, err := models.ParseDay(c.date)
		if err != nil {
			fail(err)
			return subcommands.ExitUsageError
		}
		asOf = d
	}
	eng, cfg, done, err := openEngine(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer done()

	if asOf.IsZero() {
		bal, err := eng.Balance(ctx, c.owner)
		if err != nil {
			fail(err)
			return subcommands.ExitFailure
		}
		fmt.Printf("%s %s\n", bal.StringFixed(2), cfg.Ledger.Currency)
		return subcommands.ExitSuccess
	}
	bal, err := eng.BalanceAsOf(ctx, c.owner, asOf)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s %s as of %s\n", bal.StringFixed(2), cfg.Ledger.Currency, c.date)
	return subcommands.ExitSuccess
}

type capitalCmd struct {
	owner    string
	baseline string
}

func (*capitalCmd) Name() string     { return "capital" }
func (*capitalCmd) Synopsis() string { return "show or set an owner's deposit baseline" }
func (*capitalCmd) Usage() string {
	return `ledgerctl capital -owner <id> [-set <amount>]

  Prints deposit, deployed and available capital. With -set, stores a new
  deposit baseline first.
`
}

func (c *capitalCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "owner id")
	f.StringVar(&c.baseline, "set", "", "new deposit baseline")
}

func (c *capitalCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.owner == "" {
		fail(fmt.Errorf("-owner is required"))
		return subcommands.ExitUsageError
	}
	eng, cfg, done, err := openEngine(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer done()

	if c.baseline != "" {
		amount, err := parseAmount(c.baseline)
		if err != nil {
			fail(err)
			return subcommands.ExitUsageError
		}
		if err := eng.SetDepositBaseline(ctx, c.owner, amount); err != nil {
			fail(err)
			return subcommands.ExitFailure
		}
	}
	snap, err := eng.CapitalSnapshot(ctx, c.owner)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	printMarkdown(capitalMarkdown(c.owner, snap, cfg.Ledger.Currency))
	return subcommands.ExitSuccess
}

type fyCmd struct {
	owner string
	year  int
}

func (*fyCmd) Name() string     { return "fy" }
func (*fyCmd) Synopsis() string { return "realized P&L for a financial year" }
func (*fyCmd) Usage() string {
	return `ledgerctl fy -owner <id> [-y <start year>]

  Reports realized P&L per holding for April 1 of the given year through
  March 31 of the next. Defaults to the current financial year.
`
}

func (c *fyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "owner id")
	f.IntVar(&c.year, "y", 0, "financial year start year, e.g. 2024 for FY2024-25")
}

func (c *fyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.owner == "" {
		fail(fmt.Errorf("-owner is required"))
		return subcommands.ExitUsageError
	}
	fy := valuation.FinancialYearOf(time.Now().UTC())
	if c.year != 0 {
		fy = valuation.FinancialYearOf(time.Date(c.year, time.April, 1, 0, 0, 0, 0, time.UTC))
	}
	eng, cfg, done, err := openEngine(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer done()

	r, err := eng.FinancialYearRollup(ctx, c.owner, fy.Start, fy.End)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	printMarkdown(rollupMarkdown(c.owner, fy, r, cfg.Ledger.Currency))
	return subcommands.ExitSuccess
}

type snapshotCmd struct {
	owner string
	date  string
}

func (*snapshotCmd) Name() string     { return "snapshot" }
func (*snapshotCmd) Synopsis() string { return "holdings, valuation and cash for an owner" }
func (*snapshotCmd) Usage() string {
	return `ledgerctl snapshot -owner <id> [-d <date>]
`
}

func (c *snapshotCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "owner id")
	f.StringVar(&c.date, "d", "", "valuation date (YYYY-MM-DD, default today)")
}

func (c *snapshotCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.owner == "" {
		fail(fmt.Errorf("-owner is required"))
		return subcommands.ExitUsageError
	}
	date := models.Day(time.Now().UTC())
	if c.date != "" {
		d, err := models.ParseDay(c.date)
		if err != nil {
			fail(err)
			return subcommands.ExitUsageError
		}
		date = d
	}
	eng, cfg, done, err := openEngine(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer done()

	v, err := eng.ValueAsOf(ctx, c.owner, date)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	cash, err := eng.BalanceAsOf(ctx, c.owner, date)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	printMarkdown(snapshotMarkdown(c.owner, v, cash, cfg.Ledger.Currency))
	return subcommands.ExitSuccess
}
