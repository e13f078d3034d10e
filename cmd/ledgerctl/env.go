package main

import (
	"context"
	"fmt"
	"os"

	"equityjournal/internal/config"
	"equityjournal/internal/database"
	"equityjournal/internal/engine"

	"github.com/charmbracelet/glamour"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// openEngine builds an engine over the configured store. The returned func
// releases the store.
func openEngine(ctx context.Context) (*engine.Engine, *config.Config, func(), error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Server.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	initial, deposit, err := cfg.Ledger.Amounts()
	if err != nil {
		return nil, nil, nil, err
	}
	ecfg := engine.Config{InitialCredit: initial, DefaultDeposit: deposit}

	if cfg.Database.Store == config.StoreMemory {
		m := database.NewMemory()
		return engine.New(m, nil, ecfg, logger), cfg, func() { _ = m.Close() }, nil
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	repo := database.New(db, logger)
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, nil, nil, err
	}
	return engine.New(repo, nil, ecfg, logger), cfg, func() { _ = repo.Close() }, nil
}

func printMarkdown(md string) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(120))
	if err != nil {
		fmt.Print(md)
		return
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Print(md)
		return
	}
	fmt.Print(out)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
