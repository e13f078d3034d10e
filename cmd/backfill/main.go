package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"equityjournal/internal/config"
	"equityjournal/internal/database"
	"equityjournal/internal/engine"
	"equityjournal/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// closeFile is the optional -closes input:
//
//	closes:
//	  - owner: demo-user
//	    symbol: RELIANCE
//	    date: "2025-01-20"
//	    close: "2500.50"
type closeFile struct {
	Closes []struct {
		Owner  string `yaml:"owner"`
		Symbol string `yaml:"symbol"`
		Date   string `yaml:"date"`
		Close  string `yaml:"close"`
	} `yaml:"closes"`
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	owner := flag.String("owner", "", "reconcile only this owner")
	closesPath := flag.String("closes", "", "YAML file of dated closes to record before reconciling")
	flag.Parse()

	logger := logrus.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if cfg.Database.Store != config.StorePostgres {
		logger.Fatal("backfill needs the postgres store")
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		logger.Fatalf("failed to connect to db: %v", err)
	}
	repo := database.New(db, logger)
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatalf("migrate failed: %v", err)
	}

	initial, deposit, err := cfg.Ledger.Amounts()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	eng := engine.New(repo, nil, engine.Config{InitialCredit: initial, DefaultDeposit: deposit}, logger)

	if *closesPath != "" {
		n, err := recordCloses(ctx, eng, *closesPath)
		if err != nil {
			logger.Fatalf("record closes: %v", err)
		}
		fmt.Printf("Recorded %d closes from %s\n", n, *closesPath)
	}

	owners := []string{*owner}
	if *owner == "" {
		if owners, err = eng.ListOwners(ctx); err != nil {
			logger.Fatalf("list owners: %v", err)
		}
	}

	failed := 0
	for _, o := range owners {
		rep, err := eng.Reconcile(ctx, o)
		if err != nil {
			logger.Errorf("reconcile %s: %v", o, err)
			failed++
			continue
		}
		bal, err := eng.Balance(ctx, o)
		if err != nil {
			logger.Errorf("balance %s: %v", o, err)
			failed++
			continue
		}
		fmt.Printf("%-20s kept=%d removed=%d added=%d balance=%s\n", o, rep.Kept, rep.Removed, rep.Added, bal.StringFixed(2))
	}
	if failed > 0 {
		fmt.Printf("%d of %d owners failed\n", failed, len(owners))
		os.Exit(1)
	}
	fmt.Printf("Reconciled %d owners\n", len(owners))
}

func recordCloses(ctx context.Context, eng *engine.Engine, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var f closeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return 0, err
	}

	ids := map[string]map[string]int64{}
	n := 0
	for _, c := range f.Closes {
		bySymbol, ok := ids[c.Owner]
		if !ok {
			holdings, err := eng.ListHoldings(ctx, c.Owner)
			if err != nil {
				return n, err
			}
			bySymbol = map[string]int64{}
			for _, h := range holdings {
				bySymbol[h.Symbol] = h.ID
			}
			ids[c.Owner] = bySymbol
		}
		id, ok := bySymbol[strings.ToUpper(c.Symbol)]
		if !ok {
			fmt.Printf("Warning: %s has no holding %s, skipping\n", c.Owner, c.Symbol)
			continue
		}
		date, err := models.ParseDay(c.Date)
		if err != nil {
			return n, fmt.Errorf("%s %s: %w", c.Owner, c.Symbol, err)
		}
		price, err := decimal.NewFromString(c.Close)
		if err != nil {
			return n, fmt.Errorf("%s %s: %w", c.Owner, c.Symbol, err)
		}
		if err := eng.RecordClosePrice(ctx, id, date, price); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
