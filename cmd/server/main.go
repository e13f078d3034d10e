package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"equityjournal/internal/config"
	"equityjournal/internal/database"
	"equityjournal/internal/engine"
	"equityjournal/internal/handlers"
	"equityjournal/internal/monitoring"
	"equityjournal/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	logger := logrus.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if cfg.Server.Debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	quotes := openQuotes(ctx, cfg, logger)

	initial, deposit, err := cfg.Ledger.Amounts()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	eng := engine.New(store, quotes, engine.Config{InitialCredit: initial, DefaultDeposit: deposit}, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics("equityjournal", reg)

	refresher := service.NewQuoteRefresher(eng, quotes, logger).WithMetrics(metrics)
	if n, err := refresher.RefreshOnce(ctx); err != nil {
		logger.Warnf("initial quote refresh failed: %v", err)
	} else {
		logger.Infof("cached %d quotes", n)
	}
	refresher.Start(ctx, cfg.Prices.UpdateInterval)

	h := handlers.NewHandler(eng, metrics, cfg.Ledger.Currency, logger)

	rg := gin.New()
	rg.Use(gin.Logger(), gin.Recovery(), handlers.RequestID(), metrics.Middleware())
	rg.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	rg.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	h.Register(rg)

	logger.Infof("server starting on :%d (store=%s)", cfg.Server.Port, cfg.Database.Store)
	if err := rg.Run(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (database.Store, func()) {
	if cfg.Database.Store == config.StoreMemory {
		logger.Warn("using the in-memory store; data is lost on exit")
		m := database.NewMemory()
		return m, func() { _ = m.Close() }
	}
	db, err := initDB(cfg.Database)
	if err != nil {
		logger.Fatalf("db connect failed: %v", err)
	}
	repo := database.New(db, logger)
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatalf("migrate failed: %v", err)
	}
	return repo, func() { _ = repo.Close() }
}

func openQuotes(ctx context.Context, cfg *config.Config, logger *logrus.Logger) service.QuoteStore {
	if cfg.Redis.Addr == "" {
		return service.NewMemoryQuotes()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warnf("redis unavailable at %s, caching quotes in memory: %v", cfg.Redis.Addr, err)
		_ = client.Close()
		return service.NewMemoryQuotes()
	}
	return service.NewRedisQuotes(client, cfg.Redis.QuoteTTL)
}

func initDB(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	return db, nil
}
