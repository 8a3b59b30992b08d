// matchd wires configuration, logging and an exchange engine together and
// runs a short demonstration session through the public engine API. Any real
// order flow (file ingestion, benchmarks, dashboards) comes from external
// collaborators driving the same API.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finvex/matchcore/internal/book"
	"github.com/finvex/matchcore/internal/config"
	"github.com/finvex/matchcore/internal/engine"
	"github.com/finvex/matchcore/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ex := engine.NewExchangeEngine(cfg.Exchange(), log)
	ex.SetReferencePrice(decimal.NewFromInt(18000))

	// Pre-open auction.
	submit(log, ex, book.NewLimitOrder(book.SideBuy, decimal.NewFromInt(18010), decimal.NewFromInt(100)))
	submit(log, ex, book.NewLimitOrder(book.SideSell, decimal.NewFromInt(17990), decimal.NewFromInt(80)))
	auctionTrades := ex.ExecuteCallAuction()
	log.Info("auction complete", zap.Int("trades", len(auctionTrades)))

	// Continuous session.
	submit(log, ex, book.NewLimitOrder(book.SideBuy, decimal.NewFromInt(18000), decimal.NewFromInt(50)))
	submit(log, ex, book.NewLimitOrder(book.SideSell, decimal.NewFromInt(18000), decimal.NewFromInt(50)))
	submit(log, ex, book.NewIcebergOrder(book.SideSell, decimal.NewFromInt(18005), decimal.NewFromInt(500), decimal.NewFromInt(50)))
	submit(log, ex, book.NewMarketOrder(book.SideBuy, decimal.NewFromInt(120)))

	stats := ex.Statistics()
	log.Info("session statistics",
		zap.Int64("total_orders", stats.TotalOrders),
		zap.Int64("total_trades", stats.TotalTrades),
		zap.Int64("circuit_breaker_hits", stats.CircuitBreakerHits),
		zap.String("opening_price", stats.OpeningPrice.String()),
		zap.String("last_trade_price", stats.LastTradePrice.String()),
		zap.String("phase", string(stats.Phase)))

	// A short adaptive session on a fresh book.
	ad := engine.NewAdaptiveEngine(cfg.Adaptive(), log)
	for i := 0; i < 20; i++ {
		price := decimal.NewFromInt(18000 + int64(i%3)*5)
		side := book.SideBuy
		if i%2 == 1 {
			side = book.SideSell
		}
		if _, err := ad.Process(book.NewLimitOrder(side, price, decimal.NewFromInt(10))); err != nil {
			log.Warn("adaptive order rejected", zap.Error(err))
		}
	}
	adStats := ad.Statistics()
	log.Info("adaptive session statistics",
		zap.Int64("total_orders", adStats.TotalOrders),
		zap.Int64("total_trades", adStats.TotalTrades),
		zap.Int64("regime_changes", adStats.RegimeChanges),
		zap.String("final_regime", string(adStats.FinalRegime)))
}

func submit(log *zap.Logger, ex *engine.ExchangeEngine, o *book.Order) {
	trades, err := ex.Process(o)
	if err != nil {
		log.Warn("order rejected", zap.String("order_id", o.ID.String()), zap.Error(err))
		return
	}
	log.Info("order processed",
		zap.String("order_id", o.ID.String()),
		zap.String("side", o.Side),
		zap.String("type", o.Type),
		zap.Int("trades", len(trades)))
}
