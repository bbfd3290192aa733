// cmd/backtest replays historical candles through the divergence pipeline
// and reports what it would have signalled: accuracy per confirmation
// bucket, an all-in trade simulation, and a JSON bundle for charting.
//
// History comes from the Alpaca REST API, or from the local SQLite
// archive with --source=sqlite (no credentials needed).
//
// Usage:
//
//	go run ./cmd/backtest --symbols=SMCI --timeframe=10m --daterange=260102:260301
//	go run ./cmd/backtest --source=sqlite --db=data/divmon.db --out=bundle.json
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"divergence-monitor/config"
	"divergence-monitor/internal/backtest"
	"divergence-monitor/internal/logger"
	"divergence-monitor/internal/marketdata/backfill"
	"divergence-monitor/internal/model"
	sqlitestore "divergence-monitor/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	symbolsFlag := flag.String("symbols", "", "Comma-separated symbols (default: SYMBOLS env, SMCI)")
	tfFlag := flag.String("timeframe", "10m", "Working timeframe, e.g. 10m, 5m, 600")
	source := flag.String("source", "alpaca", "History source: alpaca or sqlite")
	dbPath := flag.String("db", "", "SQLite path for --source=sqlite (default: SQLITE_PATH)")
	daterange := flag.String("daterange", "", "Range as YYMMDD:YYMMDD (default: last 30 days)")
	out := flag.String("out", "", "Write the chart bundle JSON to this path")
	rsiOnly := flag.Bool("compare-rsi-only", true, "Also run with confirmations disabled for comparison")
	flag.Parse()

	cfg := config.Load()
	logger.Init("backtest", logger.ParseLevel(cfg.LogLevel))

	if *symbolsFlag != "" {
		cfg.Symbols = *symbolsFlag
	}
	symbols := cfg.ParseSymbols()
	tf, err := config.ParseTF(*tfFlag)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	start, end, err := parseRange(*daterange)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	var src model.HistorySource
	switch strings.ToLower(*source) {
	case "sqlite":
		path := *dbPath
		if path == "" {
			path = cfg.SQLitePath
		}
		reader, err := sqlitestore.NewReader(path)
		if err != nil {
			log.Fatalf("[backtest] sqlite open failed: %v", err)
		}
		defer reader.Close()
		src = sqlitestore.NewHistory(reader)
	case "alpaca":
		if err := cfg.RequireAlpaca(); err != nil {
			log.Fatalf("[backtest] %v (or use --source=sqlite)", err)
		}
		src = backfill.New(backfill.Config{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaSecretKey,
			BaseURL:   cfg.AlpacaDataURL,
			Feed:      cfg.AlpacaFeed,
		})
	default:
		log.Fatalf("[backtest] unknown source %q", *source)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rep, err := backtest.Run(ctx, backtest.Params{
		Symbols:        symbols,
		TF:             tf,
		Start:          start,
		End:            end,
		CompareRSIOnly: *rsiOnly,
	}, src)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	printSummary(rep, symbols, tf, start, end)

	if *out != "" {
		bundle := backtest.BuildBundle(rep.Result, &rep.Accuracy, rep.Sims)
		if err := bundle.WriteFile(*out); err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		log.Printf("[backtest] chart bundle written to %s", *out)
	}
}

// parseRange parses "YYMMDD:YYMMDD" into UTC day bounds, defaulting to
// the trailing 30 days.
func parseRange(s string) (time.Time, time.Time, error) {
	if s == "" {
		end := time.Now().UTC()
		return end.AddDate(0, 0, -30), end, nil
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("date range must be YYMMDD:YYMMDD, got %q", s)
	}
	start, err := time.Parse("060102", parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad start date %q: %w", parts[0], err)
	}
	end, err := time.Parse("060102", parts[1])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad end date %q: %w", parts[1], err)
	}
	end = end.AddDate(0, 0, 1) // inclusive end day
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s not before end %s", parts[0], parts[1])
	}
	return start, end, nil
}

func printSummary(rep *backtest.Report, symbols []string, tf int, start, end time.Time) {
	for _, sig := range rep.Result.Signals {
		fmt.Printf("  %s  %s %s %-7s %v  close=%.2f rsi=%.1f\n",
			sig.OpenTime.Format("2006-01-02 15:04"), sig.Symbol,
			sig.Direction, sig.Strength, sig.Confirmations, sig.Price, sig.RSI)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║              BACKTEST COMPLETE               ║")
	fmt.Println("╠══════════════════════════════════════════════╣")
	fmt.Printf("║  Symbols:    %-31v ║\n", symbols)
	fmt.Printf("║  Timeframe:  %-31s ║\n", model.FormatTF(tf))
	fmt.Printf("║  Range:      %s → %s       ║\n", start.Format("2006-01-02"), end.Format("2006-01-02"))
	fmt.Printf("║  Signals:    %-31d ║\n", len(rep.Result.Signals))
	if rep.RSIOnly != nil {
		fmt.Printf("║  RSI-only:   %-31d ║\n", len(rep.RSIOnly.Signals))
	}
	fmt.Println("╚══════════════════════════════════════════════╝")

	for _, b := range rep.Accuracy.Buckets {
		fmt.Printf("  %s (%d signals)\n", b.Bucket, b.Signals)
		for _, h := range b.Horizons {
			fmt.Printf("    +%d candles: %d samples, hit %.0f%%, mean %+.3f%%, median %+.3f%%\n",
				h.Horizon, h.Samples, h.HitRate*100, h.MeanReturn*100, h.MedianReturn*100)
		}
	}
	for sym, sim := range rep.Sims {
		fmt.Printf("  sim %s: %d trades, %.2f → %.2f (%+.2f%%)\n",
			sym, len(sim.Trades), sim.StartCash, sim.FinalEquity, sim.ReturnPct)
	}
}
