// cmd/monitor runs the live divergence monitor: stream bars from Alpaca
// (or a local feed simulator), aggregate to the working timeframe, detect
// RSI divergences with MACD/KDJ confirmation, and alert on new signals.
//
// Usage:
//
//	go run ./cmd/monitor --symbols=SMCI --timeframe=10m
//	go run ./cmd/monitor --mode=sim            # against cmd/feedsim
//	go run ./cmd/monitor --interactive
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"divergence-monitor/config"
	"divergence-monitor/internal/backtest"
	"divergence-monitor/internal/logger"
	"divergence-monitor/internal/marketdata/backfill"
	"divergence-monitor/internal/marketdata/stream"
	"divergence-monitor/internal/markethours"
	"divergence-monitor/internal/metrics"
	"divergence-monitor/internal/model"
	"divergence-monitor/internal/monitor"
	"divergence-monitor/internal/notification"
	redisstore "divergence-monitor/internal/store/redis"
	sqlitestore "divergence-monitor/internal/store/sqlite"
)

// snapStore combines the sqlite writer (save) and reader (load) into one
// model.SnapshotStore.
type snapStore struct {
	w *sqlitestore.Writer
	r *sqlitestore.Reader
}

func (s snapStore) SaveSnapshotJSON(data []byte) error      { return s.w.SaveSnapshotJSON(data) }
func (s snapStore) ReadLatestSnapshotJSON() ([]byte, error) { return s.r.ReadLatestSnapshotJSON() }

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[monitor] starting...")

	symbolsFlag := flag.String("symbols", "", "Comma-separated symbols (default: SYMBOLS env, SMCI)")
	tfFlag := flag.String("timeframe", "10m", "Working timeframe, e.g. 10m, 5m, 600")
	mode := flag.String("mode", "live", "Feed mode: live (Alpaca) or sim (local feedsim)")
	interactive := flag.Bool("interactive", false, "Show a numbered menu instead of starting directly")
	flag.Parse()

	cfg := config.Load()
	logger.Init("monitor", logger.ParseLevel(cfg.LogLevel))

	symbols := cfg.ParseSymbols()
	if *symbolsFlag != "" {
		cfg.Symbols = *symbolsFlag
		symbols = cfg.ParseSymbols()
	}
	tf, err := config.ParseTF(*tfFlag)
	if err != nil {
		log.Fatalf("[monitor] %v", err)
	}
	if len(symbols) == 0 {
		log.Fatal("[monitor] no symbols configured")
	}

	sim := strings.EqualFold(*mode, "sim")
	if !sim {
		if err := cfg.RequireAlpaca(); err != nil {
			log.Fatalf("[monitor] %v (use --mode=sim to run without credentials)", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[monitor] shutdown signal received")
		cancel()
	}()

	if *interactive {
		runMenu(ctx, cfg, symbols, tf, sim)
		return
	}
	runLive(ctx, cfg, symbols, tf, sim)
}

// runMenu is the interactive entry: pick live monitoring or a quick
// backtest without remembering flag spellings.
func runMenu(ctx context.Context, cfg *config.Config, symbols []string, tf int, sim bool) {
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Println()
		fmt.Printf("divergence monitor — %v on %s\n", symbols, model.FormatTF(tf))
		fmt.Println("  1) start live monitoring")
		fmt.Println("  2) run a backtest")
		fmt.Println("  3) exit")
		fmt.Print("> ")

		if !sc.Scan() || ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(sc.Text()) {
		case "1":
			runLive(ctx, cfg, symbols, tf, sim)
			return
		case "2":
			fmt.Print("days of history [30]: ")
			days := 30
			if sc.Scan() {
				if n, err := strconv.Atoi(strings.TrimSpace(sc.Text())); err == nil && n > 0 {
					days = n
				}
			}
			runQuickBacktest(ctx, cfg, symbols, tf, days)
		case "3", "q", "exit":
			return
		default:
			fmt.Println("pick 1, 2 or 3")
		}
	}
}

// runQuickBacktest runs the reporting pipeline over recent history and
// prints the summary. Full control lives in cmd/backtest.
func runQuickBacktest(ctx context.Context, cfg *config.Config, symbols []string, tf, days int) {
	if err := cfg.RequireAlpaca(); err != nil {
		log.Printf("[monitor] backtest needs market data access: %v", err)
		return
	}
	src := backfill.New(backfill.Config{
		APIKey:    cfg.AlpacaAPIKey,
		APISecret: cfg.AlpacaSecretKey,
		BaseURL:   cfg.AlpacaDataURL,
		Feed:      cfg.AlpacaFeed,
	})

	end := time.Now().UTC()
	rep, err := backtest.Run(ctx, backtest.Params{
		Symbols: symbols,
		TF:      tf,
		Start:   end.AddDate(0, 0, -days),
		End:     end,
	}, src)
	if err != nil {
		log.Printf("[monitor] backtest failed: %v", err)
		return
	}
	printReport(rep)
}

func printReport(rep *backtest.Report) {
	fmt.Printf("signals: %d\n", len(rep.Result.Signals))
	for _, sig := range rep.Result.Signals {
		fmt.Printf("  %s  %s %s %-7s %v  close=%.2f\n",
			sig.OpenTime.Format("2006-01-02 15:04"), sig.Symbol,
			sig.Direction, sig.Strength, sig.Confirmations, sig.Price)
	}
	for _, b := range rep.Accuracy.Buckets {
		for _, h := range b.Horizons {
			fmt.Printf("  %-12s h=%d: %d samples, hit %.0f%%, mean %.3f%%\n",
				b.Bucket, h.Horizon, h.Samples, h.HitRate*100, h.MeanReturn*100)
		}
	}
}

func runLive(ctx context.Context, cfg *config.Config, symbols []string, tf int, sim bool) {
	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSymbols(symbols)

	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, health)
		metricsSrv.Start()
	}

	// ---- SQLite: candle archive, snapshots, signal ledger ----
	os.MkdirAll("data", 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[monitor] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()

	sqlReader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[monitor] sqlite reader failed: %v", err)
	}
	defer sqlReader.Close()

	ledger, err := sqlitestore.NewLedger(sqlitestore.LedgerConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[monitor] ledger init failed: %v", err)
	}
	defer ledger.Close()
	health.SetSQLiteOK(true)
	log.Println("[monitor] sqlite ready")

	// ---- Redis mirror (optional) ----
	var pub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		pub, err = redisstore.NewPublisher(redisstore.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[monitor] WARNING: redis init failed: %v (continuing without mirror)", err)
			health.SetRedisConnected(false)
		} else {
			go pub.Run(ctx)
			defer pub.Close()
			health.SetRedisConnected(true)
			log.Println("[monitor] redis mirror ready")
		}
	}

	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Alert channels ----
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.DiscordWebhookURL != "" {
		notifiers = append(notifiers, notification.NewDiscordNotifier(cfg.DiscordWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	alerts := notification.NewDispatcher(cfg.DryRun, notifiers...)
	if cfg.DryRun {
		log.Println("[monitor] DRY_RUN set — alerts are logged, not delivered")
	}

	// ---- History source: Alpaca REST live, SQLite archive in sim mode ----
	var history model.HistorySource
	if sim {
		history = sqlitestore.NewHistory(sqlReader)
	} else {
		history = backfill.New(backfill.Config{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaSecretKey,
			BaseURL:   cfg.AlpacaDataURL,
			Feed:      cfg.AlpacaFeed,
		})
	}

	// ---- Controller ----
	mcfg := monitor.DefaultConfig(symbols, tf)
	active := 0
	m, err := monitor.New(mcfg, monitor.Deps{
		Ledger:    ledger,
		Publisher: publisherOrNil(pub),
		Alerts:    alerts,
		History:   history,
		Store:     sqlWriter,
		Snapshots: snapStore{w: sqlWriter, r: sqlReader},
		OnSignal: func(sig model.Signal) {
			prom.SignalsTotal.WithLabelValues(string(sig.Direction), string(sig.Strength)).Inc()
		},
		Hooks: monitor.Hooks{
			OnClose: func(c model.Candle) {
				prom.CandlesTotal.Inc()
				health.SetLastBarTime(time.Now())
			},
			OnScanDuration: func(d time.Duration) { prom.ScanDur.Observe(d.Seconds()) },
			OnStateChange: func(sym string, isActive bool) {
				v := 0.0
				if isActive {
					v = 1
					active++
				}
				prom.SymbolState.WithLabelValues(sym).Set(v)
				health.SetActiveSymbols(active)
			},
			OnSuppressed: func(model.Signal) { prom.SignalsSuppressed.Inc() },
			OnDropped:    func(_ model.Signal, _ error) { prom.SignalsDropped.Inc() },
			OnQueueDrop:  func(name string) { prom.FanoutDropsTotal.WithLabelValues(name).Inc() },
		},
	})
	if err != nil {
		log.Fatalf("[monitor] controller init failed: %v", err)
	}

	// ---- Bar stream ----
	streamURL := cfg.AlpacaStreamURL
	if sim {
		streamURL = getEnv("SIM_WS_URL", "ws://localhost:9001/stream")
	}
	sclient, err := stream.New(stream.Config{
		URL:       streamURL,
		APIKey:    cfg.AlpacaAPIKey,
		APISecret: cfg.AlpacaSecretKey,
		Symbols:   symbols,
	})
	if err != nil {
		log.Fatalf("[monitor] stream init failed: %v", err)
	}
	sclient.OnResync = func() {
		prom.WSReconnects.Inc()
		m.Resync(ctx)
	}

	barCh := make(chan model.Candle, 5000)
	go func() {
		defer close(barCh)
		health.SetWSConnected(true)
		if err := sclient.Run(ctx, barCh); err != nil {
			log.Printf("[monitor] stream ended: %v", err)
		}
		health.SetWSConnected(false)
	}()

	// ---- Market session gauge ----
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		update := func() {
			open := markethours.IsMarketOpen(time.Now())
			health.SetMarketOpen(open)
			if open {
				prom.MarketState.Set(1)
			} else {
				prom.MarketState.Set(0)
			}
		}
		update()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				update()
			}
		}
	}()

	modeName := "Live (Alpaca)"
	if sim {
		modeName = "Sim (local feed)"
	}
	log.Println("[monitor] ╔══════════════════════════════════════════════════════════╗")
	log.Println("[monitor] ║  RSI Divergence Monitor                                  ║")
	log.Println("[monitor] ║                                                          ║")
	log.Println("[monitor] ║  [Stream] → [Agg] → [Indicators] → [Detect] → [Alerts]   ║")
	log.Printf("[monitor] ║  Mode: %-49s ║\n", modeName)
	log.Printf("[monitor] ║  Symbols: %-46v ║\n", symbols)
	log.Printf("[monitor] ║  Timeframe: %-44s ║\n", model.FormatTF(tf))
	log.Println("[monitor] ╚══════════════════════════════════════════════════════════╝")
	log.Printf("[monitor] %s", markethours.StatusString(time.Now()))

	if err := m.RunLive(ctx, nil, barCh); err != nil {
		log.Printf("[monitor] pipeline error: %v", err)
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsSrv.Stop(shutdownCtx)
	}
	log.Println("[monitor] shutdown complete.")
}

// publisherOrNil avoids handing the controller a non-nil interface
// wrapping a nil pointer.
func publisherOrNil(p *redisstore.Publisher) model.Publisher {
	if p == nil {
		return nil
	}
	return p
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
