// Command tradeagent runs the automated A-share trading agent: scheduled
// daily routines, a polled price monitor, and a read-only status API.
//
// With one of the routine flags set it runs that routine once and exits;
// otherwise it starts the scheduler and blocks until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"tradeagent/internal/analysis"
	"tradeagent/internal/config"
	"tradeagent/internal/httpapi"
	"tradeagent/internal/monitor"
	"tradeagent/internal/news"
	"tradeagent/internal/notify"
	"tradeagent/internal/quote"
	"tradeagent/internal/risk"
	"tradeagent/internal/routine"
	"tradeagent/internal/store"
	"tradeagent/internal/trader"
	"tradeagent/internal/util"
)

func main() {
	var (
		cfgPath   = flag.String("config", "config/agent.yaml", "path to config file")
		preMarket = flag.Bool("pre-market", false, "run the pre-market routine once and exit")
		midday    = flag.Bool("midday", false, "run the midday routine once and exit")
		preClose  = flag.Bool("pre-close", false, "run the pre-close routine once and exit")
		sync      = flag.Bool("sync", false, "run the data sync once and exit")
		testMode  = flag.Bool("test", false, "send notifications even when nothing happened")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.EnsureAccount(ctx, cfg.Trading.InitialCash); err != nil {
		log.Fatalf("failed to seed account: %v", err)
	}

	bars := store.NewParquetBarStore(cfg.Storage.DataDir)
	quotes := quote.NewHTTPClient(cfg.Quote.BaseURL, cfg.Quote.Token,
		time.Duration(cfg.Quote.TimeoutSec)*time.Second, cfg.Quote.RateLimitPerMin, logger)
	chat := analysis.NewHTTPChatClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSec)*time.Second, logger)
	analyst := analysis.NewAnalyst(chat, logger)
	decider := analysis.NewDecisionMaker(chat, logger)
	notifier := notify.NewDingTalk(cfg.DingTalk.AccessToken, cfg.DingTalk.Secret, logger)
	fetcher := news.NewFetcher(logger)
	gate := risk.NewGate(cfg.Trading.MaxPositionPct, cfg.Trading.MaxBuyCount, logger)
	tr := trader.New(st, logger)
	cal := util.NewTradingCalendar()
	monSvc := monitor.New(st, st, quotes, analyst, gate, tr, notifier, logger)

	routines := routine.New(routine.Options{
		Watchlist:        cfg.Watchlist,
		EnableAutoMining: cfg.Settings.EnableAutoMining,
		ScanLimit:        cfg.Settings.ScanLimit,
		NewsLimit:        cfg.Settings.NewsLimit,
		TestMode:         *testMode,
	}, st, bars, quotes, fetcher, analyst, decider, gate, tr, monSvc, notifier, cal, logger)

	// One-shot mode.
	if *preMarket || *midday || *preClose || *sync {
		if *preMarket {
			runOnce(ctx, "pre-market", routines.PreMarket)
		}
		if *midday {
			runOnce(ctx, "midday", routines.Midday)
		}
		if *preClose {
			runOnce(ctx, "pre-close", routines.PreClose)
		}
		if *sync {
			runOnce(ctx, "sync", routines.DataSync)
		}
		return
	}

	// Status API.
	api := httpapi.NewServer(st, st, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}
	go func() {
		logger.Info("status api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status api failed", "err", err)
		}
	}()

	// Daily routines on a weekday cron, market timezone.
	sched := cron.New(cron.WithLocation(cal.Now().Location()))
	jobs := []struct {
		name string
		at   string
		fn   func(context.Context) error
	}{
		{"pre-market", cfg.Schedule.PreMarket, routines.PreMarket},
		{"midday", cfg.Schedule.Midday, routines.Midday},
		{"pre-close", cfg.Schedule.PreClose, routines.PreClose},
		{"data-sync", cfg.Schedule.DataSync, routines.DataSync},
	}
	for _, j := range jobs {
		spec, err := weekdayCronSpec(j.at)
		if err != nil {
			log.Fatalf("invalid schedule for %s: %v", j.name, err)
		}
		name, fn := j.name, j.fn
		if _, err := sched.AddFunc(spec, func() {
			if err := fn(ctx); err != nil {
				logger.Error("routine failed", "routine", name, "err", err)
			}
		}); err != nil {
			log.Fatalf("scheduling %s: %v", j.name, err)
		}
		logger.Info("routine scheduled", "routine", j.name, "at", j.at)
	}
	sched.Start()
	defer sched.Stop()

	// Price monitor poll, only inside trading sessions.
	interval := time.Duration(cfg.Monitor.IntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("agent running", "monitor_interval", interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("status api shutdown", "err", err)
			}
			return
		case <-ticker.C:
			if !cal.InSession(time.Now()) {
				continue
			}
			if err := monSvc.RunCheck(ctx); err != nil {
				logger.Error("monitor cycle failed", "err", err)
			}
		}
	}
}

func runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		log.Printf("%s failed: %v", name, err)
		os.Exit(1)
	}
	log.Printf("%s finished", name)
}

// weekdayCronSpec converts "HH:MM" to a Mon-Fri cron expression.
func weekdayCronSpec(at string) (string, error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("want HH:MM, got %q", at)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("bad hour in %q", at)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("bad minute in %q", at)
	}
	return fmt.Sprintf("%d %d * * 1-5", minute, hour), nil
}
