package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moltlabs/curveagent/internal/ai/openai"
	"github.com/moltlabs/curveagent/internal/chain"
	"github.com/moltlabs/curveagent/internal/configs"
	"github.com/moltlabs/curveagent/internal/data/storage"
	"github.com/moltlabs/curveagent/internal/engine"
	"github.com/moltlabs/curveagent/internal/market"
	"github.com/moltlabs/curveagent/internal/pulse"
	"github.com/moltlabs/curveagent/internal/scanner"
	"github.com/moltlabs/curveagent/internal/trading"
)

var (
	flagconf string

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	}))
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.json", "config path, eg: -conf config.json")
}

func main() {
	flag.Parse()

	config := &configs.Config{}
	configFile, err := os.ReadFile(flagconf)
	if err != nil {
		log.Error("Error reading config file", "err", err)
		return
	}
	if err := json.Unmarshal(configFile, config); err != nil {
		log.Error("Error parsing config file", "err", err)
		return
	}

	// Refuse to start half-configured: an agent without a wallet key or an
	// advisor key would burn API budget doing nothing useful.
	client, err := chain.Dial(config.Chain, log)
	if err != nil {
		log.Error("Error connecting to chain", "err", err)
		return
	}
	log.Debug("init chain client", "curve", config.Chain.CurveAddress)

	storager, err := storage.NewPostgresStorage(config.Database.ConnStr)
	if err != nil {
		log.Error("Error creating storage", "err", err)
		return
	}
	log.Debug("init storager")

	advisor, err := openai.NewAdvisor(config.AIConfig)
	if err != nil {
		log.Error("Error creating advisor", "err", err)
		return
	}
	log.Debug("init advisor", "model", config.AIConfig.ModelType)

	gateway := market.NewGateway(config.MarketAPI, log)
	hub := pulse.NewHub(config.Pulse.Buffer, log)

	cooldowns := trading.NewCooldownRegistry(configs.Duration(config.TradingConfig.Cooldown, 30*time.Minute))
	executor := trading.NewExecutor(client, storager, cooldowns, hub, config.TradingConfig, log)

	evaluator := scanner.NewEvaluator(storager, client, gateway, hub, log)
	tokenScanner := scanner.NewScanner(client, storager, gateway, evaluator, hub, config.Chain, log)

	detector := engine.NewTriggerDetector(
		storager,
		cooldowns,
		config.TradingConfig.StopLossPercent,
		config.TradingConfig.TakeProfitPercent,
		config.TradingConfig.HighScoreThreshold,
		log,
	)

	system := engine.New(config, storager, client, gateway, advisor, executor, tokenScanner, detector, hub, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	if config.Pulse.Addr != "" {
		go servePulse(ctx, config.Pulse.Addr, hub)
	}

	if err := system.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("System error", "err", err)
	}
}

// servePulse exposes the live event feed over websocket until ctx ends.
func servePulse(ctx context.Context, addr string, hub *pulse.Hub) {
	mux := http.NewServeMux()
	mux.Handle("/pulse", hub)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("pulse feed listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("pulse server error", "err", err)
	}
}
