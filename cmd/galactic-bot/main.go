package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"galactic/internal/bot"
	"galactic/internal/cache"
	"galactic/internal/config"
	"galactic/internal/db"
	"galactic/internal/ledger"
	"galactic/internal/market"
	"galactic/internal/names"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.RequireDiscord(); err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := ledger.NewPostgres(pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	priceCache, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("redis connect failed", "err", err)
		os.Exit(1)
	}
	defer priceCache.Close()

	engine := market.NewEngine(store, market.NewRandomWalk(nil), logger, market.Options{
		TickEvery:    cfg.TickEvery,
		StartingCash: cfg.StartingCash,
		SymbolMaxLen: cfg.SymbolMaxLen,
	})
	engine.OnPriceUpdate = func(symbol string, price float64) {
		priceCache.SetLatestPrice(ctx, symbol, price)
	}

	discord, err := bot.New(cfg.DiscordToken, cfg.GuildID, cfg.SystemChannelID, engine, logger)
	if err != nil {
		logger.Error("discord setup failed", "err", err)
		os.Exit(1)
	}
	if err := discord.Open(ctx); err != nil {
		logger.Error("discord open failed", "err", err)
		os.Exit(1)
	}
	defer discord.Close()

	members, err := discord.ListMembers(ctx)
	if err != nil {
		logger.Error("member listing failed", "err", err)
		os.Exit(1)
	}
	companies, err := names.Load(cfg.NamesFile)
	if err != nil {
		logger.Error("company names load failed", "file", cfg.NamesFile, "err", err)
		os.Exit(1)
	}
	if err := engine.Initialize(ctx, members, companies); err != nil {
		logger.Error("game init failed", "err", err)
		os.Exit(1)
	}

	logger.Info("galactic bot running", "guild_id", cfg.GuildID, "tick_every", cfg.TickEvery.String())
	if err := engine.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("price loop failed", "err", err)
		os.Exit(1)
	}
	logger.Info("galactic bot shutdown")
}
