// Copyright (c) 2024, 0x0BSoD. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/0x0BSoD/chess-bot/internal/config"
	"github.com/0x0BSoD/chess-bot/internal/discord"
	"github.com/0x0BSoD/chess-bot/internal/fetcher"
	"github.com/0x0BSoD/chess-bot/internal/health"
	"github.com/0x0BSoD/chess-bot/internal/logging"
	"github.com/0x0BSoD/chess-bot/internal/notifier"
	"github.com/0x0BSoD/chess-bot/internal/reporter"
	"github.com/0x0BSoD/chess-bot/internal/source"
	"github.com/0x0BSoD/chess-bot/internal/starboard"
	"github.com/0x0BSoD/chess-bot/internal/storage"
	"github.com/0x0BSoD/chess-bot/internal/summary"
)

func main() {
	if err := run(); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Get()
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel)

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return err
	}

	var (
		feedStorage      = storage.NewFeedStorage(db)
		starboardStorage = storage.NewStarboardStorage(db)
		discordNotifier  = notifier.New(discord.NewTransport(session))
		adminReporter    = newReporter(cfg)
	)

	fetcherOpts := []fetcher.Option{
		fetcher.WithSkipBacklog(cfg.AnnouncementSkipBacklog),
		fetcher.WithReporter(adminReporter),
	}
	if s := newSummarizer(cfg); s != nil {
		fetcherOpts = append(fetcherOpts, fetcher.WithSummarizer(s))
	}
	if cfg.AnnouncementFetchLinked {
		fetcherOpts = append(fetcherOpts, fetcher.WithExtractor(source.NewExtractor(&http.Client{Timeout: cfg.FetchTimeout})))
	}

	feedFetcher := fetcher.New(
		feedStorage,
		source.New(cfg.FeedParser, cfg.FetchTimeout),
		discordNotifier,
		cfg.Feeds(),
		cfg.CheckInterval(),
		fetcherOpts...,
	)

	engine := starboard.New(
		starboardStorage,
		starboard.NewNotifierPublisher(discordNotifier, discord.NewLookup(session), cfg.StarboardChannelID, cfg.StarboardEmoji),
		starboard.Config{
			Requirement: cfg.ReactionRequirement,
			GuildID:     cfg.GuildID,
			Emoji:       cfg.StarboardEmoji,
			UpdatePosts: cfg.StarboardUpdatePosts,
			MaxAge:      cfg.StarboardMaxAge,
		},
		starboard.WithReporter(adminReporter),
	)

	discord.NewGateway(session, engine).Register()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func(ctx context.Context) {
		if err := engine.Run(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("failed to run starboard engine", "err", err)
				return
			}

			slog.Info("starboard engine stopped")
		}
	}(ctx)

	if err := session.Open(); err != nil {
		return err
	}
	defer session.Close()

	if len(cfg.Feeds()) > 0 {
		go func(ctx context.Context) {
			if err := feedFetcher.Start(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Error("failed to run fetcher", "err", err)
					return
				}

				slog.Info("fetcher stopped")
			}
		}(ctx)
	} else {
		slog.Info("no announcement feeds configured")
	}

	if cfg.HealthAddr != "" {
		go func(ctx context.Context) {
			if err := health.New(cfg.HealthAddr, feedStorage).Start(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Error("failed to run health server", "err", err)
					return
				}

				slog.Info("health server stopped")
			}
		}(ctx)
	}

	slog.Info("chess-bot started", "feeds", len(cfg.Feeds()), "requirement", cfg.ReactionRequirement)
	<-ctx.Done()
	slog.Info("shutting down")

	return nil
}

func newReporter(cfg config.Config) *reporter.Reporter {
	if cfg.TelegramBotToken == "" {
		return nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		slog.Error("failed to create telegram bot, admin alerts disabled", "err", err)
		return nil
	}

	return reporter.New(botAPI, cfg.TelegramAdminChatID)
}

func newSummarizer(cfg config.Config) fetcher.Summarizer {
	switch cfg.AIType {
	case "openai":
		slog.Info("using OpenAI-compatible summarizer", "model", cfg.AIModel)
		return summary.NewOpenAISummarizer(cfg.AIBaseURL, cfg.AIKey, cfg.AIPrompt, cfg.AIModel, cfg.AITimeout)
	case "ollama":
		slog.Info("using Ollama summarizer", "model", cfg.AIModel)
		return summary.NewOllamaSummarizer(cfg.AIBaseURL, cfg.AIPrompt, cfg.AIModel, cfg.AITimeout)
	default:
		return nil
	}
}
