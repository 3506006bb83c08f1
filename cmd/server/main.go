package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/rutkowski-tomasz/emoji-gram/internal/api"
	"github.com/rutkowski-tomasz/emoji-gram/internal/auth"
	"github.com/rutkowski-tomasz/emoji-gram/internal/config"
	"github.com/rutkowski-tomasz/emoji-gram/internal/presence"
	"github.com/rutkowski-tomasz/emoji-gram/internal/relay"
	"github.com/rutkowski-tomasz/emoji-gram/internal/router"
	"github.com/rutkowski-tomasz/emoji-gram/internal/store"
	"github.com/rutkowski-tomasz/emoji-gram/internal/ws"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	verifier, err := auth.NewVerifier(cfg.IssuerURL)
	if err != nil {
		slog.Error("Failed to initialize JWKS", "issuer", cfg.IssuerURL, "error", err)
		os.Exit(1)
	}

	messages, err := store.Open(cfg.DSN)
	if err != nil {
		slog.Error("Failed to open message store", "dsn", cfg.DSN, "error", err)
		os.Exit(1)
	}

	var rly router.Relay
	if cfg.RedisURL != "" {
		publisher, err := relay.NewPublisher(context.Background(), cfg.RedisURL)
		if err != nil {
			slog.Error("Failed to connect to Redis relay", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		rly = publisher
	} else {
		slog.Info("No REDIS_URL configured, running as a single routing process")
		rly = relay.NopPublisher{}
	}

	directory := presence.NewDirectory()
	chatRouter := router.New(directory, messages, rly, logger)

	handler := api.NewHandler(verifier, chatRouter, ws.NewHandler(verifier, chatRouter))

	slog.Info("Chat server starting", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, handler.Routes()); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
