package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pairtalk/internal/conversation"
	"pairtalk/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	store := conversation.NewStore()
	hub := server.NewHub(log)
	broadcaster := server.NewBroadcaster(store, hub, log)
	typing := server.NewTypingCoordinator(hub, cfg.TypingTimeout, log)
	router := server.NewRouter(hub, broadcaster, typing, log)
	handler := server.NewHandler(hub, router, broadcaster, cfg, log)

	go hub.Run()
	log.Info("hub started")

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(handler))
	go func() {
		if err := server.StartServer(httpServer, log); !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")
	_ = server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log)
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("hub shutdown incomplete", "error", err)
	}
}
