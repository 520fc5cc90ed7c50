// Command client is a terminal chat client for a pairtalk server. It keeps
// one shared connection, joins the room for the configured pair, and renders
// the conversation as grouped messages with relative timestamp headers.
//
// Input is line-based:
//
//	/typing     simulate typing activity (throttled start, auto-stop)
//	/stop       explicitly stop typing
//	/history    fetch and render the conversation history
//	/quit       exit
//
// any other line is sent as a message.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"pairtalk/internal/client"
	"pairtalk/internal/conversation"
	"pairtalk/internal/projection"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerURL   string `envconfig:"CHAT_SERVER_URL" default:"ws://localhost:8080/ws"`
	HistoryURL  string `envconfig:"CHAT_HISTORY_URL" default:"http://localhost:8080"`
	UserID      int    `envconfig:"CHAT_USER_ID" default:"1"`
	RecipientID int    `envconfig:"CHAT_RECIPIENT_ID" default:"2"`
	DisplayName string `envconfig:"CHAT_DISPLAY_NAME" default:"me"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"warn"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	level := slog.LevelWarn
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store := conversation.NewStore()
	key := conversation.KeyFor(cfg.UserID, cfg.RecipientID)

	var mu sync.Mutex
	render := func() {
		mu.Lock()
		defer mu.Unlock()
		renderConversation(store.Get(key))
	}

	registry := client.NewRegistry(client.Handlers{
		OnMessageCreated: func(msg conversation.Message) {
			store.AppendMessage(msg)
			if msg.Key() == key {
				render()
			}
		},
		OnTypingStarted: func(_ int, displayName string) {
			color.Gray.Printf("%s is typing...\n", displayName)
		},
		OnTypingStopped: func(int) {},
		OnConnectionChange: func(connected bool) {
			if connected {
				color.Green.Println("[connected]")
			} else {
				color.Red.Println("[disconnected - retrying]")
			}
		},
	}, log)

	registry.Connect(cfg.ServerURL, cfg.UserID)
	defer registry.Disconnect()
	registry.JoinRoom(cfg.UserID, cfg.RecipientID)

	notifier := client.NewTypingNotifier(registry, cfg.UserID, cfg.DisplayName, log)
	notifier.SetTarget(cfg.RecipientID)
	defer notifier.Close()

	fetcher := client.NewHistoryFetcher(cfg.HistoryURL, store, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		fetcher.Fetch(ctx, cfg.UserID, cfg.RecipientID)
		render()
	}()

	color.Cyan.Printf(">>> chatting with user %d as %q (/quit to exit)\n", cfg.RecipientID, cfg.DisplayName)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit":
				return exitOK, nil
			case "/typing":
				notifier.SetTyping(true)
			case "/stop":
				notifier.SetTyping(false)
			case "/history":
				go func() {
					fetcher.Fetch(ctx, cfg.UserID, cfg.RecipientID)
					render()
				}()
			default:
				notifier.SetTyping(false)
				if err := registry.SendMessage(cfg.UserID, cfg.RecipientID, line); err != nil {
					color.Red.Printf("send failed: %v\n", err)
				}
			}
		}
	}
}

func renderConversation(messages []conversation.Message) {
	now := time.Now()
	for _, group := range projection.BuildGroups(messages) {
		if group.ShowTimestamp {
			header := projection.FormatTimestamp(group.Messages[0].CreatedAt, now)
			color.New(color.BgBlack, color.FgGreen).Println(header)
		}
		for _, msg := range group.Messages {
			if msg.SenderID == conversation.SystemUserID {
				color.Gray.Printf("  * %s\n", msg.Content)
				continue
			}
			color.New(color.FgCyan).Printf("  [%d] ", msg.SenderID)
			fmt.Println(msg.Content)
		}
	}
}
