package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ShaileshJadav2732/chatsync"
	"github.com/ShaileshJadav2732/chatsync/apperrors"
	"github.com/ShaileshJadav2732/chatsync/channel"
	"github.com/ShaileshJadav2732/chatsync/conversations"
	"github.com/ShaileshJadav2732/chatsync/internal/config"
	"github.com/ShaileshJadav2732/chatsync/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CHATSYNC_CONFIG")
	if cfgPath == "" {
		cfgPath = "chatsync.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(logger.Config{Development: cfg.Env != "production"})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()

	token := cfg.SessionToken
	if env := os.Getenv("CHATSYNC_SESSION_TOKEN"); env != "" {
		token = env
	}

	client, err := chatsync.New(chatsync.Config{
		ChannelURL:      cfg.Channel.URL,
		HistoryBaseURL:  cfg.API.BaseURL,
		SessionToken:    token,
		Logger:          zl,
		TypingIdle:      cfg.TypingIdle,
		RemoteTypingTTL: cfg.RemoteTypingTTL,
		PublishRate:     cfg.Channel.PublishRatePerSec,
		PageLimit:       cfg.PageLimit,
	})
	if err != nil {
		log.Fatalf("init client: %v", err)
	}
	defer client.Close()

	client.OnConnectionError(func(cerr *apperrors.ConnectionError) {
		zl.Warnw("connection error", "cause", cerr.Cause)
	})
	client.OnStateChange(func(s channel.State) {
		zl.Infow("channel state", "state", s.String())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.Connect(ctx)

	convs, _, err := client.ListConversations(ctx, conversations.Filter{}, 1)
	if err != nil {
		zl.Warnw("conversation list unavailable", "error", err)
	}
	for _, conv := range convs {
		other, _ := conversations.OtherParticipant(conv, client.Self().ID)
		zl.Infow("conversation",
			"id", conv.ID,
			"with", other.User.Name,
			"unread", client.UnreadFor(conv),
			"online", client.IsOnline(other.User.ID),
		)
	}
	if len(convs) > 0 {
		if err := client.OpenConversation(ctx, convs[0].ID); err != nil {
			zl.Warnw("open conversation failed", "error", err)
		} else {
			zl.Infow("conversation opened", "id", convs[0].ID, "messages", client.Stream.Len())
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	zl.Info("shutting down")
}
