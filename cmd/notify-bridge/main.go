package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/medivoyage/backend/internal/config"
	"github.com/medivoyage/backend/internal/db"
	"github.com/medivoyage/backend/internal/events"
	"github.com/medivoyage/backend/internal/services"
	"go.uber.org/zap"
)

// Notify bridge. Small standalone service that subscribes to escrow events
// on Redis and forwards them to the notification service.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	notify := services.NewNotifyClient(cfg.NotifyInternalURL, log)

	log.Info("notify-bridge started")

	_ = subscriber.Subscribe(ctx, events.StreamEscrow, func(event events.Event) {
		log.Info("forwarding event", zap.String("type", event.Type))
		notify.Send(ctx, event.Type, event.Payload)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
