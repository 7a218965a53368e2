package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medivoyage/backend/internal/config"
	"github.com/medivoyage/backend/internal/db"
	"github.com/medivoyage/backend/internal/events"
	"github.com/medivoyage/backend/internal/repositories"
	"github.com/medivoyage/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	escrowRepo := repositories.NewEscrowRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	gateway := services.NewGatewayClient(cfg.GatewayInternalURL, cfg.GatewaySandbox)
	escrowService := services.NewEscrowService(pool, escrowRepo, txRepo, disputeRepo, auditRepo, gateway, publisher, cfg, log)

	log.Info("worker started")

	// Run jobs on tickers
	settlementTicker := time.NewTicker(cfg.SettlementPollInterval)
	autoReleaseTicker := time.NewTicker(cfg.AutoReleaseInterval)
	expiryTicker := time.NewTicker(cfg.ExpirySweepInterval)
	defer settlementTicker.Stop()
	defer autoReleaseTicker.Stop()
	defer expiryTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-settlementTicker.C:
			runSettlement(ctx, escrowService, log)
		case <-autoReleaseTicker.C:
			runAutoRelease(ctx, escrowService, log)
		case <-expiryTicker.C:
			runExpirySweep(ctx, escrowService, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runSettlement(ctx context.Context, svc *services.EscrowService, log *zap.Logger) {
	settled, err := svc.SettleProcessing(ctx, 100)
	if err != nil {
		log.Error("settlement sweep failed", zap.Error(err))
		return
	}
	if settled > 0 {
		log.Info("settled transactions", zap.Int("count", settled))
	}
}

func runAutoRelease(ctx context.Context, svc *services.EscrowService, log *zap.Logger) {
	released, err := svc.SweepAutoRelease(ctx, 100)
	if err != nil {
		log.Error("auto-release sweep failed", zap.Error(err))
		return
	}
	if released > 0 {
		log.Info("auto-released milestones", zap.Int("count", released))
	}
}

func runExpirySweep(ctx context.Context, svc *services.EscrowService, log *zap.Logger) {
	cancelled, err := svc.SweepExpired(ctx, 100)
	if err != nil {
		log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if cancelled > 0 {
		log.Info("cancelled expired escrows", zap.Int("count", cancelled))
	}
}
