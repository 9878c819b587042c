package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/digkill/AssistantHub/internal/api"
	"github.com/digkill/AssistantHub/internal/auth"
	"github.com/digkill/AssistantHub/internal/config"
	"github.com/digkill/AssistantHub/internal/database"
	"github.com/digkill/AssistantHub/internal/drm"
	"github.com/digkill/AssistantHub/internal/n8n"
	"github.com/digkill/AssistantHub/internal/notify"
	"github.com/digkill/AssistantHub/internal/pricing"
	"github.com/digkill/AssistantHub/internal/repository"
	"github.com/digkill/AssistantHub/internal/service"
	"github.com/digkill/AssistantHub/internal/storage"
	"github.com/digkill/AssistantHub/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	prices, err := pricing.Load(cfg.PricingFile)
	if err != nil {
		log.Fatalf("pricing: %v", err)
	}

	notifier, err := notify.New(cfg, logr)
	if err != nil {
		log.Fatalf("telegram notifier: %v", err)
	}
	defer notifier.Close()

	var mirror service.ImageMirror
	if cfg.MirrorEnabled() {
		uploader, err := storage.NewUploader(storage.ConfigFrom(cfg))
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		mirror = uploader
	} else {
		logr.Warn("S3 mirror disabled, generated image URLs are stored as returned")
	}

	workflows := n8n.NewClient(cfg, logr)
	if !workflows.ChatEnabled() {
		logr.Warn("chat workflow not configured, replies will echo")
	}

	accountRepo := repository.NewAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	eventRepo := repository.NewWebhookEventRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	threadRepo := repository.NewThreadRepository(db)
	imageRepo := repository.NewImageRepository(db)

	accountService := service.NewAccountService(logr, accountRepo, ledgerRepo, usageRepo)
	webhookService := service.NewWebhookService(cfg, logr, accountService, ledgerRepo, eventRepo, prices, notifier)
	couponService := service.NewCouponService(logr, ledgerRepo, couponRepo, notifier, cfg.TrialCreditsPerMonth)
	projectService := service.NewProjectService(projectRepo)
	chatService := service.NewChatService(logr, projectService, threadRepo, ledgerRepo, usageRepo, workflows, prices, cfg.ChatDebitEnabled)
	imageService := service.NewImageService(logr, projectService, ledgerRepo, usageRepo, imageRepo, workflows, mirror, prices)

	server := api.NewServer(cfg, logr, auth.NewTokenManager(cfg.AuthJWTSecret), api.Services{
		Accounts: accountService,
		Webhooks: webhookService,
		Coupons:  couponService,
		Projects: projectService,
		Chat:     chatService,
		Images:   imageService,
		Videos:   drm.NewClient(cfg, logr),
	})

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("http server stopped", "err", err)
	}
}
