package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/curalink/scheduling/internal/appointment"
	"github.com/curalink/scheduling/internal/config"
	"github.com/curalink/scheduling/internal/db"
	"github.com/curalink/scheduling/internal/event"
	"github.com/curalink/scheduling/internal/expiry"
	"github.com/curalink/scheduling/internal/payment"
	"github.com/curalink/scheduling/internal/prescription"
	"github.com/curalink/scheduling/internal/referral"
	redisclient "github.com/curalink/scheduling/internal/redis"
	"github.com/curalink/scheduling/internal/slot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config load error")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "expiry-worker").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	events := event.NewRecorder(event.NewPgRepository(pgPool), logger)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	slots := slot.NewStore(slot.NewPgRepository(pgPool), locker, logger)

	// The worker never initiates payments; expiring a PENDING_PAYMENT
	// appointment only releases its hold.
	gateway := payment.NewFakeGateway()

	appts := appointment.NewService(appointment.NewPgRepository(pgPool), slots, gateway, events, appointment.Policy{
		MinLeadTime:        cfg.MinLeadTime,
		HoldTTL:            cfg.HoldTTL,
		ConsultationAmount: cfg.ConsultationAmount,
		PaymentTimeout:     cfg.PaymentTimeout,
	}, logger)

	refs := referral.NewService(referral.NewPgRepository(pgPool), slots, appts, events, referral.Policy{
		AllowedMode: slot.ConsultationMode(cfg.ReferralMode),
		Validity:    cfg.ReferralValidity,
	}, logger)

	rx := prescription.NewService(prescription.NewPgRepository(pgPool), events, cfg.PrescriptionValidity, logger)

	scanner := expiry.NewScanner(slots, appts, refs, rx, logger)

	runOnce(rootCtx, scanner, logger)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, scanner, logger)
		}
	}
}

func runOnce(ctx context.Context, scanner *expiry.Scanner, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	scanner.Sweep(runCtx)
	logger.Debug().Dur("took", time.Since(start)).Msg("sweep pass finished")
}
