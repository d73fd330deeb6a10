package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/curalink/scheduling/internal/api"
	"github.com/curalink/scheduling/internal/appointment"
	"github.com/curalink/scheduling/internal/config"
	"github.com/curalink/scheduling/internal/db"
	"github.com/curalink/scheduling/internal/delivery"
	"github.com/curalink/scheduling/internal/event"
	"github.com/curalink/scheduling/internal/payment"
	"github.com/curalink/scheduling/internal/prescription"
	"github.com/curalink/scheduling/internal/referral"
	redisclient "github.com/curalink/scheduling/internal/redis"
	"github.com/curalink/scheduling/internal/slot"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config load error")
	}

	logger := newLogger(cfg.Env).With().Str("service", "api-server").Logger()
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

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

	var gateway payment.Gateway
	if cfg.StripeAPIKey != "" {
		gateway = payment.NewStripeGateway(cfg.StripeAPIKey)
		logger.Info().Msg("using Stripe payment gateway")
	} else {
		gateway = payment.NewFakeGateway()
		logger.Warn().Msg("STRIPE_API_KEY not set, using fake payment gateway")
	}

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

	dlv := delivery.NewService(delivery.NewPgRepository(pgPool), gateway, events, cfg.DeliveryAmount, cfg.PaymentTimeout, logger)

	appts.RegisterCompletionListener(refs)
	appts.RegisterCompletionListener(rx)
	rx.RegisterReadyListener(dlv)

	router := api.NewRouter(api.RouterConfig{
		Slots:         slots,
		Appointments:  appts,
		Referrals:     refs,
		Prescriptions: rx,
		Deliveries:    dlv,
		PgPool:        pgPool,
		Redis:         rdb,
		Env:           cfg.Env,
		Version:       version,
		Log:           logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Fatal().Err(err).Msg("http server error")
	case <-rootCtx.Done():
	}

	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
