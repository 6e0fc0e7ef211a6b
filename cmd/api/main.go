package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-registration-api/internal/application/background"
	"github.com/go-registration-api/internal/application/onboarding"
	"github.com/go-registration-api/internal/application/referral"
	"github.com/go-registration-api/internal/application/registration"
	"github.com/go-registration-api/internal/application/verification"
	"github.com/go-registration-api/internal/config"
	"github.com/go-registration-api/internal/domain"
	"github.com/go-registration-api/internal/infrastructure/captcha"
	"github.com/go-registration-api/internal/infrastructure/chain"
	"github.com/go-registration-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-registration-api/internal/infrastructure/jwt"
	"github.com/go-registration-api/internal/infrastructure/memory"
	redisinfra "github.com/go-registration-api/internal/infrastructure/redis"
	"github.com/go-registration-api/internal/infrastructure/smtp"
	"github.com/go-registration-api/internal/infrastructure/sns"
	"github.com/go-registration-api/internal/logging"
	transporthttp "github.com/go-registration-api/internal/transport/http"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// registrationStore is what every service needs from storage; both drivers satisfy it.
type registrationStore interface {
	Create(ctx context.Context, reg *domain.Registration) error
	Get(ctx context.Context, contactKey string) (*domain.Registration, error)
	FindByPlain(ctx context.Context, channel domain.Channel, plain string) (*domain.Registration, error)
	FindByUserID(ctx context.Context, userID string) (*domain.Registration, error)
	Update(ctx context.Context, contactKey string, u domain.Update) error
	Delete(ctx context.Context, contactKey string) error
}

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Info("no .env file found, reading from environment")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := logging.NewContext(context.Background(), logger)

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var locker interface {
		Lock(ctx context.Context, key string) (func(), error)
	} = redisinfra.NoopLocker{}
	if cfg.RedisURL != "" {
		client, err := redisinfra.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = client.Close() }()
		locker = redisinfra.NewLocker(client, cfg.LockTTL)
		logger.Info("contact lock enabled", zap.Duration("ttl", cfg.LockTTL))
	}

	// JWT provider (optional; authenticated routes answer 401 without it).
	var tokens *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		tokens = p
	} else {
		logger.Warn("JWT provider not available", zap.Error(err))
	}

	smsSender, err := sns.NewSender(ctx, cfg)
	if err != nil {
		return fmt.Errorf("sns: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.Chain.Timeout}
	chainClient := chain.NewClient(cfg.Chain, httpClient)
	pool := background.NewPool(cfg.Registration.BackgroundMaxInflight, logger)

	codes := verification.NewService(verification.ServiceDeps{
		SMS:             smsSender,
		Email:           smtp.NewMailer(cfg),
		Cooldown:        cfg.Registration.ResendCooldown,
		MaxResends:      cfg.Registration.MaxResends,
		SMSCodeLength:   cfg.Registration.SMSCodeLength,
		EmailCodeLength: cfg.Registration.EmailCodeLength,
	})
	referrals, err := referral.NewService(referral.ServiceDeps{
		Repo:         store,
		Chain:        chainClient,
		Tasks:        pool,
		Special:      cfg.Registration.SpecialReferrals,
		CacheSize:    cfg.Registration.ReferralCacheSize,
		BonusEnabled: cfg.Registration.ReferralBonusEnabled,
		BonusAmount:  cfg.Registration.ReferralBonusAmount,
	})
	if err != nil {
		return fmt.Errorf("referral service: %w", err)
	}

	toggle := registration.NewSwitch(cfg.Registration.EnabledOnStart)
	registrations := registration.NewService(registration.ServiceDeps{
		Repo:             store,
		Chain:            chainClient,
		Captcha:          captcha.NewVerifier(cfg.Captcha, &http.Client{Timeout: 10 * time.Second}),
		Codes:            codes,
		Referrals:        referrals,
		Locker:           locker,
		Switch:           toggle,
		Logger:           logger,
		TestingPassHash:  cfg.Registration.TestingPassHash,
		IdentityKeyHash:  cfg.Registration.IdentitySecureKeyHash,
		ReferralRequired: cfg.Registration.ReferralRequired,
	})
	rewards := onboarding.NewService(onboarding.ServiceDeps{
		Repo:        store,
		Chain:       chainClient,
		Tasks:       pool,
		Communities: cfg.Registration.OnboardingCommunities,
		Amount:      cfg.Registration.OnboardingRewardAmount,
	})

	deps := &transporthttp.Deps{
		Registration: registrations,
		Referrals:    referrals,
		Onboarding:   rewards,
		Switch:       toggle,
		Logger:       logger,
	}
	if tokens != nil {
		deps.Tokens = tokens
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.AppPort),
			zap.String("env", cfg.AppEnv),
			zap.String("storage", cfg.StorageDriver),
			zap.Bool("registration_enabled", toggle.Enabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	if err := pool.Wait(shutdownCtx); err != nil {
		logger.Warn("background tasks still running at exit", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (registrationStore, error) {
	switch cfg.StorageDriver {
	case "memory":
		logger.Warn("using in-memory registration store; data is lost on restart")
		return memory.NewRegistrationStore(), nil
	case "dynamo":
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("dynamo: %w", err)
		}
		// Bootstrap creates the registrations table if it doesn't exist.
		if err := dynamo.Bootstrap(ctx, client, cfg.RegistrationsTable, logger); err != nil {
			return nil, fmt.Errorf("bootstrap dynamo: %w", err)
		}
		return dynamo.NewRegistrationRepo(client, cfg.RegistrationsTable), nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}
