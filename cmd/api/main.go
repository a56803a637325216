package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/MrJamesThe3rd/mpesa-gateway/internal/audit"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/config"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/database"
	gatewayHttp "github.com/MrJamesThe3rd/mpesa-gateway/internal/http"
	mpesaHandler "github.com/MrJamesThe3rd/mpesa-gateway/internal/http/mpesa"
	paymentHandler "github.com/MrJamesThe3rd/mpesa-gateway/internal/http/payment"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/ident"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/mpesa"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/payment"
	paymentStore "github.com/MrJamesThe3rd/mpesa-gateway/internal/payment/store"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/validation"
	"github.com/MrJamesThe3rd/mpesa-gateway/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})).
		With("app", cfg.App.Name)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	baseURL, err := mpesa.Environment(cfg.Mpesa.Env).BaseURL()
	if err != nil {
		return err
	}

	client := mpesa.NewClient(mpesa.Config{
		BaseURL:          baseURL,
		ConsumerKey:      cfg.Mpesa.ConsumerKey,
		ConsumerSecret:   cfg.Mpesa.ConsumerSecret,
		Shortcode:        cfg.Mpesa.Shortcode,
		Passkey:          cfg.Mpesa.Passkey,
		CallbackURL:      cfg.Mpesa.CallbackURL,
		AccountReference: cfg.Mpesa.AccountReference,
		TransactionDesc:  cfg.Mpesa.TransactionDesc,
		Timeout:          cfg.Mpesa.Timeout,
	})

	validator, err := validation.New(validation.Profile(cfg.Payment.ValidationProfile))
	if err != nil {
		return err
	}

	pool := worker.NewPool(cfg.Worker.Count, cfg.Worker.Queue, logger)

	paymentService, err := payment.NewService(repo, client, pool, payment.Options{
		Mode:            payment.Mode(cfg.Payment.Mode),
		DemoDelay:       cfg.Payment.DemoDelay,
		RejectPolicy:    payment.RejectPolicy(cfg.Payment.RejectPolicy),
		ReferencePrefix: cfg.Payment.ReferencePrefix,
		Description:     cfg.Mpesa.TransactionDesc,
		Validator:       validator,
		PushValidator:   validation.MustNew(validation.ProfileProvider),
		IDs:             ident.New(),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	var (
		recorder     audit.Recorder = audit.Nop{}
		mockRecorder audit.Recorder = audit.Nop{}
	)

	if cfg.Audit.Dir != "" {
		auditLog, err := audit.New(cfg.Audit.Dir, logger)
		if err != nil {
			return err
		}

		defer func() {
			if err := auditLog.Close(); err != nil {
				slog.Error("failed to close audit log", "error", err)
			}
		}()

		recorder = auditLog

		if cfg.Audit.MockRequests {
			mockRecorder = auditLog
		}
	}

	var (
		paymentH = paymentHandler.NewHandler(paymentService, mockRecorder)
		mpesaH   = mpesaHandler.NewHandler(paymentService, recorder, logger)
	)

	router := gatewayHttp.New(paymentH, mpesaH, gatewayHttp.Options{
		Timeout:        cfg.Server.Timeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		JWTSecret:      cfg.Auth.JWTSecret,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	errCh := make(chan error, 1)

	go func() {
		slog.Info("starting server",
			"port", srv.Addr,
			"mode", cfg.Payment.Mode,
			"store", cfg.Store.Driver,
			"mpesa_env", cfg.Mpesa.Env,
			"auth", cfg.Auth.JWTSecret != "",
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}

	if err := pool.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to drain background tasks", "error", err)
	}

	return nil
}

func openRepository(ctx context.Context, cfg *config.Config) (payment.Repository, func(), error) {
	if cfg.Store.Driver != "postgres" {
		return paymentStore.NewMemory(), func() {}, nil
	}

	db, err := database.New(ctx, cfg.ConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := paymentStore.Migrate(ctx, db); err != nil {
		closeDB(db)
		return nil, nil, fmt.Errorf("migrating database: %w", err)
	}

	return paymentStore.New(db), func() { closeDB(db) }, nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
}
