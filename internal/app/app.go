package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"formbridge/internal/challenge"
	"formbridge/internal/config"
	"formbridge/internal/db"
	"formbridge/internal/dispatch"
	"formbridge/internal/forms"
	"formbridge/internal/hashid"
	"formbridge/internal/kv"
	"formbridge/internal/mailer"
	"formbridge/internal/metrics"
	"formbridge/internal/plugins"
	"formbridge/internal/quota"
	"formbridge/internal/render"
	"formbridge/internal/server"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Formbridge")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	store, err := kv.NewRedisStore(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize key-value store: %w", err)
	}

	codec, err := hashid.NewCodec(cfg.Service.HashidsSalt)
	if err != nil {
		return fmt.Errorf("failed to initialize hashid codec: %w", err)
	}

	renderer, err := render.NewTemplateRenderer()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	m := metrics.NewMetrics()
	sender := mailer.NewHTTPSender(cfg.Mail)
	nonces := challenge.NewNonceStore(store)
	gate := challenge.NewGate(challenge.NewHTTPVerifier(cfg.Captcha),
		cfg.Service.AjaxDisableSequence, false)
	ledger := quota.NewLedger(store, cfg.Service.MonthlyLimit,
		cfg.Service.GrandfatherMonthlyLimit, cfg.Service.LimitDecreaseSequence)

	formsSvc := forms.NewService(dbConn, cfg, codec, nonces, sender, renderer, nil, m)

	dispatcher := plugins.NewDispatcher(dbConn, cfg, store, sender, renderer, formsSvc, m)
	webhook := plugins.NewWebhookAdapter(store, formsSvc)
	manager := plugins.NewManager(dbConn, store, webhook)

	processor := dispatch.NewProcessor(dbConn, cfg, formsSvc, ledger, dispatcher,
		manager, sender, renderer, m)
	worker := dispatch.NewWorker(processor, m, cfg.Worker.Concurrency, cfg.Worker.QueueSize)
	formsSvc.SetQueue(worker)
	worker.Start()

	sweeper := dispatch.NewSweeper(dbConn, worker, cfg.Worker.SweepSpec,
		time.Duration(cfg.Worker.SweepMaxAgeM)*time.Minute)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	h := server.NewHandlers(dbConn, cfg, store, formsSvc, gate, nonces, renderer, manager, ledger)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}
	sweeper.Stop()
	worker.Stop()

	logrus.Info("Server stopped gracefully")
	return nil
}
